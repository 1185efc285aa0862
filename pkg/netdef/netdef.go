// Package netdef is the in-memory form of a native graph: an ordered list of
// operations over named blobs plus the blobs the graph consumes and produces.
// On disk a net is a zmf.Model, binary or text.
package netdef

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zerfoo/zmf"
	"google.golang.org/protobuf/proto"
)

// DeviceType selects where an operation runs.
type DeviceType int32

const (
	CPU  DeviceType = 0
	CUDA DeviceType = 1
)

// DeviceOption places an operation on a device.
type DeviceOption struct {
	DeviceType DeviceType
	DeviceID   int32
}

// ParseDevice accepts "cpu", "cuda" and "cuda:N".
func ParseDevice(s string) (DeviceOption, error) {
	name, id, hasID := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	var d DeviceOption
	switch name {
	case "cpu":
		d.DeviceType = CPU
	case "cuda", "gpu":
		d.DeviceType = CUDA
	default:
		return d, fmt.Errorf("unknown device %q", s)
	}
	if hasID {
		n, err := strconv.ParseInt(id, 10, 32)
		if err != nil || n < 0 {
			return d, fmt.Errorf("invalid device id in %q", s)
		}
		d.DeviceID = int32(n)
	}
	return d, nil
}

func (d DeviceOption) String() string {
	if d.DeviceType == CUDA {
		return fmt.Sprintf("cuda:%d", d.DeviceID)
	}
	return "cpu"
}

// Arg is a named operation argument.
type Arg struct {
	Name  string
	Value *zmf.Attribute
}

func IntArg(name string, v int64) *Arg {
	return &Arg{Name: name, Value: &zmf.Attribute{Value: &zmf.Attribute_I{I: v}}}
}

func FloatArg(name string, v float32) *Arg {
	return &Arg{Name: name, Value: &zmf.Attribute{Value: &zmf.Attribute_F{F: v}}}
}

func StringArg(name, v string) *Arg {
	return &Arg{Name: name, Value: &zmf.Attribute{Value: &zmf.Attribute_S{S: v}}}
}

func IntsArg(name string, v []int64) *Arg {
	return &Arg{Name: name, Value: &zmf.Attribute{Value: &zmf.Attribute_Ints{Ints: &zmf.Ints{Val: slices.Clone(v)}}}}
}

func FloatsArg(name string, v []float32) *Arg {
	return &Arg{Name: name, Value: &zmf.Attribute{Value: &zmf.Attribute_Floats{Floats: &zmf.Floats{Val: slices.Clone(v)}}}}
}

func StringsArg(name string, v []string) *Arg {
	return &Arg{Name: name, Value: &zmf.Attribute{Value: &zmf.Attribute_Strings{Strings: &zmf.Strings{Val: slices.Clone(v)}}}}
}

// Op is one operation of a net.
type Op struct {
	Type    string
	Name    string
	Inputs  []string
	Outputs []string
	Args    []*Arg
	Device  *DeviceOption
}

// Arg returns the argument named name, or nil.
func (o *Op) Arg(name string) *Arg {
	for _, a := range o.Args {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// SetArg replaces the argument with the same name, or appends it.
func (o *Op) SetArg(a *Arg) {
	for i, old := range o.Args {
		if old.Name == a.Name {
			o.Args[i] = a
			return
		}
	}
	o.Args = append(o.Args, a)
}

// Clone returns a deep copy of o.
func (o *Op) Clone() *Op {
	c := &Op{
		Type:    o.Type,
		Name:    o.Name,
		Inputs:  slices.Clone(o.Inputs),
		Outputs: slices.Clone(o.Outputs),
	}
	for _, a := range o.Args {
		c.Args = append(c.Args, &Arg{Name: a.Name, Value: proto.Clone(a.Value).(*zmf.Attribute)})
	}
	if o.Device != nil {
		d := *o.Device
		c.Device = &d
	}
	return c
}

// Net is an ordered sequence of operations.
type Net struct {
	Name            string
	Ops             []*Op
	ExternalInputs  []string
	ExternalOutputs []string
}

// Clone returns a deep copy of n.
func (n *Net) Clone() *Net {
	c := &Net{
		Name:            n.Name,
		ExternalInputs:  slices.Clone(n.ExternalInputs),
		ExternalOutputs: slices.Clone(n.ExternalOutputs),
	}
	for _, op := range n.Ops {
		c.Ops = append(c.Ops, op.Clone())
	}
	return c
}

// Validate checks that every op input is either an external input of the
// net or the output of an earlier op. Empty names mark omitted optional
// inputs.
func (n *Net) Validate() error {
	known := make(map[string]bool, len(n.ExternalInputs))
	for _, name := range n.ExternalInputs {
		known[name] = true
	}
	for i, op := range n.Ops {
		for _, in := range op.Inputs {
			if in != "" && !known[in] {
				return fmt.Errorf("net %q: op %d (%s) reads undefined blob %q", n.Name, i, op.Type, in)
			}
		}
		for _, out := range op.Outputs {
			known[out] = true
		}
	}
	return nil
}

// Outputs returns the names produced by the ops of n, in first-write order.
func (n *Net) Outputs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range n.Ops {
		for _, o := range op.Outputs {
			if !seen[o] {
				seen[o] = true
				out = append(out, o)
			}
		}
	}
	return out
}
