package netdef

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zerfoo/zmf"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/zerfoo/siphon/pkg/dtype"
)

// ProducerName is written into the metadata of every serialized net.
const ProducerName = "siphon"

// deviceKey is the reserved attribute carrying an op's device as [type, id].
const deviceKey = "__device__"

var (
	// ErrDeserializationFailed is returned when bytes do not decode to a net.
	ErrDeserializationFailed = errors.New("failed to deserialize net")

	// ErrUnsupportedFormat is returned for file extensions other than
	// .pb, .pbtxt and .prototxt.
	ErrUnsupportedFormat = errors.New("unsupported net file format")
)

// ToModel converts n to its zmf form.
func ToModel(n *Net) *zmf.Model {
	g := &zmf.Graph{
		Nodes:   make([]*zmf.Node, 0, len(n.Ops)),
		Inputs:  valueInfos(n.ExternalInputs),
		Outputs: valueInfos(n.ExternalOutputs),
	}
	for _, op := range n.Ops {
		node := &zmf.Node{
			Name:       op.Name,
			OpType:     op.Type,
			Inputs:     slices.Clone(op.Inputs),
			Outputs:    slices.Clone(op.Outputs),
			Attributes: make(map[string]*zmf.Attribute, len(op.Args)),
		}
		for _, a := range op.Args {
			node.Attributes[a.Name] = a.Value
		}
		if op.Device != nil {
			node.Attributes[deviceKey] = &zmf.Attribute{Value: &zmf.Attribute_Ints{
				Ints: &zmf.Ints{Val: []int64{int64(op.Device.DeviceType), int64(op.Device.DeviceID)}},
			}}
		}
		g.Nodes = append(g.Nodes, node)
	}
	return &zmf.Model{
		Graph:    g,
		Metadata: &zmf.Metadata{ProducerName: ProducerName},
	}
}

func valueInfos(names []string) []*zmf.ValueInfo {
	infos := make([]*zmf.ValueInfo, len(names))
	for i, name := range names {
		infos[i] = &zmf.ValueInfo{Name: name}
	}
	return infos
}

// FromModel converts a zmf model to a net. Arguments are ordered by name.
// Graph parameters become literal-fill ops placed before the nodes.
func FromModel(m *zmf.Model) (*Net, error) {
	g := m.GetGraph()
	if g == nil {
		return nil, fmt.Errorf("%w: model graph is nil", ErrDeserializationFailed)
	}
	n := &Net{}
	for _, in := range g.GetInputs() {
		n.ExternalInputs = append(n.ExternalInputs, in.GetName())
	}
	for _, out := range g.GetOutputs() {
		n.ExternalOutputs = append(n.ExternalOutputs, out.GetName())
	}

	params := g.GetParameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		op, err := parameterOp(name, params[name])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeserializationFailed, err)
		}
		n.Ops = append(n.Ops, op)
	}

	for i, node := range g.GetNodes() {
		op := &Op{
			Type:    node.GetOpType(),
			Name:    node.GetName(),
			Inputs:  slices.Clone(node.GetInputs()),
			Outputs: slices.Clone(node.GetOutputs()),
		}
		if op.Type == "" {
			return nil, fmt.Errorf("%w: node %d has no op type", ErrDeserializationFailed, i)
		}
		attrs := node.GetAttributes()
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if k == deviceKey {
				d := attrs[k].GetInts().GetVal()
				if len(d) != 2 {
					return nil, fmt.Errorf("%w: node %d has malformed device %v", ErrDeserializationFailed, i, d)
				}
				op.Device = &DeviceOption{DeviceType: DeviceType(d[0]), DeviceID: int32(d[1])}
				continue
			}
			op.Args = append(op.Args, &Arg{Name: k, Value: attrs[k]})
		}
		n.Ops = append(n.Ops, op)
	}
	return n, nil
}

func parameterOp(name string, t *zmf.Tensor) (*Op, error) {
	l := Literal{Shape: slices.Clone(t.GetShape())}
	data := t.GetData()
	switch t.GetDtype() {
	case zmf.Tensor_FLOAT32:
		l.Type = dtype.Float
		for i := 0; i+4 <= len(data); i += 4 {
			l.Floats = append(l.Floats, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
		}
	case zmf.Tensor_FLOAT64:
		l.Type = dtype.Double
		for i := 0; i+8 <= len(data); i += 8 {
			l.Floats = append(l.Floats, float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i:]))))
		}
	case zmf.Tensor_INT32:
		l.Type = dtype.Int32
		for i := 0; i+4 <= len(data); i += 4 {
			l.Ints = append(l.Ints, int64(int32(binary.LittleEndian.Uint32(data[i:]))))
		}
	case zmf.Tensor_INT64:
		l.Type = dtype.Int64
		for i := 0; i+8 <= len(data); i += 8 {
			l.Ints = append(l.Ints, int64(binary.LittleEndian.Uint64(data[i:])))
		}
	default:
		return nil, fmt.Errorf("parameter %q: unsupported dtype %s", name, t.GetDtype())
	}
	op, err := NewLiteralFill(name, l)
	if err != nil {
		return nil, err
	}
	op.Name = name
	return op, nil
}

// Marshal encodes n as a binary zmf model. Output is deterministic.
func Marshal(n *Net) ([]byte, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(ToModel(n))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal net %q: %w", n.Name, err)
	}
	return data, nil
}

// Unmarshal decodes a binary zmf model.
func Unmarshal(data []byte) (*Net, error) {
	m := &zmf.Model{}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserializationFailed, err)
	}
	return FromModel(m)
}

// MarshalText encodes n as a text zmf model.
func MarshalText(n *Net) ([]byte, error) {
	data, err := prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(ToModel(n))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal net %q: %w", n.Name, err)
	}
	return data, nil
}

// UnmarshalText decodes a text zmf model.
func UnmarshalText(data []byte) (*Net, error) {
	m := &zmf.Model{}
	if err := prototext.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserializationFailed, err)
	}
	return FromModel(m)
}

// DebugString renders n in text form for logs and before/after comparisons.
func DebugString(n *Net) string {
	return prototext.MarshalOptions{Multiline: true, Indent: "  "}.Format(ToModel(n))
}

// IsText reports whether path names a text net file.
func IsText(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pbtxt", ".prototxt":
		return true
	}
	return false
}

// ReadFile loads a net, choosing the encoding by extension. The net is named
// after the file stem.
func ReadFile(path string) (*Net, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read net: %w", err)
	}
	var n *Net
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pb":
		n, err = Unmarshal(data)
	case ".pbtxt", ".prototxt":
		n, err = UnmarshalText(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	n.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return n, nil
}

// WriteFile stores n, choosing the encoding by extension.
func WriteFile(n *Net, path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pb":
		data, err = Marshal(n)
	case ".pbtxt", ".prototxt":
		data, err = MarshalText(n)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write net %s: %w", path, err)
	}
	return nil
}
