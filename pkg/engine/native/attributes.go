package native

import (
	"fmt"

	"github.com/zerfoo/zmf"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/netdef"
)

// toArg converts an exchange attribute to a net argument. Tensor and graph
// attributes have no argument form.
func toArg(a *onnx.AttributeProto) (*netdef.Arg, error) {
	v := &zmf.Attribute{}
	switch a.Type {
	case onnx.AttributeFloat:
		v.Value = &zmf.Attribute_F{F: a.F}
	case onnx.AttributeInt:
		v.Value = &zmf.Attribute_I{I: a.I}
	case onnx.AttributeString:
		v.Value = &zmf.Attribute_S{S: string(a.S)}
	case onnx.AttributeFloats:
		v.Value = &zmf.Attribute_Floats{Floats: &zmf.Floats{Val: a.Floats}}
	case onnx.AttributeInts:
		v.Value = &zmf.Attribute_Ints{Ints: &zmf.Ints{Val: a.Ints}}
	case onnx.AttributeStrings:
		strs := make([]string, len(a.Strings))
		for i, s := range a.Strings {
			strs[i] = string(s)
		}
		v.Value = &zmf.Attribute_Strings{Strings: &zmf.Strings{Val: strs}}
	default:
		return nil, fmt.Errorf("attribute %q: unsupported attribute type %d", a.Name, a.Type)
	}
	return &netdef.Arg{Name: a.Name, Value: v}, nil
}

// toAttribute converts a net argument to an exchange attribute.
func toAttribute(a *netdef.Arg) (*onnx.AttributeProto, error) {
	out := &onnx.AttributeProto{Name: a.Name}
	switch v := a.Value.GetValue().(type) {
	case *zmf.Attribute_F:
		out.Type, out.F = onnx.AttributeFloat, v.F
	case *zmf.Attribute_I:
		out.Type, out.I = onnx.AttributeInt, v.I
	case *zmf.Attribute_S:
		out.Type, out.S = onnx.AttributeString, []byte(v.S)
	case *zmf.Attribute_Floats:
		out.Type, out.Floats = onnx.AttributeFloats, v.Floats.GetVal()
	case *zmf.Attribute_Ints:
		out.Type, out.Ints = onnx.AttributeInts, v.Ints.GetVal()
	case *zmf.Attribute_Strings:
		out.Type = onnx.AttributeStrings
		for _, s := range v.Strings.GetVal() {
			out.Strings = append(out.Strings, []byte(s))
		}
	default:
		return nil, fmt.Errorf("argument %q has no value", a.Name)
	}
	return out, nil
}
