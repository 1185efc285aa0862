package netdef

import (
	"fmt"

	"github.com/zerfoo/siphon/pkg/dtype"
)

// ConstantFill is the op type that computes a constant at run time.
const ConstantFill = "ConstantFill"

var literalOps = map[dtype.DataType]string{
	dtype.Float:  "GivenTensorFill",
	dtype.Int32:  "GivenTensorIntFill",
	dtype.Int64:  "GivenTensorInt64Fill",
	dtype.Double: "GivenTensorDoubleFill",
}

// LiteralOpType returns the literal-fill op type for an element type.
func LiteralOpType(t dtype.DataType) (string, bool) {
	name, ok := literalOps[t]
	return name, ok
}

// IsLiteralFill reports whether opType embeds its values as arguments.
func IsLiteralFill(opType string) bool {
	for _, name := range literalOps {
		if name == opType {
			return true
		}
	}
	return false
}

// Literal is the content of a literal-fill op. Floating point values live in
// Floats, integer values in Ints.
type Literal struct {
	Type   dtype.DataType
	Shape  []int64
	Floats []float32
	Ints   []int64
}

// Len returns the number of values held.
func (l Literal) Len() int {
	if l.Type == dtype.Float || l.Type == dtype.Double {
		return len(l.Floats)
	}
	return len(l.Ints)
}

// NewLiteralFill builds the literal-fill op writing l to output.
func NewLiteralFill(output string, l Literal) (*Op, error) {
	opType, ok := LiteralOpType(l.Type)
	if !ok {
		return nil, fmt.Errorf("no literal fill for element type %s", l.Type)
	}
	op := &Op{
		Type:    opType,
		Outputs: []string{output},
		Args: []*Arg{
			IntArg("dtype", int64(l.Type)),
			IntsArg("shape", l.Shape),
		},
	}
	if l.Type == dtype.Float || l.Type == dtype.Double {
		op.Args = append(op.Args, FloatsArg("values", l.Floats))
	} else {
		op.Args = append(op.Args, IntsArg("values", l.Ints))
	}
	return op, nil
}

// ReadLiteral extracts the content of a literal-fill op. A missing shape
// argument means a 1-D tensor of all values.
func ReadLiteral(op *Op) (Literal, error) {
	var l Literal
	for t, name := range literalOps {
		if name == op.Type {
			l.Type = t
		}
	}
	if l.Type == dtype.Undefined {
		return l, fmt.Errorf("op %q of type %s is not a literal fill", op.Name, op.Type)
	}
	values := op.Arg("values")
	if values == nil {
		return l, fmt.Errorf("op %s: missing values argument", op.Type)
	}
	if l.Type == dtype.Float || l.Type == dtype.Double {
		l.Floats = values.Value.GetFloats().GetVal()
	} else {
		l.Ints = values.Value.GetInts().GetVal()
	}
	if shape := op.Arg("shape"); shape != nil {
		l.Shape = shape.Value.GetInts().GetVal()
	} else {
		l.Shape = []int64{int64(l.Len())}
	}
	n := int64(1)
	for _, d := range l.Shape {
		n *= d
	}
	if n != int64(l.Len()) {
		return l, fmt.Errorf("op %s: shape %v holds %d values, got %d", op.Type, l.Shape, n, l.Len())
	}
	return l, nil
}
