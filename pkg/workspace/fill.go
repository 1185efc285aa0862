package workspace

import (
	"context"
	"fmt"

	"github.com/zerfoo/zmf"

	"github.com/zerfoo/siphon/pkg/dtype"
	"github.com/zerfoo/siphon/pkg/netdef"
)

func init() {
	Register(netdef.ConstantFill, constantFill)
	Register("GivenTensorFill", givenTensorFill(dtype.Float))
	Register("GivenTensorDoubleFill", givenTensorFill(dtype.Double))
	Register("GivenTensorIntFill", givenTensorFill(dtype.Int32))
	Register("GivenTensorInt64Fill", givenTensorFill(dtype.Int64))
	Register("GivenTensorBoolFill", givenTensorFill(dtype.Bool))
}

// constantFill writes one constant tensor to every output.
//
// Arguments: shape, extra_shape (ints), input_as_shape (int), dtype (int,
// default FLOAT), value (f or i). With an input and input_as_shape set, the
// input's values are the shape; with an input alone, the input's shape is
// used.
func constantFill(ctx context.Context, op *netdef.Op, inputs []*Tensor) ([]*Tensor, error) {
	t := dtype.Float
	if a := op.Arg("dtype"); a != nil {
		t = dtype.DataType(a.Value.GetI())
	}

	var shape []int64
	switch {
	case len(inputs) > 0 && inputs[0] != nil:
		if a := op.Arg("input_as_shape"); a != nil && a.Value.GetI() != 0 {
			vals, err := inputs[0].AsInt64s()
			if err != nil {
				return nil, fmt.Errorf("input_as_shape: %w", err)
			}
			shape = vals
		} else {
			shape = append(shape, inputs[0].Shape...)
		}
	default:
		if a := op.Arg("shape"); a != nil {
			shape = append(shape, a.Value.GetInts().GetVal()...)
		}
	}
	if a := op.Arg("extra_shape"); a != nil {
		shape = append(shape, a.Value.GetInts().GetVal()...)
	}

	out, err := Zeros(t, shape)
	if err != nil {
		return nil, err
	}
	if a := op.Arg("value"); a != nil {
		if err := fillScalar(ctx, out, a); err != nil {
			return nil, err
		}
	}
	return replicate(ctx, out, len(op.Outputs))
}

// givenTensorFill materializes the values argument of a literal fill.
func givenTensorFill(t dtype.DataType) Kernel {
	return func(ctx context.Context, op *netdef.Op, _ []*Tensor) ([]*Tensor, error) {
		values := op.Arg("values")
		if values == nil {
			return nil, fmt.Errorf("%s: missing values argument", op.Type)
		}
		floats := values.Value.GetFloats().GetVal()
		ints := values.Value.GetInts().GetVal()
		shape := []int64{int64(max(len(floats), len(ints)))}
		if a := op.Arg("shape"); a != nil {
			shape = a.Value.GetInts().GetVal()
		}

		var out *Tensor
		var err error
		switch t {
		case dtype.Float:
			out, err = NewTensor(shape, floats)
		case dtype.Double:
			f64 := make([]float64, len(floats))
			for i, v := range floats {
				f64[i] = float64(v)
			}
			out, err = NewTensor(shape, f64)
		case dtype.Int32:
			i32 := make([]int32, len(ints))
			for i, v := range ints {
				i32[i] = int32(v)
			}
			out, err = NewTensor(shape, i32)
		case dtype.Int64:
			out, err = NewTensor(shape, ints)
		case dtype.Bool:
			b := make([]bool, len(ints))
			for i, v := range ints {
				b[i] = v != 0
			}
			out, err = NewTensor(shape, b)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op.Type, err)
		}
		return replicate(ctx, out, len(op.Outputs))
	}
}

// replicate returns t followed by n-1 independent copies of it.
func replicate(ctx context.Context, t *Tensor, n int) ([]*Tensor, error) {
	outputs := make([]*Tensor, n)
	for i := range outputs {
		if i == 0 {
			outputs[i] = t
			continue
		}
		c, err := t.Clone(ctx)
		if err != nil {
			return nil, err
		}
		outputs[i] = c
	}
	return outputs, nil
}

// fillScalar writes the value argument a into every element of t. Integer
// values are never routed through a float.
func fillScalar(ctx context.Context, t *Tensor, a *netdef.Arg) error {
	switch v := a.Value.GetValue().(type) {
	case *zmf.Attribute_F:
		return t.FillFloat(ctx, float64(v.F))
	case *zmf.Attribute_I:
		return t.FillInt(ctx, v.I)
	}
	return fmt.Errorf("argument %s must be a scalar", a.Name)
}
