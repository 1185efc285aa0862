package workspace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/zerfoo/zerfoo/compute"
	"github.com/zerfoo/zerfoo/numeric"
	"github.com/zerfoo/zerfoo/tensor"

	"github.com/zerfoo/siphon/pkg/dtype"
)

var (
	// ErrUnsupportedType is returned for element types a blob cannot hold.
	ErrUnsupportedType = errors.New("unsupported element type")
	// ErrTooLarge is returned when a shape holds more than MaxElements.
	ErrTooLarge = errors.New("tensor too large")
)

// MaxElements bounds the number of elements a blob may hold.
const MaxElements = 1 << 34

// Element lists the Go types a blob can hold.
type Element interface {
	float32 | float64 | int32 | int64 | bool
}

// Engines backing numeric blobs. Fill and Copy never consult the
// arithmetic, which zerfoo provides for floating point types only.
var (
	f32Engine = compute.NewCPUEngine[float32](numeric.Float32Ops{})
	f64Engine = compute.NewCPUEngine[float64](numeric.Float64Ops{})
	i32Engine = compute.NewCPUEngine[int32](nil)
	i64Engine = compute.NewCPUEngine[int64](nil)
)

// Tensor is a blob value. Numeric data lives in a zerfoo tensor of the same
// shape; Shape may be empty for a scalar.
type Tensor struct {
	Type  dtype.DataType
	Shape []int64

	f32 *tensor.TensorNumeric[float32]
	f64 *tensor.TensorNumeric[float64]
	i32 *tensor.TensorNumeric[int32]
	i64 *tensor.TensorNumeric[int64]
	b   []bool
}

// Supported reports whether a blob can hold elements of type t.
func Supported(t dtype.DataType) bool {
	switch t {
	case dtype.Float, dtype.Double, dtype.Int32, dtype.Int64, dtype.Bool:
		return true
	}
	return false
}

// numElements returns the element count of shape and the shape as ints.
func numElements(shape []int64) (int, []int, error) {
	const limit = min(MaxElements, math.MaxInt)
	n := int64(1)
	dims := make([]int, len(shape))
	for i, d := range shape {
		if d < 0 {
			return 0, nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
		if d > limit || (d != 0 && n > limit/d) {
			return 0, nil, fmt.Errorf("%w: shape %v exceeds %d elements", ErrTooLarge, shape, int64(limit))
		}
		n *= d
		dims[i] = int(d)
	}
	return int(n), dims, nil
}

// Zeros returns a zero-filled tensor.
func Zeros(t dtype.DataType, shape []int64) (*Tensor, error) {
	n, dims, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	out := &Tensor{Type: t, Shape: slices.Clone(shape)}
	switch t {
	case dtype.Float:
		out.f32, err = tensor.New[float32](dims, nil)
	case dtype.Double:
		out.f64, err = tensor.New[float64](dims, nil)
	case dtype.Int32:
		out.i32, err = tensor.New[int32](dims, nil)
	case dtype.Int64:
		out.i64, err = tensor.New[int64](dims, nil)
	case dtype.Bool:
		out.b = make([]bool, n)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %s%v: %w", t, shape, err)
	}
	return out, nil
}

// NewTensor wraps a copy of data with the given shape.
func NewTensor[T Element](shape []int64, data []T) (*Tensor, error) {
	n, dims, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	out := &Tensor{Shape: slices.Clone(shape)}
	switch v := any(data).(type) {
	case []float32:
		out.Type = dtype.Float
		out.f32, err = tensor.New(dims, slices.Clone(v))
	case []float64:
		out.Type = dtype.Double
		out.f64, err = tensor.New(dims, slices.Clone(v))
	case []int32:
		out.Type = dtype.Int32
		out.i32, err = tensor.New(dims, slices.Clone(v))
	case []int64:
		out.Type = dtype.Int64
		out.i64, err = tensor.New(dims, slices.Clone(v))
	case []bool:
		out.Type = dtype.Bool
		out.b = slices.Clone(v)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func data[T tensor.Numeric](t *tensor.TensorNumeric[T]) []T {
	if t == nil {
		return nil
	}
	return t.Data()
}

// Float32s returns the backing data of a Float tensor, or nil.
func (t *Tensor) Float32s() []float32 { return data(t.f32) }

// Float64s returns the backing data of a Double tensor, or nil.
func (t *Tensor) Float64s() []float64 { return data(t.f64) }

// Int32s returns the backing data of an Int32 tensor, or nil.
func (t *Tensor) Int32s() []int32 { return data(t.i32) }

// Int64s returns the backing data of an Int64 tensor, or nil.
func (t *Tensor) Int64s() []int64 { return data(t.i64) }

// Bools returns the backing data of a Bool tensor, or nil.
func (t *Tensor) Bools() []bool { return t.b }

// Len returns the number of elements.
func (t *Tensor) Len() int {
	n, _, _ := numElements(t.Shape)
	return n
}

// FillInt sets every element to v. Integer tensors receive v unchanged.
func (t *Tensor) FillInt(ctx context.Context, v int64) error {
	switch t.Type {
	case dtype.Float:
		return f32Engine.Fill(ctx, t.f32, float32(v))
	case dtype.Double:
		return f64Engine.Fill(ctx, t.f64, float64(v))
	case dtype.Int32:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("value %d overflows %s", v, t.Type)
		}
		return i32Engine.Fill(ctx, t.i32, int32(v))
	case dtype.Int64:
		return i64Engine.Fill(ctx, t.i64, v)
	case dtype.Bool:
		fillBools(t.b, v != 0)
	}
	return nil
}

// FillFloat sets every element to v. Integer tensors receive v truncated.
func (t *Tensor) FillFloat(ctx context.Context, v float64) error {
	switch t.Type {
	case dtype.Float:
		return f32Engine.Fill(ctx, t.f32, float32(v))
	case dtype.Double:
		return f64Engine.Fill(ctx, t.f64, v)
	case dtype.Int32:
		return i32Engine.Fill(ctx, t.i32, int32(v))
	case dtype.Int64:
		return i64Engine.Fill(ctx, t.i64, int64(v))
	case dtype.Bool:
		fillBools(t.b, v != 0)
	}
	return nil
}

func fillBools(s []bool, v bool) {
	for i := range s {
		s[i] = v
	}
}

// Clone returns a tensor with its own copy of the data.
func (t *Tensor) Clone(ctx context.Context) (*Tensor, error) {
	out, err := Zeros(t.Type, t.Shape)
	if err != nil {
		return nil, err
	}
	switch t.Type {
	case dtype.Float:
		err = f32Engine.Copy(ctx, out.f32, t.f32)
	case dtype.Double:
		err = f64Engine.Copy(ctx, out.f64, t.f64)
	case dtype.Int32:
		err = i32Engine.Copy(ctx, out.i32, t.i32)
	case dtype.Int64:
		err = i64Engine.Copy(ctx, out.i64, t.i64)
	case dtype.Bool:
		copy(out.b, t.b)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", t, err)
	}
	return out, nil
}

// AsFloat32s returns floating point data as float32 values.
func (t *Tensor) AsFloat32s() ([]float32, error) {
	switch t.Type {
	case dtype.Float:
		return slices.Clone(t.Float32s()), nil
	case dtype.Double:
		src := t.Float64s()
		out := make([]float32, len(src))
		for i, v := range src {
			out[i] = float32(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s tensor has no float values", t.Type)
}

// AsInt64s returns integer data widened to int64.
func (t *Tensor) AsInt64s() ([]int64, error) {
	switch t.Type {
	case dtype.Int64:
		return slices.Clone(t.Int64s()), nil
	case dtype.Int32:
		src := t.Int32s()
		out := make([]int64, len(src))
		for i, v := range src {
			out[i] = int64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s tensor has no integer values", t.Type)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.Type, t.Shape)
}
