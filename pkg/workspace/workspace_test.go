package workspace

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/siphon/pkg/dtype"
	"github.com/zerfoo/siphon/pkg/manifest"
	"github.com/zerfoo/siphon/pkg/netdef"
)

func TestConstantFill_ShapeAndValue(t *testing.T) {
	ws := New()
	op := &netdef.Op{
		Type:    netdef.ConstantFill,
		Outputs: []string{"x"},
		Args: []*netdef.Arg{
			netdef.IntsArg("shape", []int64{1, 2, 3, 4}),
			netdef.FloatArg("value", 1.5),
		},
	}
	require.NoError(t, ws.RunOperatorOnce(context.Background(), op))

	x, ok := ws.Blob("x")
	require.True(t, ok)
	assert.Equal(t, dtype.Float, x.Type)
	assert.Equal(t, []int64{1, 2, 3, 4}, x.Shape)
	require.Len(t, x.Float32s(), 24)
	for _, v := range x.Float32s() {
		assert.Equal(t, float32(1.5), v)
	}
}

func TestConstantFill_Dtypes(t *testing.T) {
	tests := []struct {
		dt   dtype.DataType
		arg  *netdef.Arg
		read func(*Tensor) any
		want any
	}{
		{dtype.Int32, netdef.IntArg("value", 7), func(t *Tensor) any { return t.Int32s() }, []int32{7, 7}},
		{dtype.Int64, netdef.IntArg("value", -3), func(t *Tensor) any { return t.Int64s() }, []int64{-3, -3}},
		{dtype.Double, netdef.FloatArg("value", 0.25), func(t *Tensor) any { return t.Float64s() }, []float64{0.25, 0.25}},
		{dtype.Bool, netdef.IntArg("value", 1), func(t *Tensor) any { return t.Bools() }, []bool{true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.dt.String(), func(t *testing.T) {
			ws := New()
			op := &netdef.Op{
				Type:    netdef.ConstantFill,
				Outputs: []string{"y"},
				Args:    []*netdef.Arg{netdef.IntArg("dtype", int64(tt.dt)), netdef.IntsArg("shape", []int64{2}), tt.arg},
			}
			require.NoError(t, ws.RunOperatorOnce(context.Background(), op))
			y, _ := ws.Blob("y")
			assert.Equal(t, tt.want, tt.read(y))
		})
	}
}

func TestConstantFill_InputShapes(t *testing.T) {
	ws := New()
	shapeBlob, err := NewTensor([]int64{2}, []int64{3, 2})
	require.NoError(t, err)
	ws.SetBlob("s", shapeBlob)

	op := &netdef.Op{
		Type:    netdef.ConstantFill,
		Inputs:  []string{"s"},
		Outputs: []string{"a"},
		Args:    []*netdef.Arg{netdef.IntArg("input_as_shape", 1), netdef.IntsArg("extra_shape", []int64{4})},
	}
	require.NoError(t, ws.RunOperatorOnce(context.Background(), op))
	a, _ := ws.Blob("a")
	assert.Equal(t, []int64{3, 2, 4}, a.Shape)

	op = &netdef.Op{Type: netdef.ConstantFill, Inputs: []string{"s"}, Outputs: []string{"b"}}
	require.NoError(t, ws.RunOperatorOnce(context.Background(), op))
	b, _ := ws.Blob("b")
	assert.Equal(t, []int64{2}, b.Shape)
}

func TestConstantFill_MultipleOutputsShareValue(t *testing.T) {
	ws := New()
	op := &netdef.Op{
		Type:    netdef.ConstantFill,
		Outputs: []string{"p", "q"},
		Args:    []*netdef.Arg{netdef.IntsArg("shape", []int64{3})},
	}
	require.NoError(t, ws.RunOperatorOnce(context.Background(), op))
	p, _ := ws.Blob("p")
	q, _ := ws.Blob("q")
	assert.Equal(t, []float32{0, 0, 0}, p.Float32s())
	assert.Equal(t, p.Float32s(), q.Float32s())

	p.Float32s()[0] = 9
	assert.Equal(t, float32(0), q.Float32s()[0], "outputs do not share storage")
}

func TestConstantFill_IntValuesStayExact(t *testing.T) {
	const big = int64(1)<<62 + 3
	ws := New()
	op := &netdef.Op{
		Type:    netdef.ConstantFill,
		Outputs: []string{"i"},
		Args:    []*netdef.Arg{netdef.IntArg("dtype", int64(dtype.Int64)), netdef.IntsArg("shape", []int64{2}), netdef.IntArg("value", big)},
	}
	require.NoError(t, ws.RunOperatorOnce(context.Background(), op))
	i, _ := ws.Blob("i")
	assert.Equal(t, []int64{big, big}, i.Int64s())

	op = &netdef.Op{
		Type:    netdef.ConstantFill,
		Outputs: []string{"o"},
		Args:    []*netdef.Arg{netdef.IntArg("dtype", int64(dtype.Int32)), netdef.IntsArg("shape", []int64{1}), netdef.IntArg("value", big)},
	}
	assert.ErrorContains(t, ws.RunOperatorOnce(context.Background(), op), "overflows INT32")
}

func TestConstantFill_UnsupportedDtype(t *testing.T) {
	ws := New()
	op := &netdef.Op{
		Type:    netdef.ConstantFill,
		Outputs: []string{"s"},
		Args:    []*netdef.Arg{netdef.IntArg("dtype", int64(dtype.String)), netdef.IntsArg("shape", []int64{1})},
	}
	err := ws.RunOperatorOnce(context.Background(), op)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestGivenTensorFill(t *testing.T) {
	ws := New()
	op, err := netdef.NewLiteralFill("w", netdef.Literal{Type: dtype.Int32, Shape: []int64{2, 2}, Ints: []int64{1, 2, 3, 4}})
	require.NoError(t, err)
	require.NoError(t, ws.RunOperatorOnce(context.Background(), op))
	w, _ := ws.Blob("w")
	assert.Equal(t, []int32{1, 2, 3, 4}, w.Int32s())
	assert.Equal(t, []int64{2, 2}, w.Shape)

	bad, err := netdef.NewLiteralFill("v", netdef.Literal{Type: dtype.Float, Shape: []int64{3}, Floats: []float32{1}})
	require.NoError(t, err)
	assert.Error(t, ws.RunOperatorOnce(context.Background(), bad))
}

func TestRunOperatorOnce_NoKernel(t *testing.T) {
	err := New().RunOperatorOnce(context.Background(), &netdef.Op{Type: "Conv", Outputs: []string{"y"}})
	assert.ErrorIs(t, err, ErrNoKernel)
}

func TestCreateNetAndRun(t *testing.T) {
	ws := New()
	n := &netdef.Net{
		Name:            "init",
		ExternalOutputs: []string{"w", "b"},
		Ops: []*netdef.Op{
			{Type: netdef.ConstantFill, Outputs: []string{"w"}, Args: []*netdef.Arg{netdef.IntsArg("shape", []int64{2})}},
			{Type: netdef.ConstantFill, Inputs: []string{"w"}, Outputs: []string{"b"}, Args: []*netdef.Arg{netdef.FloatArg("value", 2)}},
		},
	}
	require.NoError(t, ws.CreateNet(n))
	require.NoError(t, ws.RunNetOnce(context.Background(), "init"))
	b, _ := ws.Blob("b")
	assert.Equal(t, []float32{2, 2}, b.Float32s())
	assert.Equal(t, []string{"b", "w"}, ws.BlobNames())

	assert.Error(t, ws.RunNetOnce(context.Background(), "missing"))
}

func TestCreateNet_DeclaresInputsAndRejectsInvalid(t *testing.T) {
	ws := New()
	n := &netdef.Net{
		Name:           "pred",
		ExternalInputs: []string{"data"},
		Ops:            []*netdef.Op{{Type: "Relu", Inputs: []string{"data"}, Outputs: []string{"y"}}},
	}
	require.NoError(t, ws.CreateNet(n))
	assert.True(t, ws.HasBlob("data"))
	blob, _ := ws.Blob("data")
	assert.Nil(t, blob)

	broken := &netdef.Net{Name: "x", Ops: []*netdef.Op{{Type: "Relu", Inputs: []string{"nope"}, Outputs: []string{"y"}}}}
	assert.Error(t, ws.CreateNet(broken))
	assert.Error(t, ws.CreateNet(&netdef.Net{}))
}

func TestRunNetOnce_HonorsCancellation(t *testing.T) {
	ws := New()
	require.NoError(t, ws.CreateNet(&netdef.Net{
		Name: "init",
		Ops:  []*netdef.Op{{Type: netdef.ConstantFill, Outputs: []string{"w"}}},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ws.RunNetOnce(ctx, "init"), context.Canceled)
}

func TestFeedZeros(t *testing.T) {
	ws := New()
	require.NoError(t, ws.FeedZeros(manifest.Placeholder{Name: "data", Type: dtype.Int64, Dims: []int64{1, 3}}))
	d, _ := ws.Blob("data")
	assert.Equal(t, []int64{0, 0, 0}, d.Int64s())

	err := ws.FeedZeros(manifest.Placeholder{Name: "h", Type: dtype.Float16, Dims: []int64{1}})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestFeedZeros_RejectsHugeShapes(t *testing.T) {
	ws := New()
	for _, dims := range [][]int64{
		{1 << 62, 2},
		{1 << 62},
		{math.MaxInt64, math.MaxInt64},
		{1 << 20, 1 << 20, 1 << 20},
	} {
		err := ws.FeedZeros(manifest.Placeholder{Name: "big", Type: dtype.Bool, Dims: dims})
		assert.ErrorIs(t, err, ErrTooLarge, "%v", dims)
	}
	assert.False(t, ws.HasBlob("big"))

	require.NoError(t, ws.FeedZeros(manifest.Placeholder{Name: "none", Type: dtype.Float, Dims: []int64{0, 1 << 20}}))
	none, _ := ws.Blob("none")
	assert.Equal(t, 0, none.Len())
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"ConstantFill", "GivenTensorFill", "GivenTensorIntFill", "GivenTensorInt64Fill", "GivenTensorDoubleFill", "GivenTensorBoolFill"} {
		_, ok := Lookup(name)
		assert.True(t, ok, name)
	}
	assert.Contains(t, Registered(), "ConstantFill")
}

func TestTensor_Conversions(t *testing.T) {
	d, err := NewTensor([]int64{2}, []float64{0.5, 1})
	require.NoError(t, err)
	f, err := d.AsFloat32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1}, f)
	_, err = d.AsInt64s()
	assert.Error(t, err)

	_, err = NewTensor([]int64{3}, []int32{1})
	assert.Error(t, err)

	empty, err := Zeros(dtype.Float, []int64{0, 4})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Float32s())
}

func TestTensor_CloneAndScalar(t *testing.T) {
	ctx := context.Background()
	v, err := NewTensor([]int64{2}, []int64{4, 5})
	require.NoError(t, err)
	c, err := v.Clone(ctx)
	require.NoError(t, err)
	c.Int64s()[0] = 0
	assert.Equal(t, []int64{4, 5}, v.Int64s())

	s, err := Zeros(dtype.Double, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.FillFloat(ctx, 2.5))
	assert.Equal(t, []float64{2.5}, s.Float64s())
}
