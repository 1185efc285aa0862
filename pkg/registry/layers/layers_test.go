package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/registry"
)

func TestRegistered(t *testing.T) {
	for _, opType := range []string{"Transpose", "Reshape", "Relu"} {
		_, ok := registry.Get(opType)
		assert.True(t, ok, opType)
	}
}

func TestImportTranspose(t *testing.T) {
	ctx := registry.NewConversionContext(&onnx.GraphProto{
		Inputs: []*onnx.ValueInfoProto{
			onnx.NewValueInfo("x", onnx.TypeFloat, []int64{2, 3, 4}),
			{Name: "untyped"},
		},
	})

	op := &netdef.Op{Type: "Transpose", Args: []*netdef.Arg{netdef.IntsArg("perm", []int64{0, 2, 1})}}
	require.NoError(t, ImportTranspose(op, &onnx.NodeProto{Inputs: []string{"x"}}, ctx))
	require.NotNil(t, op.Arg("axes"))
	assert.Nil(t, op.Arg("perm"))
	assert.Equal(t, []int64{0, 2, 1}, op.Arg("axes").Value.GetInts().GetVal())

	op = &netdef.Op{Type: "Transpose"}
	require.NoError(t, ImportTranspose(op, &onnx.NodeProto{Inputs: []string{"x"}}, ctx))
	assert.Equal(t, []int64{2, 1, 0}, op.Arg("axes").Value.GetInts().GetVal())

	op = &netdef.Op{Type: "Transpose"}
	require.NoError(t, ImportTranspose(op, &onnx.NodeProto{Inputs: []string{"untyped"}}, ctx))
	assert.Empty(t, op.Args)
}

func TestExportTranspose(t *testing.T) {
	node := &onnx.NodeProto{Attributes: []*onnx.AttributeProto{{Name: "axes", Type: onnx.AttributeInts, Ints: []int64{1, 0}}}}
	pre, err := ExportTranspose(node, &netdef.Op{})
	require.NoError(t, err)
	assert.Empty(t, pre)
	assert.Equal(t, "perm", node.Attributes[0].Name)
}

func TestImportReshape(t *testing.T) {
	ctx := registry.NewConversionContext(&onnx.GraphProto{
		Initializer: []*onnx.TensorProto{
			{Name: "shape", DataType: onnx.TypeInt64, Dims: []int64{2}, Int64Data: []int64{-1, 4}},
			{Name: "fshape", DataType: onnx.TypeFloat, Dims: []int64{2}, FloatData: []float32{1, 4}},
		},
	})

	node := &onnx.NodeProto{Name: "r", Inputs: []string{"x", "shape"}, Outputs: []string{"y"}}
	op := &netdef.Op{Type: "Reshape", Inputs: []string{"x", "shape"}, Outputs: []string{"y"}}
	require.NoError(t, ImportReshape(op, node, ctx))
	assert.Equal(t, []string{"x"}, op.Inputs)
	assert.Equal(t, []int64{-1, 4}, op.Arg("shape").Value.GetInts().GetVal())

	node = &onnx.NodeProto{Name: "dyn", Inputs: []string{"x", "computed"}}
	op = &netdef.Op{Type: "Reshape", Inputs: []string{"x", "computed"}}
	require.NoError(t, ImportReshape(op, node, ctx))
	assert.Equal(t, []string{"x", "computed"}, op.Inputs)

	node = &onnx.NodeProto{Name: "bad", Inputs: []string{"x", "fshape"}}
	err := ImportReshape(&netdef.Op{Inputs: []string{"x", "fshape"}}, node, ctx)
	assert.ErrorContains(t, err, "must be of type INT64")
}

func TestExportReshape(t *testing.T) {
	op := &netdef.Op{
		Type:    "Reshape",
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Args:    []*netdef.Arg{netdef.IntsArg("shape", []int64{2, -1})},
	}
	node := &onnx.NodeProto{
		OpType:     "Reshape",
		Inputs:     []string{"x"},
		Outputs:    []string{"y"},
		Attributes: []*onnx.AttributeProto{{Name: "shape", Type: onnx.AttributeInts, Ints: []int64{2, -1}}},
	}
	pre, err := ExportReshape(node, op)
	require.NoError(t, err)
	require.Len(t, pre, 1)
	assert.Equal(t, "Constant", pre[0].OpType)
	assert.Equal(t, []string{"y_shape"}, pre[0].Outputs)
	assert.Equal(t, []int64{2, -1}, pre[0].Attributes[0].T.Int64Data)
	assert.Equal(t, []string{"x", "y_shape"}, node.Inputs)
	assert.Empty(t, node.Attributes)

	pre, err = ExportReshape(&onnx.NodeProto{}, &netdef.Op{Type: "Reshape", Inputs: []string{"x", "s"}})
	require.NoError(t, err)
	assert.Nil(t, pre)
}

func TestImportReLU(t *testing.T) {
	op := &netdef.Op{Type: "Relu", Args: []*netdef.Arg{netdef.IntsArg("consumed_inputs", []int64{0})}}
	require.NoError(t, ImportReLU(op, nil, nil))
	assert.Empty(t, op.Args)
}
