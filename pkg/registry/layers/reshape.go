package layers

import (
	"fmt"
	"slices"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/registry"
)

func init() {
	registry.Register("Reshape", registry.Rule{Import: ImportReshape, Export: ExportReshape})
}

// ImportReshape folds a constant shape input into a shape argument. A shape
// computed at run time stays an input. Opsets before 5 already carry shape as
// an attribute and have a single input.
func ImportReshape(op *netdef.Op, node *onnx.NodeProto, ctx *registry.ConversionContext) error {
	if len(node.Inputs) != 2 {
		return nil
	}
	t, ok := ctx.Initializers[node.Inputs[1]]
	if !ok {
		return nil
	}
	if t.DataType != onnx.TypeInt64 {
		return fmt.Errorf("shape tensor %q of reshape node %q must be of type INT64", t.Name, node.Name)
	}
	shape, err := t.Int64s()
	if err != nil {
		return fmt.Errorf("reshape node %q: %w", node.Name, err)
	}
	op.Inputs = op.Inputs[:1]
	op.SetArg(netdef.IntsArg("shape", shape))
	return nil
}

// ExportReshape turns a shape argument back into a Constant node feeding the
// shape input.
func ExportReshape(node *onnx.NodeProto, op *netdef.Op) ([]*onnx.NodeProto, error) {
	arg := op.Arg("shape")
	if arg == nil || len(op.Inputs) != 1 {
		return nil, nil
	}
	if len(op.Outputs) == 0 {
		return nil, fmt.Errorf("reshape op %q has no output", op.Name)
	}
	shape := arg.Value.GetInts().GetVal()
	name := op.Outputs[0] + "_shape"
	node.Attributes = slices.DeleteFunc(node.Attributes, func(a *onnx.AttributeProto) bool { return a.Name == "shape" })
	node.Inputs = append(node.Inputs, name)
	c := &onnx.NodeProto{
		OpType:  "Constant",
		Outputs: []string{name},
		Attributes: []*onnx.AttributeProto{{
			Name: "value",
			Type: onnx.AttributeTensor,
			T:    &onnx.TensorProto{DataType: onnx.TypeInt64, Dims: []int64{int64(len(shape))}, Int64Data: slices.Clone(shape)},
		}},
	}
	return []*onnx.NodeProto{c}, nil
}
