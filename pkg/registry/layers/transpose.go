// Package layers registers the translation rules for ops whose native form
// differs from their exchange form.
package layers

import (
	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/registry"
)

func init() {
	registry.Register("Transpose", registry.Rule{Import: ImportTranspose, Export: ExportTranspose})
}

// ImportTranspose renames perm to axes. Without perm the exchange format
// reverses the dimensions; the reversal is spelled out when the input rank
// is declared and left to the default otherwise.
func ImportTranspose(op *netdef.Op, node *onnx.NodeProto, ctx *registry.ConversionContext) error {
	if perm := op.Arg("perm"); perm != nil {
		perm.Name = "axes"
		return nil
	}
	if len(node.Inputs) == 0 {
		return nil
	}
	info, ok := ctx.ValueInfo[node.Inputs[0]]
	if !ok || !info.HasShape() {
		return nil
	}
	rank := len(info.Dims())
	axes := make([]int64, rank)
	for i := range axes {
		axes[i] = int64(rank - 1 - i)
	}
	op.SetArg(netdef.IntsArg("axes", axes))
	return nil
}

// ExportTranspose renames axes back to perm.
func ExportTranspose(node *onnx.NodeProto, _ *netdef.Op) ([]*onnx.NodeProto, error) {
	for _, a := range node.Attributes {
		if a.Name == "axes" {
			a.Name = "perm"
		}
	}
	return nil, nil
}
