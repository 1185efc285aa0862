package layers

import (
	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/registry"
)

func init() {
	registry.Register("Relu", registry.Rule{Import: ImportReLU})
}

// ImportReLU drops consumed_inputs, which opsets before 6 carried and the
// native op does not accept.
func ImportReLU(op *netdef.Op, _ *onnx.NodeProto, _ *registry.ConversionContext) error {
	for i, a := range op.Args {
		if a.Name == "consumed_inputs" {
			op.Args = append(op.Args[:i], op.Args[i+1:]...)
			break
		}
	}
	return nil
}
