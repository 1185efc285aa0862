// Package registry holds per-op translation rules applied on top of the
// generic attribute mapping between exchange nodes and native ops.
package registry

import (
	"sync"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/netdef"
)

// ConversionContext holds the graph-level information a rule may consult
// while importing a node.
type ConversionContext struct {
	Initializers map[string]*onnx.TensorProto
	ValueInfo    map[string]*onnx.ValueInfoProto
}

// NewConversionContext indexes the initializers and the declared values of g.
func NewConversionContext(g *onnx.GraphProto) *ConversionContext {
	ctx := &ConversionContext{
		Initializers: make(map[string]*onnx.TensorProto),
		ValueInfo:    make(map[string]*onnx.ValueInfoProto),
	}
	if g == nil {
		return ctx
	}
	for _, t := range g.Initializer {
		ctx.Initializers[t.Name] = t
	}
	for _, vs := range [][]*onnx.ValueInfoProto{g.Inputs, g.ValueInfo, g.Outputs} {
		for _, v := range vs {
			ctx.ValueInfo[v.Name] = v
		}
	}
	return ctx
}

// ImportRule adjusts op, which was translated from node.
type ImportRule func(op *netdef.Op, node *onnx.NodeProto, ctx *ConversionContext) error

// ExportRule adjusts node, which was translated from op. The returned nodes
// are inserted before node.
type ExportRule func(node *onnx.NodeProto, op *netdef.Op) ([]*onnx.NodeProto, error)

// Rule pairs the two directions for one op type. Either may be nil.
type Rule struct {
	Import ImportRule
	Export ExportRule
}

var (
	mu    sync.RWMutex
	rules = make(map[string]Rule)
)

// Register sets the rule for opType, replacing any earlier one.
func Register(opType string, r Rule) {
	mu.Lock()
	defer mu.Unlock()
	rules[opType] = r
}

// Get returns the rule for opType.
func Get(opType string) (Rule, bool) {
	mu.RLock()
	defer mu.RUnlock()
	r, ok := rules[opType]
	return r, ok
}

// Import applies the import rule registered for node.OpType, if any.
func Import(op *netdef.Op, node *onnx.NodeProto, ctx *ConversionContext) error {
	if r, ok := Get(node.OpType); ok && r.Import != nil {
		return r.Import(op, node, ctx)
	}
	return nil
}

// Export applies the export rule registered for op.Type, if any.
func Export(node *onnx.NodeProto, op *netdef.Op) ([]*onnx.NodeProto, error) {
	if r, ok := Get(op.Type); ok && r.Export != nil {
		return r.Export(node, op)
	}
	return nil, nil
}
