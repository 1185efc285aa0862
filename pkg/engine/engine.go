// Package engine defines the boundary to the external engine that translates
// and optimizes graphs, and the reference-counted handle that guards it.
package engine

import "context"

// TensorInfo is the element type and shape of a graph input.
type TensorInfo struct {
	ElemType int32
	Dims     []int64
}

// Engine is the external engine contract. Nets and models cross the
// boundary in serialized form.
type Engine interface {
	// NetsToModel builds an exchange model from an init and a pred net.
	NetsToModel(ctx context.Context, init, pred []byte, inputs map[string]TensorInfo) ([]byte, error)
	// ModelToNets splits an exchange model into init and pred nets.
	ModelToNets(ctx context.Context, model []byte, device string, opset int64) (init, pred []byte, err error)
	// OptimizeGraph applies graph-level rewrites to a net.
	OptimizeGraph(ctx context.Context, net []byte) ([]byte, error)
	// OptimizeInterference shares blob storage between non-overlapping
	// lifetimes. static blobs are never renamed.
	OptimizeInterference(ctx context.Context, net []byte, static []string) ([]byte, error)
	// CheckModel validates an exchange model structurally.
	CheckModel(ctx context.Context, model []byte) error
	// Close releases the engine.
	Close() error
}

// Starter brings an engine up. It is called by the handle on first acquire.
type Starter func(ctx context.Context) (Engine, error)
