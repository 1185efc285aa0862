// Package workspace is a scratch execution context: named blobs, registered
// nets and a kernel registry able to run the fill ops that appear in init
// nets.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zerfoo/siphon/pkg/manifest"
	"github.com/zerfoo/siphon/pkg/netdef"
)

// Workspace holds blobs and nets. It is not safe for concurrent use.
type Workspace struct {
	blobs  map[string]*Tensor
	nets   map[string]*netdef.Net
	logger *slog.Logger
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// New returns an empty workspace.
func New(opts ...Option) *Workspace {
	w := &Workspace{
		blobs:  make(map[string]*Tensor),
		nets:   make(map[string]*netdef.Net),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Blob returns the blob named name. A declared but unset blob is reported
// as present with a nil tensor.
func (w *Workspace) Blob(name string) (*Tensor, bool) {
	t, ok := w.blobs[name]
	return t, ok
}

// HasBlob reports whether name is declared.
func (w *Workspace) HasBlob(name string) bool {
	_, ok := w.blobs[name]
	return ok
}

// SetBlob stores t under name.
func (w *Workspace) SetBlob(name string, t *Tensor) {
	w.blobs[name] = t
}

// BlobNames returns declared blob names, sorted.
func (w *Workspace) BlobNames() []string {
	out := make([]string, 0, len(w.blobs))
	for name := range w.blobs {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// FeedZeros stores a zero tensor shaped like p.
func (w *Workspace) FeedZeros(p manifest.Placeholder) error {
	t, err := Zeros(p.Type, p.Dims)
	if err != nil {
		return fmt.Errorf("placeholder %q: %w", p.Name, err)
	}
	w.blobs[p.Name] = t
	return nil
}

// CreateNet validates n, declares its external inputs and registers it
// under its name, replacing a net with the same name.
func (w *Workspace) CreateNet(n *netdef.Net) error {
	if n.Name == "" {
		return fmt.Errorf("cannot create a net without a name")
	}
	if err := n.Validate(); err != nil {
		return err
	}
	for _, in := range n.ExternalInputs {
		if _, ok := w.blobs[in]; !ok {
			w.blobs[in] = nil
		}
	}
	w.nets[n.Name] = n
	w.logger.Debug("created net", "net", n.Name, "ops", len(n.Ops))
	return nil
}

// Net returns the net registered under name.
func (w *Workspace) Net(name string) (*netdef.Net, bool) {
	n, ok := w.nets[name]
	return n, ok
}

// RunOperatorOnce executes op against the current blobs.
func (w *Workspace) RunOperatorOnce(ctx context.Context, op *netdef.Op) error {
	kernel, ok := Lookup(op.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoKernel, op.Type)
	}
	inputs := make([]*Tensor, len(op.Inputs))
	for i, name := range op.Inputs {
		t, ok := w.blobs[name]
		if !ok || t == nil {
			return fmt.Errorf("op %s reads unset blob %q", op.Type, name)
		}
		inputs[i] = t
	}
	outputs, err := kernel(ctx, op, inputs)
	if err != nil {
		return fmt.Errorf("op %s: %w", op.Type, err)
	}
	if len(outputs) != len(op.Outputs) {
		return fmt.Errorf("op %s produced %d outputs, want %d", op.Type, len(outputs), len(op.Outputs))
	}
	for i, name := range op.Outputs {
		w.blobs[name] = outputs[i]
	}
	return nil
}

// RunNetOnce executes every op of the named net in order.
func (w *Workspace) RunNetOnce(ctx context.Context, name string) error {
	n, ok := w.nets[name]
	if !ok {
		return fmt.Errorf("net %q not found in workspace", name)
	}
	for i, op := range n.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.RunOperatorOnce(ctx, op); err != nil {
			return fmt.Errorf("net %q op %d: %w", name, i, err)
		}
	}
	w.logger.Debug("ran net", "net", name, "ops", len(n.Ops))
	return nil
}
