package workspace

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/zerfoo/siphon/pkg/netdef"
)

// ErrNoKernel is returned when an op type has no registered kernel.
var ErrNoKernel = errors.New("no kernel registered for op type")

// Kernel executes one op. inputs are the op's input blobs in order; the
// returned tensors are written to the op's outputs in order.
type Kernel func(ctx context.Context, op *netdef.Op, inputs []*Tensor) ([]*Tensor, error)

var (
	mu      sync.RWMutex
	kernels = make(map[string]Kernel)
)

// Register adds a kernel for opType, replacing any previous one.
func Register(opType string, k Kernel) {
	mu.Lock()
	defer mu.Unlock()
	kernels[opType] = k
}

// Lookup returns the kernel for opType.
func Lookup(opType string) (Kernel, bool) {
	mu.RLock()
	defer mu.RUnlock()
	k, ok := kernels[opType]
	return k, ok
}

// Registered returns the registered op types, sorted.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(kernels))
	for name := range kernels {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
