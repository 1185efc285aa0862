package native

import (
	"context"
	"slices"

	"github.com/zerfoo/siphon/pkg/netdef"
)

// OptimizeGraph removes ops whose outputs cannot reach an external output.
// A net without external outputs is returned unchanged.
func (e *Engine) OptimizeGraph(_ context.Context, data []byte) ([]byte, error) {
	n, err := netdef.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if len(n.ExternalOutputs) == 0 {
		return data, nil
	}

	needed := make(map[string]bool)
	for _, out := range n.ExternalOutputs {
		needed[out] = true
	}
	keep := make([]bool, len(n.Ops))
	for i := len(n.Ops) - 1; i >= 0; i-- {
		op := n.Ops[i]
		if !slices.ContainsFunc(op.Outputs, func(o string) bool { return needed[o] }) {
			continue
		}
		keep[i] = true
		for _, in := range op.Inputs {
			needed[in] = true
		}
	}

	var ops []*netdef.Op
	for i, op := range n.Ops {
		if keep[i] {
			ops = append(ops, op)
		}
	}
	if len(ops) == len(n.Ops) {
		return data, nil
	}
	e.logger.Debug("removed dead ops", "removed", len(n.Ops)-len(ops))
	n.Ops = ops
	return netdef.Marshal(n)
}

// OptimizeInterference renames intermediate blobs so that blobs with
// disjoint lifetimes share one name. Static blobs, external inputs and
// outputs, and blobs written more than once keep their names. A freed name
// is reused smallest first.
func (e *Engine) OptimizeInterference(_ context.Context, data []byte, static []string) ([]byte, error) {
	n, err := netdef.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	pinned := make(map[string]bool)
	for _, names := range [][]string{static, n.ExternalInputs, n.ExternalOutputs} {
		for _, name := range names {
			pinned[name] = true
		}
	}

	inputs := make([][]string, len(n.Ops))
	outputs := make([][]string, len(n.Ops))
	writes := make(map[string]int)
	firstWrite := make(map[string]int)
	firstRead := make(map[string]int)
	lastRead := make(map[string]int)
	for i, op := range n.Ops {
		inputs[i] = slices.Clone(op.Inputs)
		outputs[i] = slices.Clone(op.Outputs)
		for _, in := range op.Inputs {
			if _, ok := firstRead[in]; !ok {
				firstRead[in] = i
			}
			lastRead[in] = i
		}
		for _, out := range op.Outputs {
			writes[out]++
			if _, ok := firstWrite[out]; !ok {
				firstWrite[out] = i
			}
		}
	}
	eligible := make(map[string]bool)
	for name, def := range firstWrite {
		if name == "" || pinned[name] || writes[name] != 1 {
			continue
		}
		if r, ok := firstRead[name]; ok && r <= def {
			continue
		}
		eligible[name] = true
	}

	rename := make(map[string]string)
	var free []string
	renamed := 0
	for i, op := range n.Ops {
		for j, in := range inputs[i] {
			if to, ok := rename[in]; ok {
				op.Inputs[j] = to
			}
		}
		for j, out := range outputs[i] {
			if !eligible[out] {
				continue
			}
			to := out
			if len(free) > 0 {
				to, free = free[0], free[1:]
			}
			if to != out {
				renamed++
			}
			rename[out] = to
			op.Outputs[j] = to
		}
		// Release blobs read for the last time here, and outputs nobody reads.
		for _, in := range inputs[i] {
			if eligible[in] && lastRead[in] == i {
				free = insertSorted(free, rename[in])
			}
		}
		for _, out := range outputs[i] {
			if _, read := lastRead[out]; eligible[out] && !read {
				free = insertSorted(free, rename[out])
			}
		}
	}
	if renamed == 0 {
		return data, nil
	}
	e.logger.Debug("shared blobs", "renamed", renamed, "static", len(static))
	return netdef.Marshal(n)
}

func insertSorted(s []string, v string) []string {
	i, found := slices.BinarySearch(s, v)
	if found {
		return s
	}
	return slices.Insert(s, i, v)
}
