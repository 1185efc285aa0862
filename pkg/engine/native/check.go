package native

import (
	"context"
	"errors"
	"fmt"

	"github.com/zerfoo/siphon/internal/onnx"
)

// CheckModel validates the structure of an exchange model: an opset import
// is present, every node has an op type, every node input is defined before
// use and every graph output is produced.
func (e *Engine) CheckModel(_ context.Context, data []byte) error {
	m, err := onnx.Parse(data)
	if err != nil {
		return err
	}
	var errs []error
	if len(m.OpsetImport) == 0 {
		errs = append(errs, errors.New("model has no opset import"))
	}
	defined := make(map[string]bool)
	for _, in := range m.Graph.Inputs {
		defined[in.Name] = true
	}
	for _, t := range m.Graph.Initializer {
		if t.Name == "" {
			errs = append(errs, errors.New("initializer without a name"))
		}
		defined[t.Name] = true
	}
	for i, node := range m.Graph.Nodes {
		if node.OpType == "" {
			errs = append(errs, fmt.Errorf("node %d has no op type", i))
		}
		for _, in := range node.Inputs {
			if in != "" && !defined[in] {
				errs = append(errs, fmt.Errorf("node %d (%s) input %q is not defined", i, node.OpType, in))
			}
		}
		for _, out := range node.Outputs {
			defined[out] = true
		}
	}
	for _, out := range m.Graph.Outputs {
		if !defined[out.Name] {
			errs = append(errs, fmt.Errorf("graph output %q is never produced", out.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("model check failed: %w", err)
	}
	return nil
}
