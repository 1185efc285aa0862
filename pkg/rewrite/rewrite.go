// Package rewrite folds run-time constant fills into literal fills, so that a
// net carries every constant value in its arguments.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zerfoo/siphon/internal/telemetry"
	"github.com/zerfoo/siphon/pkg/dtype"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/workspace"
)

// foldable lists the element types a fold can emit.
var foldable = map[dtype.DataType]bool{
	dtype.Float:  true,
	dtype.Int32:  true,
	dtype.Int64:  true,
	dtype.Double: true,
}

// Rewriter folds ConstantFill ops.
type Rewriter struct {
	// Device is set on every emitted op.
	Device  netdef.DeviceOption
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// EvalFill replaces every ConstantFill op of n with literal fills holding
// the values it computes. The first output's literal takes the op's place;
// literals for further outputs are appended to the end of the net. n is
// modified in place and returned.
//
// EvalFill panics if a fill produces an element type with no literal form.
func (r *Rewriter) EvalFill(ctx context.Context, n *netdef.Net) (*netdef.Net, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := telemetry.StartSpan(ctx, "Rewriter.EvalFill")
	defer span.End()

	var appended []*netdef.Op
	folded := 0
	for i, op := range n.Ops {
		if op.Type != netdef.ConstantFill || len(op.Outputs) == 0 {
			continue
		}
		ws := workspace.New(workspace.WithLogger(logger))
		if err := ws.RunOperatorOnce(ctx, op); err != nil {
			if errors.Is(err, workspace.ErrUnsupportedType) {
				panic(fmt.Sprintf("rewrite: cannot fold net %q op %d: %v", n.Name, i, err))
			}
			err = fmt.Errorf("net %q op %d: %w", n.Name, i, err)
			telemetry.RecordError(span, err)
			return nil, err
		}
		for j, out := range op.Outputs {
			t, _ := ws.Blob(out)
			lit, err := r.literal(op, out, t)
			if err != nil {
				return nil, fmt.Errorf("net %q op %d: %w", n.Name, i, err)
			}
			if j == 0 {
				n.Ops[i] = lit
			} else {
				appended = append(appended, lit)
			}
			if r.Metrics != nil {
				r.Metrics.FoldedOps.WithLabelValues(lit.Type).Inc()
			}
			folded++
		}
	}
	n.Ops = append(n.Ops, appended...)
	if folded > 0 {
		logger.Debug("folded constant fills", "net", n.Name, "literals", folded)
	}
	return n, nil
}

func (r *Rewriter) literal(op *netdef.Op, out string, t *workspace.Tensor) (*netdef.Op, error) {
	if !foldable[t.Type] {
		panic(fmt.Sprintf("rewrite: cannot fold %s output %q: no literal fill for element type %s", op.Type, out, t.Type))
	}
	l := netdef.Literal{Type: t.Type, Shape: append([]int64{}, t.Shape...)}
	var err error
	if t.Type == dtype.Float || t.Type == dtype.Double {
		l.Floats, err = t.AsFloat32s()
	} else {
		l.Ints, err = t.AsInt64s()
	}
	if err != nil {
		return nil, err
	}
	lit, err := netdef.NewLiteralFill(out, l)
	if err != nil {
		return nil, err
	}
	lit.Name = op.Name
	dev := r.Device
	lit.Device = &dev
	return lit, nil
}
