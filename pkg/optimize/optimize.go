// Package optimize runs the graph-level and memory-reuse passes of the
// external engine over the init and pred nets of a store. Every pass that
// changes a net adds a new variant to the store; the canonical entries are
// never replaced.
package optimize

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zerfoo/siphon/internal/telemetry"
	"github.com/zerfoo/siphon/pkg/engine"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/store"
)

// Pass names used in the ledger and in metrics.
const (
	PassGraphInit = "graph_init"
	PassGraphPred = "graph_pred"
	PassMemory    = "memory"
)

// Options toggles individual passes.
type Options struct {
	// LegacyInitComparison decides whether the init graph-level pass changed
	// anything by comparing the pred net before and after it, as older
	// releases did. That comparison never sees a change, so no init_O1 is
	// recorded.
	LegacyInitComparison bool
	SkipGraphLevel       bool
	SkipMemory           bool
}

// Ledger records which variant each level points at and what each pass did.
type Ledger struct {
	Init    string
	Pred    string
	Changed map[string]bool
	// StaticBlobs are the names the memory pass was told to keep.
	StaticBlobs []string
	// PureInputs are pred inputs and outputs not produced by the init net.
	PureInputs []string
}

// NewLedger returns a ledger pointing at the canonical roles.
func NewLedger() *Ledger {
	return &Ledger{Init: store.Init, Pred: store.Pred, Changed: make(map[string]bool)}
}

// Pipeline applies the optimization passes through an engine handle. The
// handle must be acquired by the caller.
type Pipeline struct {
	handle  *engine.Handle
	opts    Options
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a pipeline using h for every boundary call.
func New(h *engine.Handle, o Options, opts ...Option) *Pipeline {
	p := &Pipeline{handle: h, opts: o, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = telemetry.Discard()
	}
	return p
}

// Optimize runs the enabled passes over st. It fails with
// store.ErrMissingArtifact, leaving st untouched, when init or pred is
// absent. When a later pass fails, variants stored by earlier passes stay.
func (p *Pipeline) Optimize(ctx context.Context, st *store.Store) (*Ledger, error) {
	if err := st.Require(store.Init, store.Pred); err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, "Pipeline.Optimize")
	defer span.End()

	l := NewLedger()
	if !p.opts.SkipGraphLevel {
		if err := p.graphLevel(ctx, st, l); err != nil {
			telemetry.RecordError(span, err)
			return l, err
		}
	}
	if !p.opts.SkipMemory {
		if err := p.memory(ctx, st, l); err != nil {
			telemetry.RecordError(span, err)
			return l, err
		}
	}
	return l, nil
}

func (p *Pipeline) graphLevel(ctx context.Context, st *store.Store, l *Ledger) error {
	passes := []struct {
		name    string
		role    string
		variant string
		level   *string
	}{
		{PassGraphInit, store.Init, store.InitO1, &l.Init},
		{PassGraphPred, store.Pred, store.PredO1, &l.Pred},
	}
	for _, pass := range passes {
		n, _ := st.Get(pass.role)
		pred, _ := st.Get(store.Pred)
		legacy := pass.role == store.Init && p.opts.LegacyInitComparison

		before := netdef.DebugString(n)
		if legacy {
			before = netdef.DebugString(pred)
		}
		data, err := netdef.Marshal(n)
		if err != nil {
			return err
		}
		var out []byte
		err = p.handle.Exec(ctx, "OptimizeGraph", func(ctx context.Context, e engine.Engine) error {
			var err error
			out, err = e.OptimizeGraph(ctx, data)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", pass.name, err)
		}
		optimized, err := netdef.Unmarshal(out)
		if err != nil {
			return fmt.Errorf("%s: %w", pass.name, err)
		}
		optimized.Name = n.Name
		after := netdef.DebugString(optimized)
		if legacy {
			after = netdef.DebugString(pred)
		}

		changed := before != after
		l.Changed[pass.name] = changed
		p.metrics.PassDone(pass.name, changed)
		if !changed {
			p.logger.Info("graph-level pass left net unchanged", "role", pass.role)
			continue
		}
		st.Put(pass.variant, optimized)
		*pass.level = pass.variant
		p.logger.Info("graph-level pass optimized net", "role", pass.role, "variant", pass.variant)
	}
	return nil
}

func (p *Pipeline) memory(ctx context.Context, st *store.Store, l *Ledger) error {
	initNet, _ := st.Get(l.Init)
	pred, _ := st.Get(l.Pred)

	var boundary []string
	boundary = appendUnique(boundary, pred.ExternalInputs...)
	boundary = appendUnique(boundary, pred.ExternalOutputs...)
	static := appendUnique(slices.Clone(boundary), initNet.ExternalOutputs...)
	slices.Sort(static)
	l.StaticBlobs = static
	l.PureInputs = nil
	for _, name := range boundary {
		if !slices.Contains(initNet.ExternalOutputs, name) {
			l.PureInputs = append(l.PureInputs, name)
		}
	}
	p.logger.Debug("memory pass inputs", "static", static, "pure_inputs", l.PureInputs)

	data, err := netdef.Marshal(pred)
	if err != nil {
		return err
	}
	var out []byte
	err = p.handle.Exec(ctx, "OptimizeInterference", func(ctx context.Context, e engine.Engine) error {
		var err error
		out, err = e.OptimizeInterference(ctx, data, static)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", PassMemory, err)
	}

	changed := !bytes.Equal(data, out)
	l.Changed[PassMemory] = changed
	p.metrics.PassDone(PassMemory, changed)
	if !changed {
		p.logger.Info("memory pass left pred unchanged")
		return nil
	}
	optimized, err := netdef.Unmarshal(out)
	if err != nil {
		return fmt.Errorf("%s: %w", PassMemory, err)
	}
	st.Put(store.PredO2, optimized)
	l.Pred = store.PredO2
	p.logger.Info("memory pass shared blobs", "variant", store.PredO2)
	return nil
}

func appendUnique(s []string, names ...string) []string {
	for _, n := range names {
		if !slices.Contains(s, n) {
			s = append(s, n)
		}
	}
	return s
}
