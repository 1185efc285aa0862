package telemetry

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters siphon exports.
type Metrics struct {
	// BoundaryCalls counts calls across the engine boundary by method.
	BoundaryCalls *prometheus.CounterVec

	// FoldedOps counts literal-fill ops emitted by constant folding, by op type.
	FoldedOps *prometheus.CounterVec

	// OptimizePasses counts optimization passes by pass and whether they
	// changed the net.
	OptimizePasses *prometheus.CounterVec
}

// NewMetrics registers the siphon counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BoundaryCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siphon_boundary_calls_total",
			Help: "Calls made across the external engine boundary.",
		}, []string{"method"}),
		FoldedOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siphon_folded_ops_total",
			Help: "Literal-fill ops produced by constant folding.",
		}, []string{"type"}),
		OptimizePasses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siphon_optimize_passes_total",
			Help: "Optimization passes run.",
		}, []string{"pass", "changed"}),
	}
}

// Discard returns metrics bound to a private registry, for callers that do
// not export them.
func Discard() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// PassDone records one optimization pass.
func (m *Metrics) PassDone(pass string, changed bool) {
	m.OptimizePasses.WithLabelValues(pass, strconv.FormatBool(changed)).Inc()
}

// WriteMetrics writes everything gathered from g to path in the Prometheus
// text format.
func WriteMetrics(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
