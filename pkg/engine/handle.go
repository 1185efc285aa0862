package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zerfoo/siphon/internal/telemetry"
)

// ErrBoundaryNotReady is returned by Exec when no reference is held.
var ErrBoundaryNotReady = errors.New("engine boundary not ready")

// Handle shares one engine between any number of holders. The first Acquire
// starts the engine, the last Release closes it. Exec serializes calls, so
// at most one boundary call runs at a time.
type Handle struct {
	start   Starter
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	refs    int
	engine  Engine
	session string

	execMu sync.Mutex
	calls  atomic.Int64
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithLogger sets the handle logger.
func WithLogger(l *slog.Logger) HandleOption {
	return func(h *Handle) { h.logger = l }
}

// WithMetrics sets the counters boundary calls are recorded in.
func WithMetrics(m *telemetry.Metrics) HandleOption {
	return func(h *Handle) { h.metrics = m }
}

// NewHandle returns a handle that starts its engine with start.
func NewHandle(start Starter, opts ...HandleOption) *Handle {
	h := &Handle{start: start, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = telemetry.Discard()
	}
	return h
}

// Acquire takes a reference, starting the engine if none was held.
func (h *Handle) Acquire(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		e, err := h.start(ctx)
		if err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
		h.engine = e
		h.session = uuid.NewString()
		h.logger.Debug("engine started", "session", h.session)
	}
	h.refs++
	return nil
}

// Release drops a reference, closing the engine when it was the last one.
// Releasing an unheld handle is a no-op.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	e, session := h.engine, h.session
	h.engine, h.session = nil, ""
	h.logger.Debug("engine closing", "session", session)
	if err := e.Close(); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}

// Refs returns the number of references held.
func (h *Handle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// Calls returns the number of boundary calls made through Exec.
func (h *Handle) Calls() int64 {
	return h.calls.Load()
}

// Exec runs fn against the engine. It fails with ErrBoundaryNotReady when no
// reference is held. Exec holds its own reference while fn runs, so a
// concurrent final Release closes the engine only after fn returns.
func (h *Handle) Exec(ctx context.Context, method string, fn func(ctx context.Context, e Engine) error) (err error) {
	h.mu.Lock()
	if h.refs == 0 {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBoundaryNotReady, method)
	}
	h.refs++
	e, session := h.engine, h.session
	h.mu.Unlock()
	defer func() { err = errors.Join(err, h.Release()) }()

	h.execMu.Lock()
	defer h.execMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "engine."+method,
		trace.WithAttributes(attribute.String("engine.session", session)))
	defer span.End()

	h.calls.Add(1)
	h.metrics.BoundaryCalls.WithLabelValues(method).Inc()
	h.logger.Debug("boundary call", "method", method, "session", session)
	if err := fn(ctx, e); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}
