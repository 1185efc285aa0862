// Package native is the in-process engine: it translates between native nets
// and exchange models and runs the graph optimizers without leaving Go.
package native

import (
	"context"
	"log/slog"

	"github.com/zerfoo/siphon/pkg/engine"
)

const (
	// IRVersion is the exchange IR version written by NetsToModel.
	IRVersion = 7
	// DefaultOpset is used when no opset is configured.
	DefaultOpset = 9
)

// Engine implements engine.Engine in process.
type Engine struct {
	logger  *slog.Logger
	opset   int64
	version string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOpset sets the opset written into exported models.
func WithOpset(v int64) Option {
	return func(e *Engine) { e.opset = v }
}

// WithVersion sets the producer version written into exported models.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// New returns an in-process engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), opset: DefaultOpset}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Starter returns an engine.Starter creating a new in-process engine.
func Starter(opts ...Option) engine.Starter {
	return func(context.Context) (engine.Engine, error) {
		return New(opts...), nil
	}
}

// Close is a no-op; the engine holds no resources.
func (e *Engine) Close() error { return nil }

var _ engine.Engine = (*Engine)(nil)
