// Package siphon ties the converter pieces into a session: load a model
// directory, optimize it, and save it in the native or the exchange format.
package siphon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/zerfoo/siphon/internal/telemetry"
	"github.com/zerfoo/siphon/pkg/classifier"
	"github.com/zerfoo/siphon/pkg/converter"
	"github.com/zerfoo/siphon/pkg/engine"
	"github.com/zerfoo/siphon/pkg/manifest"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/optimize"
	"github.com/zerfoo/siphon/pkg/store"
	"github.com/zerfoo/siphon/pkg/workspace"
)

// Session owns the nets, the manifest and the workspace of one conversion.
// It holds a reference on the engine handle until Close. A Session is not
// safe for concurrent use.
type Session struct {
	handle  *engine.Handle
	logger  *slog.Logger
	metrics *telemetry.Metrics
	device  netdef.DeviceOption
	opset   int64
	optOpts optimize.Options

	store    *store.Store
	manifest *manifest.Manifest
	ledger   *optimize.Ledger
	ws       *workspace.Workspace
	conv     *converter.Converter
	closed   bool
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithDevice sets the device of folded literals and imported ops.
func WithDevice(d netdef.DeviceOption) Option {
	return func(s *Session) { s.device = d }
}

// WithOpset sets the opset requested when importing exchange models.
func WithOpset(v int64) Option {
	return func(s *Session) { s.opset = v }
}

func WithOptimizeOptions(o optimize.Options) Option {
	return func(s *Session) { s.optOpts = o }
}

// New acquires h and returns an empty session.
func New(ctx context.Context, h *engine.Handle, opts ...Option) (*Session, error) {
	s := &Session{
		handle:   h,
		logger:   slog.Default(),
		opset:    converter.DefaultOpset,
		store:    store.New(),
		manifest: manifest.New(),
		ledger:   optimize.NewLedger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.Discard()
	}
	s.ws = workspace.New(workspace.WithLogger(s.logger))
	s.conv = converter.New(h,
		converter.WithLogger(s.logger),
		converter.WithDevice(s.device),
		converter.WithOpset(s.opset),
		converter.WithMetrics(s.metrics),
	)
	if err := h.Acquire(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the engine reference. Calling it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handle.Release()
}

func (s *Session) Store() *store.Store             { return s.store }
func (s *Session) Manifest() *manifest.Manifest    { return s.manifest }
func (s *Session) Ledger() *optimize.Ledger        { return s.ledger }
func (s *Session) Workspace() *workspace.Workspace { return s.ws }

// Load classifies the files of dir and applies them in plan order: the
// manifest, the init net, an exchange model, then the pred net. Every
// placeholder then receives a zero-filled blob.
func (s *Session) Load(ctx context.Context, dir string) (*classifier.Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "Session.Load")
	defer span.End()

	report, err := classifier.Classify(dir, s.logger)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	for _, e := range report.Plan() {
		s.logger.Debug("loading", "role", string(e.Role), "path", e.Path)
		if err := s.apply(ctx, e); err != nil {
			telemetry.RecordError(span, err)
			return report, err
		}
	}
	if !report.Has(classifier.Manifest) && !report.Has(classifier.Exchange) {
		s.logger.Warn("no placeholder manifest found", "dir", report.Dir)
	}
	for _, p := range s.manifest.Entries() {
		if !workspace.Supported(p.Type) {
			s.logger.Warn("no zero blob for placeholder", "placeholder", p.Name, "type", p.Type.String())
			continue
		}
		if err := s.ws.FeedZeros(p); err != nil {
			return report, err
		}
	}
	s.ledger = optimize.NewLedger()
	s.logger.Info("loaded model directory", "dir", report.Dir, "roles", s.store.Roles(), "placeholders", s.manifest.Len())
	return report, nil
}

func (s *Session) apply(ctx context.Context, e classifier.Entry) error {
	switch e.Role {
	case classifier.Manifest:
		m, err := manifest.ParseFile(e.Path)
		if err != nil {
			return err
		}
		s.manifest = m
	case classifier.Init:
		return s.putNet(store.Init, e.Path)
	case classifier.Pred:
		return s.putNet(store.Pred, e.Path)
	case classifier.Exchange:
		res, err := s.conv.Import(ctx, e.Path)
		if res != nil {
			for _, p := range res.Manifest.Entries() {
				if err := s.manifest.Set(p); err != nil {
					return err
				}
			}
		}
		if err != nil {
			return err
		}
		for _, n := range []*netdef.Net{res.Init, res.Pred} {
			if s.store.Put(n.Name, n) {
				s.logger.Warn("imported net replaces loaded net", "role", n.Name)
			}
		}
		if err := s.ws.CreateNet(res.Init); err != nil {
			return err
		}
		return s.ws.CreateNet(res.Pred)
	}
	return nil
}

func (s *Session) putNet(role, path string) error {
	n, err := netdef.ReadFile(path)
	if err != nil {
		return err
	}
	if s.store.Put(role, n) {
		s.logger.Warn("net replaces loaded net", "role", role, "path", path)
	}
	return s.ws.CreateNet(n)
}

// Save writes the current init and pred levels to dir as init.pb and
// pred.prototxt, plus value_info.json when the manifest is not empty.
func (s *Session) Save(_ context.Context, dir string) error {
	if err := s.store.Require(store.Init, store.Pred); err != nil {
		return err
	}
	if err := s.store.Save(dir, s.ledger.Init, s.ledger.Pred); err != nil {
		return err
	}
	if s.manifest.Len() > 0 {
		if err := manifest.WriteFile(s.manifest, filepath.Join(dir, manifest.FileName)); err != nil {
			return err
		}
	}
	s.logger.Info("saved native model", "dir", dir, "init", s.ledger.Init, "pred", s.ledger.Pred)
	return nil
}

// SaveONNX exports the session to an exchange model at dest.
func (s *Session) SaveONNX(ctx context.Context, dest string) error {
	return s.conv.Export(ctx, s.store, s.manifest, dest)
}

// Optimize runs the optimization pipeline and records its ledger. Variants
// stored before a failing pass stay reachable through the ledger.
func (s *Session) Optimize(ctx context.Context) (*optimize.Ledger, error) {
	p := optimize.New(s.handle, s.optOpts,
		optimize.WithLogger(s.logger),
		optimize.WithMetrics(s.metrics),
	)
	l, err := p.Optimize(ctx, s.store)
	if l != nil {
		s.ledger = l
	}
	return l, err
}

// RunInit executes the init net in the session workspace.
func (s *Session) RunInit(ctx context.Context) error {
	n, ok := s.store.Get(store.Init)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrMissingArtifact, store.Init)
	}
	if _, ok := s.ws.Net(n.Name); !ok {
		if err := s.ws.CreateNet(n); err != nil {
			return err
		}
	}
	return s.ws.RunNetOnce(ctx, n.Name)
}

// ShowValueInfo lists the placeholders, one per line, each prefixed with
// prefix.
func (s *Session) ShowValueInfo(prefix string) string {
	return s.manifest.String(prefix)
}
