// Package converter moves models between the native format and the exchange
// format. Translation itself happens behind the engine boundary; the
// converter folds constants, builds the placeholder manifest and checks what
// comes back.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/internal/telemetry"
	"github.com/zerfoo/siphon/pkg/dtype"
	"github.com/zerfoo/siphon/pkg/engine"
	"github.com/zerfoo/siphon/pkg/manifest"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/rewrite"
	"github.com/zerfoo/siphon/pkg/store"
)

// Extension is the only destination extension Export accepts.
const Extension = ".onnx"

// DefaultOpset is the opset requested from the engine on import.
const DefaultOpset = 9

var (
	ErrUnsupportedExtension = errors.New("unsupported destination extension")
	ErrCorruptModel         = errors.New("corrupt exchange model")
	ErrNotFound             = errors.New("exchange model not found")
)

// Converter drives export and import through an engine handle that the
// caller keeps acquired.
type Converter struct {
	handle   *engine.Handle
	rewriter *rewrite.Rewriter
	opset    int64
	device   netdef.DeviceOption
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

type Option func(*Converter)

func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

// WithDevice sets the device of folded literals and imported ops.
func WithDevice(d netdef.DeviceOption) Option {
	return func(c *Converter) { c.device = d }
}

func WithOpset(v int64) Option {
	return func(c *Converter) { c.opset = v }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Converter) { c.metrics = m }
}

// New returns a converter calling the engine through h.
func New(h *engine.Handle, opts ...Option) *Converter {
	c := &Converter{handle: h, opset: DefaultOpset, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.rewriter = &rewrite.Rewriter{Device: c.device, Logger: c.logger, Metrics: c.metrics}
	return c
}

// Export folds the init and pred nets of st, translates them to an exchange
// model and writes it to dest. m describes the pred inputs; it is written as
// value_info.json next to dest. The destination extension is checked before
// anything else.
func (c *Converter) Export(ctx context.Context, st *store.Store, m *manifest.Manifest, dest string) error {
	if ext := strings.ToLower(filepath.Ext(dest)); ext != Extension {
		return fmt.Errorf("%w: %q, want %s", ErrUnsupportedExtension, dest, Extension)
	}
	if err := st.Require(store.Init, store.Pred); err != nil {
		return err
	}
	ctx, span := telemetry.StartSpan(ctx, "Converter.Export")
	defer span.End()

	if m.Len() == 0 {
		c.logger.Warn("no placeholder manifest, exported model inputs may be untyped", "dest", dest)
	}

	initNet, _ := st.Get(store.Init)
	predNet, _ := st.Get(store.Pred)
	for _, n := range []*netdef.Net{initNet, predNet} {
		if _, err := c.rewriter.EvalFill(ctx, n); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	if m.Len() > 0 {
		if err := manifest.WriteFile(m, filepath.Join(filepath.Dir(dest), manifest.FileName)); err != nil {
			return err
		}
	}

	initBytes, err := netdef.Marshal(initNet)
	if err != nil {
		return err
	}
	predBytes, err := netdef.Marshal(predNet)
	if err != nil {
		return err
	}
	inputs := make(map[string]engine.TensorInfo, m.Len())
	for _, p := range m.Entries() {
		inputs[p.Name] = engine.TensorInfo{ElemType: int32(p.Type), Dims: p.Dims}
	}

	var model []byte
	err = c.handle.Exec(ctx, "NetsToModel", func(ctx context.Context, e engine.Engine) error {
		var err error
		if model, err = e.NetsToModel(ctx, initBytes, predBytes, inputs); err != nil {
			return err
		}
		return e.CheckModel(ctx, model)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to convert to %s: %w", dest, err)
	}

	parsed, err := onnx.Parse(model)
	if err != nil {
		return fmt.Errorf("%w: engine returned an unreadable model: %w", netdef.ErrDeserializationFailed, err)
	}
	if err := checkInputs(parsed, m); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	if err := os.WriteFile(dest, model, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	c.logger.Info("exported model", "dest", dest, "bytes", len(model), "nodes", len(parsed.Graph.Nodes))
	return nil
}

// checkInputs verifies that every placeholder is a graph input of the same
// element type and rank. Dims must match where both sides know them.
func checkInputs(model *onnx.ModelProto, m *manifest.Manifest) error {
	declared := make(map[string]*onnx.ValueInfoProto)
	for _, in := range model.Graph.Inputs {
		declared[in.Name] = in
	}
	for _, p := range m.Entries() {
		in, ok := declared[p.Name]
		if !ok {
			return fmt.Errorf("%w: placeholder %q is not a graph input", ErrCorruptModel, p.Name)
		}
		if got := dtype.DataType(in.ElemType()); got != p.Type {
			return fmt.Errorf("%w: input %q has element type %s, placeholder has %s", ErrCorruptModel, p.Name, got, p.Type)
		}
		dims := in.Dims()
		if len(dims) != len(p.Dims) {
			return fmt.Errorf("%w: input %q has rank %d, placeholder has %d", ErrCorruptModel, p.Name, len(dims), len(p.Dims))
		}
		for i, d := range dims {
			if d != 0 && p.Dims[i] != 0 && d != p.Dims[i] {
				return fmt.Errorf("%w: input %q has dims %v, placeholder has %v", ErrCorruptModel, p.Name, dims, p.Dims)
			}
		}
	}
	return nil
}

// ImportResult holds what Import recovered from an exchange model.
type ImportResult struct {
	Init     *netdef.Net
	Pred     *netdef.Net
	Manifest *manifest.Manifest
}

// Import reads the exchange model at src. Declared inputs that are not
// initializers become placeholders before the engine is called, so the
// returned result carries the manifest even when translation fails. The
// nets are never executed.
func (c *Converter) Import(ctx context.Context, src string) (*ImportResult, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}
	model, err := onnx.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptModel, src, err)
	}
	ctx, span := telemetry.StartSpan(ctx, "Converter.Import")
	defer span.End()

	res := &ImportResult{Manifest: c.placeholders(model)}

	var initBytes, predBytes []byte
	err = c.handle.Exec(ctx, "ModelToNets", func(ctx context.Context, e engine.Engine) error {
		var err error
		initBytes, predBytes, err = e.ModelToNets(ctx, data, c.device.String(), c.opset)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return res, fmt.Errorf("failed to convert %s: %w", src, err)
	}
	if res.Init, err = netdef.Unmarshal(initBytes); err != nil {
		return res, fmt.Errorf("init net of %s: %w", src, err)
	}
	if res.Pred, err = netdef.Unmarshal(predBytes); err != nil {
		return res, fmt.Errorf("pred net of %s: %w", src, err)
	}
	res.Init.Name = store.Init
	res.Pred.Name = store.Pred
	c.logger.Info("imported model", "src", src,
		"init_ops", len(res.Init.Ops), "pred_ops", len(res.Pred.Ops), "placeholders", res.Manifest.Names())
	return res, nil
}

func (c *Converter) placeholders(model *onnx.ModelProto) *manifest.Manifest {
	m := manifest.New()
	initialized := model.Graph.InitializerNames()
	for _, in := range model.Graph.Inputs {
		if initialized[in.Name] {
			continue
		}
		p := manifest.Placeholder{
			Name: in.Name,
			Type: dtype.DataType(in.ElemType()),
			Dims: slices.Clone(in.Dims()),
		}
		if err := m.Add(p); err != nil {
			c.logger.Warn("skipping graph input", "input", in.Name, "error", err)
		}
	}
	return m
}
