package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/siphon/internal/onnx"
	"github.com/zerfoo/siphon/pkg/dtype"
	"github.com/zerfoo/siphon/pkg/engine"
	"github.com/zerfoo/siphon/pkg/engine/native"
	"github.com/zerfoo/siphon/pkg/manifest"
	"github.com/zerfoo/siphon/pkg/netdef"
	"github.com/zerfoo/siphon/pkg/store"
)

func acquired(t *testing.T, e engine.Engine) *engine.Handle {
	t.Helper()
	h := engine.NewHandle(func(context.Context) (engine.Engine, error) { return e, nil })
	require.NoError(t, h.Acquire(context.Background()))
	t.Cleanup(func() { _ = h.Release() })
	return h
}

func sampleStore() *store.Store {
	st := store.New()
	st.Put(store.Init, &netdef.Net{
		ExternalOutputs: []string{"w"},
		Ops: []*netdef.Op{{
			Type:    netdef.ConstantFill,
			Outputs: []string{"w"},
			Args: []*netdef.Arg{
				netdef.IntsArg("shape", []int64{1, 2}),
				netdef.FloatArg("value", 0.5),
			},
		}},
	})
	st.Put(store.Pred, &netdef.Net{
		ExternalInputs:  []string{"x", "w"},
		ExternalOutputs: []string{"y"},
		Ops: []*netdef.Op{
			{Type: "Mul", Inputs: []string{"x", "w"}, Outputs: []string{"y"}, Args: []*netdef.Arg{netdef.IntArg("broadcast", 1)}},
		},
	})
	return st
}

func sampleManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m := manifest.New()
	require.NoError(t, m.Add(manifest.Placeholder{Name: "x", Type: dtype.Float, Dims: []int64{1, 2}}))
	return m
}

// failingEngine fails every translation.
type failingEngine struct {
	engine.Engine
}

func (failingEngine) ModelToNets(context.Context, []byte, string, int64) ([]byte, []byte, error) {
	return nil, nil, errors.New("no backend for opset")
}

func (failingEngine) Close() error { return nil }

func TestExport_UnsupportedExtensionBeforeBoundary(t *testing.T) {
	h := acquired(t, native.New())
	dest := filepath.Join(t.TempDir(), "model.onnx.txt")
	err := New(h).Export(context.Background(), sampleStore(), sampleManifest(t), dest)
	require.ErrorIs(t, err, ErrUnsupportedExtension)
	assert.Zero(t, h.Calls())
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), manifest.FileName))
}

func TestExport_MissingArtifact(t *testing.T) {
	h := acquired(t, native.New())
	st := store.New()
	st.Put(store.Init, &netdef.Net{})
	err := New(h).Export(context.Background(), st, sampleManifest(t), filepath.Join(t.TempDir(), "m.onnx"))
	require.ErrorIs(t, err, store.ErrMissingArtifact)
	assert.Zero(t, h.Calls())
}

func TestExport_WritesModelAndManifest(t *testing.T) {
	h := acquired(t, native.New())
	dir := filepath.Join(t.TempDir(), "out")
	dest := filepath.Join(dir, "model.ONNX")
	st := sampleStore()

	require.NoError(t, New(h).Export(context.Background(), st, sampleManifest(t), dest))
	assert.Equal(t, int64(1), h.Calls())

	initNet, _ := st.Get(store.Init)
	assert.Equal(t, "GivenTensorFill", initNet.Ops[0].Type, "init net is folded in place")

	model, err := onnx.ParseFile(dest)
	require.NoError(t, err)
	require.Len(t, model.Graph.Initializer, 1)
	w := model.Graph.Initializer[0]
	assert.Equal(t, "w", w.Name)
	assert.Equal(t, []int64{1, 2}, w.Dims)
	vals, err := w.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vals)

	require.Len(t, model.Graph.Inputs, 2)
	assert.Equal(t, "x", model.Graph.Inputs[0].Name)
	assert.Equal(t, int32(dtype.Float), model.Graph.Inputs[0].ElemType())

	back, err := manifest.ParseFile(filepath.Join(dir, manifest.FileName))
	require.NoError(t, err)
	assert.True(t, sampleManifest(t).Equal(back))
}

func TestExport_EmptyManifestWarnsOnly(t *testing.T) {
	for name, m := range map[string]*manifest.Manifest{"nil": nil, "empty": manifest.New()} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			dest := filepath.Join(dir, "model.onnx")
			require.NoError(t, New(acquired(t, native.New())).Export(context.Background(), sampleStore(), m, dest))
			assert.NoFileExists(t, filepath.Join(dir, manifest.FileName))

			data, err := os.ReadFile(dest)
			require.NoError(t, err)
			model, err := onnx.Parse(data)
			require.NoError(t, err)
			var names []string
			for _, in := range model.Graph.Inputs {
				names = append(names, in.Name)
				if in.Name == "x" {
					assert.Nil(t, in.Type)
				}
			}
			assert.Contains(t, names, "x")
		})
	}
}

func TestExport_PlaceholderNotAnInput(t *testing.T) {
	m := sampleManifest(t)
	require.NoError(t, m.Add(manifest.Placeholder{Name: "ghost", Type: dtype.Float, Dims: []int64{1}}))
	dest := filepath.Join(t.TempDir(), "model.onnx")

	err := New(acquired(t, native.New())).Export(context.Background(), sampleStore(), m, dest)
	require.ErrorIs(t, err, ErrCorruptModel)
	assert.Contains(t, err.Error(), "ghost")
	assert.NoFileExists(t, dest)
}

func TestCheckInputs(t *testing.T) {
	model := &onnx.ModelProto{Graph: &onnx.GraphProto{Inputs: []*onnx.ValueInfoProto{
		onnx.NewValueInfo("x", int32(dtype.Float), []int64{0, 3}),
	}}}
	ok := manifest.New()
	require.NoError(t, ok.Add(manifest.Placeholder{Name: "x", Type: dtype.Float, Dims: []int64{8, 3}}))
	assert.NoError(t, checkInputs(model, ok))

	for name, p := range map[string]manifest.Placeholder{
		"type":  {Name: "x", Type: dtype.Int64, Dims: []int64{8, 3}},
		"rank":  {Name: "x", Type: dtype.Float, Dims: []int64{3}},
		"dims":  {Name: "x", Type: dtype.Float, Dims: []int64{8, 4}},
		"input": {Name: "y", Type: dtype.Float, Dims: []int64{8, 3}},
	} {
		t.Run(name, func(t *testing.T) {
			m := manifest.New()
			require.NoError(t, m.Add(p))
			assert.ErrorIs(t, checkInputs(model, m), ErrCorruptModel)
		})
	}
}

func writeModel(t *testing.T, m *onnx.ModelProto) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	data, err := onnx.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func importModel() *onnx.ModelProto {
	return &onnx.ModelProto{
		IRVersion:   7,
		OpsetImport: []onnx.OperatorSetID{{Version: 9}},
		Graph: &onnx.GraphProto{
			Name: "g",
			Nodes: []*onnx.NodeProto{
				{OpType: "Add", Inputs: []string{"x", "b"}, Outputs: []string{"y"}},
			},
			Initializer: []*onnx.TensorProto{
				{Name: "b", DataType: onnx.TypeFloat, Dims: []int64{3}, FloatData: []float32{1, 2, 3}},
			},
			Inputs: []*onnx.ValueInfoProto{
				onnx.NewValueInfo("x", onnx.TypeFloat, []int64{1, 3}),
				onnx.NewValueInfo("b", onnx.TypeFloat, []int64{3}),
			},
			Outputs: []*onnx.ValueInfoProto{{Name: "y"}},
		},
	}
}

func TestImport(t *testing.T) {
	h := acquired(t, native.New())
	res, err := New(h, WithDevice(netdef.DeviceOption{DeviceType: netdef.CUDA})).Import(context.Background(), writeModel(t, importModel()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.Calls())

	assert.Equal(t, []string{"x"}, res.Manifest.Names())
	x, _ := res.Manifest.Get("x")
	assert.Equal(t, []int64{1, 3}, x.Dims)

	assert.Equal(t, store.Init, res.Init.Name)
	assert.Equal(t, store.Pred, res.Pred.Name)
	require.Len(t, res.Init.Ops, 1)
	assert.Equal(t, "GivenTensorFill", res.Init.Ops[0].Type)
	require.Len(t, res.Pred.Ops, 1)
	assert.Equal(t, netdef.CUDA, res.Pred.Ops[0].Device.DeviceType)
}

func TestImport_CorruptBeforeBoundary(t *testing.T) {
	h := acquired(t, native.New())
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xff, 0xff}, 0o644))

	_, err := New(h).Import(context.Background(), path)
	require.ErrorIs(t, err, ErrCorruptModel)
	assert.Zero(t, h.Calls())
}

func TestImport_NoGraphIsCorrupt(t *testing.T) {
	h := acquired(t, native.New())
	_, err := New(h).Import(context.Background(), writeModel(t, &onnx.ModelProto{IRVersion: 7}))
	require.ErrorIs(t, err, ErrCorruptModel)
	assert.Zero(t, h.Calls())
}

func TestImport_NotFound(t *testing.T) {
	_, err := New(acquired(t, native.New())).Import(context.Background(), filepath.Join(t.TempDir(), "absent.onnx"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImport_ManifestSurvivesBoundaryFailure(t *testing.T) {
	res, err := New(acquired(t, failingEngine{})).Import(context.Background(), writeModel(t, importModel()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend for opset")
	require.NotNil(t, res)
	assert.Equal(t, []string{"x"}, res.Manifest.Names())
	assert.Nil(t, res.Pred)
}

func TestExportImport_RoundTrip(t *testing.T) {
	h := acquired(t, native.New())
	c := New(h)
	dest := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, c.Export(context.Background(), sampleStore(), sampleManifest(t), dest))

	res, err := c.Import(context.Background(), dest)
	require.NoError(t, err)
	assert.True(t, sampleManifest(t).Equal(res.Manifest))
	assert.Equal(t, []string{"w"}, res.Init.ExternalOutputs)
	require.Len(t, res.Pred.Ops, 1)
	assert.Equal(t, "Mul", res.Pred.Ops[0].Type)
	assert.Equal(t, int64(1), res.Pred.Ops[0].Arg("broadcast").Value.GetI())
}
