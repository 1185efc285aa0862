package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		role Role
		ok   bool
	}{
		{"init.pb", Init, true},
		{"init_net.pbtxt", Init, true},
		{"INIT.PB", Init, true},
		{"pred.prototxt", Pred, true},
		{"predict_net.pb", Pred, true},
		{"predict.pbtxt", Pred, true},
		{"model.onnx", Exchange, true},
		{"network.ONNX", Exchange, true},
		{"value_info.json", Manifest, true},
		{"valueinfo.json", Manifest, true},
		{"model.pb", "", false},
		{"init.onnx", "", false},
		{"weights.bin", "", false},
		{"value_info.txt", "", false},
		{"init", "", false},
	}
	for _, tt := range tests {
		role, ok := Match(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.role, role, tt.name)
	}
}

func TestClassify_InitPredAndManifest(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "init.pb", "pred.pbtxt", "value_info.json", "README.md")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	r, err := Classify(dir, nil)
	require.NoError(t, err)
	assert.Len(t, r.Files, 3)
	assert.Empty(t, r.Warnings)
	assert.Len(t, r.Skipped, 2)

	var roles []Role
	for _, e := range r.Plan() {
		roles = append(roles, e.Role)
	}
	assert.Equal(t, []Role{Manifest, Init, Pred}, roles)
}

func TestClassify_ExchangeOnly(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "model.onnx")
	r, err := Classify(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Dir, "model.onnx"), r.Files[Exchange])
	assert.True(t, r.Has(Exchange))
	assert.False(t, r.Has(Init))
}

func TestClassify_CollisionLastWins(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "init.pb", "init_net.pb")
	r, err := Classify(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Dir, "init_net.pb"), r.Files[Init])
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "init_net.pb overrides init.pb")
}

func TestClassify_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Classify(filepath.Join(dir, "missing"), nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), filepath.Join(dir, "missing"))

	touch(t, dir, "file.txt")
	_, err = Classify(filepath.Join(dir, "file.txt"), nil)
	assert.ErrorIs(t, err, ErrNotADirectory)
}

func TestClassify_EmptyDirectory(t *testing.T) {
	r, err := Classify(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, r.Files)
	assert.Empty(t, r.Plan())
}
