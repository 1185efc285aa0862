package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/siphon/pkg/netdef"
)

func TestStore_PutKeepsOrderAndRenames(t *testing.T) {
	s := New()
	assert.False(t, s.Put(Pred, &netdef.Net{Name: "whatever"}))
	assert.False(t, s.Put(Init, &netdef.Net{}))
	assert.True(t, s.Put(Pred, &netdef.Net{Name: "again"}))

	assert.Equal(t, []string{Pred, Init}, s.Roles())
	assert.Equal(t, 2, s.Len())
	n, ok := s.Get(Pred)
	require.True(t, ok)
	assert.Equal(t, Pred, n.Name)
}

func TestStore_Require(t *testing.T) {
	s := New()
	s.Put(Init, &netdef.Net{})
	require.NoError(t, s.Require(Init))

	err := s.Require(Init, Pred)
	assert.ErrorIs(t, err, ErrMissingArtifact)
	assert.Contains(t, err.Error(), Pred)
}

func TestStore_Save(t *testing.T) {
	s := New()
	s.Put(Init, &netdef.Net{ExternalOutputs: []string{"w"}, Ops: []*netdef.Op{{Type: "ConstantFill", Outputs: []string{"w"}}}})
	s.Put(Pred, &netdef.Net{ExternalInputs: []string{"w"}})
	s.Put(PredO2, &netdef.Net{ExternalInputs: []string{"w", "x"}})

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, s.Save(dir, Init, PredO2))

	pred, err := netdef.ReadFile(filepath.Join(dir, PredFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"w", "x"}, pred.ExternalInputs)

	initNet, err := netdef.ReadFile(filepath.Join(dir, InitFile))
	require.NoError(t, err)
	assert.Len(t, initNet.Ops, 1)

	assert.ErrorIs(t, New().Save(dir, Init, Pred), ErrMissingArtifact)
}
