package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/siphon/pkg/dtype"
)

func mustManifest(t *testing.T, entries ...Placeholder) *Manifest {
	t.Helper()
	m := New()
	for _, p := range entries {
		require.NoError(t, m.Add(p))
	}
	return m
}

func TestParse_SingleEntryLegacyForm(t *testing.T) {
	m, err := Parse([]byte(`{"data": [1, [1, 3, 224, 224]]}`))
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	p, ok := m.Get("data")
	require.True(t, ok)
	assert.Equal(t, dtype.Float, p.Type)
	assert.Equal(t, []int64{1, 3, 224, 224}, p.Dims)
}

func TestParse_MultiEntryArbitraryRank(t *testing.T) {
	text := "\n{ \"ids\" :[7,[ 1 ,128]] ,\n\t\"scale\": [11, [1]], \"img\":[1,[2,3,4,5,6]] }\n\n"
	m, err := Parse([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, []string{"ids", "scale", "img"}, m.Names())

	ids, _ := m.Get("ids")
	assert.Equal(t, dtype.Int64, ids.Type)
	assert.Equal(t, []int64{1, 128}, ids.Dims)

	img, _ := m.Get("img")
	assert.Len(t, img.Dims, 5)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty input", ""},
		{"empty object", "{}"},
		{"trailing garbage", `{"x": [1, [1]]} extra`},
		{"trailing comma", `{"x": [1, [1]],}`},
		{"negative dim", `{"x": [1, [-1]]}`},
		{"empty shape", `{"x": [1, []]}`},
		{"unknown type code", `{"x": [99, [1]]}`},
		{"undefined type code", `{"x": [0, [1]]}`},
		{"empty name", `{"": [1, [1]]}`},
		{"unterminated name", `{"x: [1, [1]]}`},
		{"duplicate name", `{"x": [1, [1]], "x": [1, [2]]}`},
		{"float dim", `{"x": [1, [1.5]]}`},
		{"missing closing brace", `{"x": [1, [1]]`},
		{"two manifests", `{"x": [1, [1]]}{"y": [1, [1]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.text))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax), "want ErrSyntax, got %v", err)

			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.text, se.Text)
		})
	}
}

func TestParseFile_SyntaxErrorCarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"x": [1, [1]]} junk`), 0o644))

	_, err := ParseFile(path)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, path, se.Path)
	assert.Contains(t, err.Error(), path)
}

func TestMarshal_Format(t *testing.T) {
	m := mustManifest(t,
		Placeholder{Name: "data", Type: dtype.Float, Dims: []int64{1, 3, 224, 224}},
		Placeholder{Name: "len", Type: dtype.Int32, Dims: []int64{1}},
	)
	out, err := Marshal(m)
	require.NoError(t, err)
	want := "{\n" +
		"  \"data\": [1, [1, 3, 224, 224]],\n" +
		"  \"len\": [6, [1]]\n" +
		"}\n"
	assert.Equal(t, want, string(out))
}

func TestMarshal_RoundTrip(t *testing.T) {
	cases := map[string]*Manifest{
		"single": mustManifest(t,
			Placeholder{Name: "input_0", Type: dtype.Float, Dims: []int64{1, 3, 32, 32}},
		),
		"multi": mustManifest(t,
			Placeholder{Name: "a", Type: dtype.Double, Dims: []int64{5}},
			Placeholder{Name: "b b", Type: dtype.Int64, Dims: []int64{0, 7, 1}},
			Placeholder{Name: "c/d:0", Type: dtype.Bool, Dims: []int64{2, 2, 2, 2, 2, 2}},
		),
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := Marshal(m)
			require.NoError(t, err)
			back, err := Parse(out)
			require.NoError(t, err)
			assert.True(t, m.Equal(back), "round trip changed manifest:\n%s", out)
		})
	}
}

func TestMarshal_Errors(t *testing.T) {
	_, err := Marshal(New())
	assert.ErrorIs(t, err, ErrEmpty)

	m := mustManifest(t, Placeholder{Name: "scalar", Type: dtype.Float})
	_, err = Marshal(m)
	assert.ErrorIs(t, err, ErrEmptyShape)
}

func TestWriteFile_ThenParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	m := mustManifest(t, Placeholder{Name: "x", Type: dtype.Float, Dims: []int64{2, 2}})
	require.NoError(t, WriteFile(m, path))

	back, err := ParseFile(path)
	require.NoError(t, err)
	assert.True(t, m.Equal(back))
}
