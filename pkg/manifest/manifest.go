// Package manifest describes the placeholders (external graph inputs) of a
// model: name, element type and shape. A manifest bridges the native and
// exchange formats, and is persisted next to a model as value_info.json.
package manifest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/zerfoo/siphon/pkg/dtype"
)

// FileName is the on-disk name of a manifest inside a model directory.
const FileName = "value_info.json"

// Placeholder is one external input of a graph.
type Placeholder struct {
	Name string
	Type dtype.DataType
	Dims []int64
}

// NumElements returns the product of the dims. Unknown (zero) dims yield 0.
func (p Placeholder) NumElements() int64 {
	if len(p.Dims) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range p.Dims {
		n *= d
	}
	return n
}

func (p Placeholder) String() string {
	dims := make([]string, len(p.Dims))
	for i, d := range p.Dims {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("%s: %s[%s]", p.Name, p.Type, strings.Join(dims, ", "))
}

// Manifest is an ordered set of placeholders keyed by name.
// Entries keep insertion order, which is also the serialization order.
type Manifest struct {
	entries []Placeholder
	index   map[string]int
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{index: make(map[string]int)}
}

// Len returns the number of placeholders.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Add appends a placeholder. It fails if the name is already present or the
// placeholder is malformed.
func (m *Manifest) Add(p Placeholder) error {
	if err := p.validate(); err != nil {
		return err
	}
	if _, ok := m.index[p.Name]; ok {
		return fmt.Errorf("placeholder %q already defined", p.Name)
	}
	m.append(p)
	return nil
}

// Set replaces the placeholder with the same name, or appends it.
func (m *Manifest) Set(p Placeholder) error {
	if err := p.validate(); err != nil {
		return err
	}
	if i, ok := m.index[p.Name]; ok {
		m.entries[i] = clonePlaceholder(p)
		return nil
	}
	m.append(p)
	return nil
}

func (m *Manifest) append(p Placeholder) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	m.index[p.Name] = len(m.entries)
	m.entries = append(m.entries, clonePlaceholder(p))
}

func (p Placeholder) validate() error {
	if p.Name == "" || strings.ContainsRune(p.Name, '"') {
		return fmt.Errorf("invalid placeholder name %q", p.Name)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("placeholder %q: unrecognized element type %d", p.Name, int32(p.Type))
	}
	for _, d := range p.Dims {
		if d < 0 {
			return fmt.Errorf("placeholder %q: negative dimension %d", p.Name, d)
		}
	}
	return nil
}

// Get returns the placeholder named name.
func (m *Manifest) Get(name string) (Placeholder, bool) {
	if m == nil {
		return Placeholder{}, false
	}
	i, ok := m.index[name]
	if !ok {
		return Placeholder{}, false
	}
	return clonePlaceholder(m.entries[i]), true
}

// Entries returns a copy of the placeholders in manifest order.
func (m *Manifest) Entries() []Placeholder {
	if m == nil {
		return nil
	}
	out := make([]Placeholder, len(m.entries))
	for i, p := range m.entries {
		out[i] = clonePlaceholder(p)
	}
	return out
}

// Names returns placeholder names in manifest order.
func (m *Manifest) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.entries))
	for i, p := range m.entries {
		out[i] = p.Name
	}
	return out
}

// Equal reports whether both manifests hold the same placeholders in the
// same order.
func (m *Manifest) Equal(o *Manifest) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i := range m.Len() {
		a, b := m.entries[i], o.entries[i]
		if a.Name != b.Name || a.Type != b.Type || !slices.Equal(a.Dims, b.Dims) {
			return false
		}
	}
	return true
}

// String renders one placeholder per line, each prefixed with prefix.
func (m *Manifest) String(prefix string) string {
	var b strings.Builder
	for _, p := range m.Entries() {
		b.WriteString(prefix)
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func clonePlaceholder(p Placeholder) Placeholder {
	p.Dims = slices.Clone(p.Dims)
	return p
}
