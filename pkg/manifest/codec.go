package manifest

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/zerfoo/siphon/pkg/dtype"
)

// Parse decodes manifest text:
//
//	manifest := '{' entry (',' entry)* '}'
//	entry    := '"' name '"' ':' '[' type_code ',' '[' dim (',' dim)* ']' ']'
//
// Whitespace is ignored. The whole input must match; trailing characters are
// rejected rather than dropped.
func Parse(text []byte) (*Manifest, error) {
	return parse("", text)
}

// ParseFile reads and decodes the manifest stored at path.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return parse(path, data)
}

// Marshal encodes m so that Parse(Marshal(m)) equals m.
func Marshal(m *Manifest) ([]byte, error) {
	if m.Len() == 0 {
		return nil, ErrEmpty
	}
	var b bytes.Buffer
	b.WriteString("{\n")
	for i, p := range m.entries {
		if len(p.Dims) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptyShape, p.Name)
		}
		fmt.Fprintf(&b, "  \"%s\": [%d, [", p.Name, int32(p.Type))
		for j, d := range p.Dims {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.FormatInt(d, 10))
		}
		b.WriteString("]]")
		if i < len(m.entries)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.Bytes(), nil
}

// WriteFile encodes m and writes it to path.
func WriteFile(m *Manifest, path string) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

type scanner struct {
	path string
	text []byte
	pos  int
}

func parse(path string, text []byte) (*Manifest, error) {
	s := &scanner{path: path, text: text}
	m := New()

	if err := s.expect('{'); err != nil {
		return nil, err
	}
	for {
		start := s.pos
		p, err := s.entry()
		if err != nil {
			return nil, err
		}
		if _, dup := m.index[p.Name]; dup {
			return nil, s.failAt(start, fmt.Sprintf("duplicate placeholder %q", p.Name))
		}
		m.append(p)

		s.skipSpace()
		if s.peek() == ',' {
			s.pos++
			continue
		}
		break
	}
	if err := s.expect('}'); err != nil {
		return nil, err
	}
	s.skipSpace()
	if s.pos != len(s.text) {
		return nil, s.fail("unexpected trailing input")
	}
	return m, nil
}

func (s *scanner) entry() (Placeholder, error) {
	var p Placeholder
	name, err := s.name()
	if err != nil {
		return p, err
	}
	p.Name = name
	if err := s.expect(':'); err != nil {
		return p, err
	}
	if err := s.expect('['); err != nil {
		return p, err
	}
	codeAt := s.pos
	code, err := s.uint()
	if err != nil {
		return p, err
	}
	if code > math.MaxInt32 || !dtype.DataType(code).Valid() {
		return p, s.failAt(codeAt, fmt.Sprintf("unrecognized element type %d", code))
	}
	p.Type = dtype.DataType(code)
	if err := s.expect(','); err != nil {
		return p, err
	}
	if err := s.expect('['); err != nil {
		return p, err
	}
	for {
		d, err := s.uint()
		if err != nil {
			return p, err
		}
		if d > math.MaxInt64 {
			return p, s.fail("dimension out of range")
		}
		p.Dims = append(p.Dims, int64(d))
		s.skipSpace()
		if s.peek() == ',' {
			s.pos++
			continue
		}
		break
	}
	if err := s.expect(']'); err != nil {
		return p, err
	}
	if err := s.expect(']'); err != nil {
		return p, err
	}
	return p, nil
}

func (s *scanner) name() (string, error) {
	if err := s.expect('"'); err != nil {
		return "", err
	}
	start := s.pos
	end := bytes.IndexByte(s.text[start:], '"')
	if end < 0 {
		return "", s.fail("unterminated name")
	}
	if end == 0 {
		return "", s.fail("empty name")
	}
	s.pos = start + end + 1
	return string(s.text[start : start+end]), nil
}

func (s *scanner) uint() (uint64, error) {
	s.skipSpace()
	start := s.pos
	for s.pos < len(s.text) && s.text[s.pos] >= '0' && s.text[s.pos] <= '9' {
		s.pos++
	}
	if s.pos == start {
		return 0, s.fail("expected non-negative integer")
	}
	v, err := strconv.ParseUint(string(s.text[start:s.pos]), 10, 64)
	if err != nil {
		return 0, s.failAt(start, "integer out of range")
	}
	return v, nil
}

func (s *scanner) expect(c byte) error {
	s.skipSpace()
	if s.peek() != c {
		return s.fail(fmt.Sprintf("expected %q", c))
	}
	s.pos++
	return nil
}

func (s *scanner) peek() byte {
	if s.pos >= len(s.text) {
		return 0
	}
	return s.text[s.pos]
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.text) {
		switch s.text[s.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) fail(msg string) error {
	return s.failAt(s.pos, msg)
}

func (s *scanner) failAt(pos int, msg string) error {
	return &SyntaxError{Path: s.path, Text: string(s.text), Offset: pos, Msg: msg}
}
