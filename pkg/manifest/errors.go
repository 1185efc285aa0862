package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax is matched by every *SyntaxError.
	ErrSyntax = errors.New("manifest syntax error")

	// ErrEmpty is returned when serializing a manifest without placeholders.
	ErrEmpty = errors.New("manifest has no placeholders")

	// ErrEmptyShape is returned when serializing a placeholder without dims.
	ErrEmptyShape = errors.New("placeholder has no dimensions")
)

// SyntaxError reports text that does not match the manifest grammar.
// Text holds the raw input so the caller can show what was rejected.
type SyntaxError struct {
	Path   string
	Text   string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	where := "<input>"
	if e.Path != "" {
		where = e.Path
	}
	return fmt.Sprintf("%s: %s at offset %d in %q", where, e.Msg, e.Offset, e.Text)
}

// Unwrap lets errors.Is match ErrSyntax.
func (e *SyntaxError) Unwrap() error { return ErrSyntax }
