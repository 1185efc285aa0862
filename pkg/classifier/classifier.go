// Package classifier decides, from file names alone, which role each file of
// a model directory plays.
package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Role is the part a file plays in a model directory.
type Role string

const (
	Init     Role = "init"
	Pred     Role = "pred"
	Exchange Role = "exchange"
	Manifest Role = "manifest"
)

var (
	// ErrNotFound is returned when the directory does not exist.
	ErrNotFound = errors.New("directory not found")
	// ErrNotADirectory is returned when the path is not a directory.
	ErrNotADirectory = errors.New("not a directory")
)

// Rule maps lower-cased file stems and extensions to a role.
type Rule struct {
	Role  Role
	Stems []string
	Exts  []string
}

var netExts = []string{".pb", ".pbtxt", ".prototxt"}

// Rules is consulted in order; the first matching rule wins.
var Rules = []Rule{
	{Role: Init, Stems: []string{"init", "init_net"}, Exts: netExts},
	{Role: Pred, Stems: []string{"pred", "predict", "pred_net", "predict_net"}, Exts: netExts},
	{Role: Exchange, Stems: []string{"model", "net", "network"}, Exts: []string{".onnx"}},
	{Role: Manifest, Stems: []string{"value_info", "valueinfo"}, Exts: []string{".json"}},
}

// Match classifies a file name. Matching ignores case.
func Match(filename string) (Role, bool) {
	base := strings.ToLower(filepath.Base(filename))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for _, r := range Rules {
		if slices.Contains(r.Exts, ext) && slices.Contains(r.Stems, stem) {
			return r.Role, true
		}
	}
	return "", false
}

// Report is the outcome of classifying a directory.
type Report struct {
	Dir      string
	Files    map[Role]string
	Warnings []string
	Skipped  []string
}

// Has reports whether a file was classified as role.
func (r *Report) Has(role Role) bool {
	_, ok := r.Files[role]
	return ok
}

// Entry is one step of a load plan.
type Entry struct {
	Role Role
	Path string
}

// planOrder defers the pred net until the init net and any exchange model
// have been applied.
var planOrder = []Role{Manifest, Init, Exchange, Pred}

// Plan returns the classified files in processing order.
func (r *Report) Plan() []Entry {
	var out []Entry
	for _, role := range planOrder {
		if path, ok := r.Files[role]; ok {
			out = append(out, Entry{Role: role, Path: path})
		}
	}
	return out
}

// Classify scans dir without descending into subdirectories. Entries are
// visited in name order; when two files claim the same role the later one
// wins and a warning is recorded.
func Classify(dir string, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, abs)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, abs)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}
	r := &Report{Dir: abs, Files: make(map[Role]string)}
	for _, e := range entries {
		path := filepath.Join(abs, e.Name())
		if e.IsDir() {
			logger.Debug("skipping subdirectory", "path", path)
			r.Skipped = append(r.Skipped, path)
			continue
		}
		role, ok := Match(e.Name())
		if !ok {
			logger.Debug("skipping unrecognized file", "path", path)
			r.Skipped = append(r.Skipped, path)
			continue
		}
		if prev, dup := r.Files[role]; dup {
			msg := fmt.Sprintf("%s overrides %s as %s", e.Name(), filepath.Base(prev), role)
			logger.Warn("role collision", "role", string(role), "previous", prev, "path", path)
			r.Warnings = append(r.Warnings, msg)
		}
		r.Files[role] = path
	}
	return r, nil
}
