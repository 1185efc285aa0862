// Package store keeps the graph artifacts of a session keyed by role.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zerfoo/siphon/pkg/netdef"
)

// Canonical roles and the variants produced by optimization.
const (
	Init   = "init"
	Pred   = "pred"
	InitO1 = "init_O1"
	PredO1 = "pred_O1"
	PredO2 = "pred_O2"
)

// File names used by Save.
const (
	InitFile = "init.pb"
	PredFile = "pred.prototxt"
)

// ErrMissingArtifact is returned when a required role is absent.
var ErrMissingArtifact = errors.New("missing graph artifact")

// Store is an insertion-ordered map from role to net. It has no removal
// operation and is not safe for concurrent mutation.
type Store struct {
	roles []string
	nets  map[string]*netdef.Net
}

// New returns an empty store.
func New() *Store {
	return &Store{nets: make(map[string]*netdef.Net)}
}

// Put stores n under role, renaming the net to role. It reports whether an
// earlier net was replaced.
func (s *Store) Put(role string, n *netdef.Net) bool {
	n.Name = role
	_, replaced := s.nets[role]
	if !replaced {
		s.roles = append(s.roles, role)
	}
	s.nets[role] = n
	return replaced
}

// Get returns the net stored under role.
func (s *Store) Get(role string) (*netdef.Net, bool) {
	n, ok := s.nets[role]
	return n, ok
}

// Has reports whether role is present.
func (s *Store) Has(role string) bool {
	_, ok := s.nets[role]
	return ok
}

// Roles returns roles in insertion order.
func (s *Store) Roles() []string {
	return append([]string(nil), s.roles...)
}

// Len returns the number of stored nets.
func (s *Store) Len() int {
	return len(s.roles)
}

// Require fails with ErrMissingArtifact naming the first absent role.
func (s *Store) Require(roles ...string) error {
	for _, r := range roles {
		if !s.Has(r) {
			return fmt.Errorf("%w: %s", ErrMissingArtifact, r)
		}
	}
	return nil
}

// Save writes the nets stored under initRole and predRole into dir as
// init.pb and pred.prototxt. dir is created if needed.
func (s *Store) Save(dir, initRole, predRole string) error {
	if err := s.Require(initRole, predRole); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := netdef.WriteFile(s.nets[initRole], filepath.Join(dir, InitFile)); err != nil {
		return err
	}
	return netdef.WriteFile(s.nets[predRole], filepath.Join(dir, PredFile))
}
