package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"xpengine/adapters/memory"
	"xpengine/core"
	"xpengine/engine"
)

// Store keeps state in memory and rewrites a single JSON file on every commit.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mem  *memory.Store
}

func New(path string) (*Store, error) {
	s := &Store{path: path}
	initial, err := s.load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	s.mem = memory.NewPersistent(initial, s.persist)
	return s, nil
}

func (s *Store) load() (memory.Dump, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return memory.Dump{}, err
	}
	var d memory.Dump
	if err := json.Unmarshal(b, &d); err != nil {
		return memory.Dump{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return d, nil
}

func (s *Store) persist(d memory.Dump) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) InTx(ctx context.Context, user core.UserID, fn func(engine.UserTx) error) error {
	return s.mem.InTx(ctx, user, fn)
}

func (s *Store) ListUsers(ctx context.Context) ([]core.UserID, error) {
	return s.mem.ListUsers(ctx)
}

// Entries returns the user's ledger.
func (s *Store) Entries(user core.UserID) []core.LedgerEntry {
	return s.mem.Entries(user)
}

var _ engine.Storage = (*Store)(nil)
