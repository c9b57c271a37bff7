// Package storage provides the store implementations behind graph.Store.
//
// Three backends are available: an in-memory store for tests and throwaway
// sessions, a BadgerDB key-value store (the default), and a SQLite store
// that leans on foreign keys for its cascades.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Benny93/twinscope/internal/graph"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config selects and configures a store.
type Config struct {
	// Backend is one of BackendMemory, BackendBadger or BackendSQLite.
	Backend string

	// Dir is the data directory. Badger keeps its files in Dir/badger and
	// SQLite uses Dir/twinscope.db. Ignored by the memory backend.
	Dir string

	// ReadOnly opens persistent stores without write access.
	ReadOnly bool

	// SyncWrites makes Badger fsync every commit.
	SyncWrites bool

	// Logger receives backend diagnostics. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns a Badger configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{Backend: BackendBadger, Dir: dir}
}

var (
	_ graph.Store = (*MemoryStore)(nil)
	_ graph.Store = (*BadgerStore)(nil)
	_ graph.Store = (*SQLiteStore)(nil)
)

// Open creates the store described by cfg.
func Open(cfg Config) (graph.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger, "":
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		return OpenBadger(BadgerConfig{
			Path:       filepath.Join(cfg.Dir, "badger"),
			ReadOnly:   cfg.ReadOnly,
			SyncWrites: cfg.SyncWrites,
			Logger:     cfg.Logger,
		})
	case BackendSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return OpenSQLite(filepath.Join(cfg.Dir, "twinscope.db"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// clone deep-copies an entity through its JSON form so that callers never
// share memory with what a store holds.
func clone[T any](v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %T: %w", v, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling %T: %w", v, err)
	}
	return &out, nil
}
