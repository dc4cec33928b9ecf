// Package sqlite is the file backed store: the memory store plus a
// clinical_state snapshot written after every committed transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"clinicalcore/internal/infra/persistence/memory"
	"clinicalcore/internal/infra/persistence/sqlstate"
	"clinicalcore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "clinicalcore.db"

// Store is a memory store mirrored to one SQLite file.
type Store struct {
	*memory.Store
	db    *sql.DB
	state *sqlstate.Table
	path  string
}

// NewStore opens or creates the database at path and loads its snapshot.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the snapshot transaction is never interleaved.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	state, err := sqlstate.Open(ctx, db, sqlstate.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, found, err := state.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db, state: state, path: path}, nil
}

// RunInTransaction commits fn in memory and then writes the changed buckets.
// A failed write leaves the buckets dirty so the next commit retries them.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if _, err := s.state.Save(ctx, s.ExportState()); err != nil {
		return res, fmt.Errorf("persist sqlite snapshot: %w", err)
	}
	return res, nil
}

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
