// Package postgres is the shared database store: the memory store plus a
// clinical_state snapshot in Postgres, opened through the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"clinicalcore/internal/infra/persistence/memory"
	"clinicalcore/internal/infra/persistence/sqlstate"
	"clinicalcore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/clinical?sslmode=disable"
)

var (
	openMu sync.Mutex
	open   = sql.Open
)

// Store is a memory store mirrored to a Postgres table.
type Store struct {
	*memory.Store
	db    *sql.DB
	state *sqlstate.Table
}

// NewStore connects to dsn, creates the snapshot table and loads it.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := open(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	state, err := sqlstate.Open(ctx, db, sqlstate.Postgres)
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
	return &Store{Store: mem, db: db, state: state}, nil
}

// RunInTransaction commits fn in memory and then writes the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if _, err := s.state.Save(ctx, s.ExportState()); err != nil {
		return res, fmt.Errorf("persist postgres snapshot: %w", err)
	}
	return res, nil
}

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen replaces sql.Open for tests and returns the restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := open
	open = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		open = prev
	}
}
