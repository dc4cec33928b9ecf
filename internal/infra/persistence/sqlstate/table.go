// Package sqlstate keeps the memory store snapshot in a SQL table with one
// JSON row per bucket. Only buckets whose encoding changed since the last
// load or save are written.
package sqlstate

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"

	"clinicalcore/internal/infra/persistence/memory"
)

// TableName is the bucket table shared by the SQL backends.
const TableName = "clinical_state"

// Dialect holds the statements that differ between SQL engines.
type Dialect struct {
	// CreateTable creates TableName when missing.
	CreateTable string
	// Upsert writes (bucket, payload) and replaces an existing row.
	Upsert string
}

// SQLite statements.
var SQLite = Dialect{
	CreateTable: `CREATE TABLE IF NOT EXISTS clinical_state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	Upsert: `INSERT INTO clinical_state(bucket,payload) VALUES(?,?)
		ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload, updated_at=CURRENT_TIMESTAMP`,
}

// Postgres statements.
var Postgres = Dialect{
	CreateTable: `CREATE TABLE IF NOT EXISTS clinical_state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	Upsert: `INSERT INTO clinical_state(bucket,payload) VALUES($1,$2)
		ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()`,
}

// Table reads and writes the bucket rows.
type Table struct {
	db      *sql.DB
	dialect Dialect

	mu      sync.Mutex
	written map[string][]byte
}

// Open creates the bucket table when needed.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Table, error) {
	if _, err := db.ExecContext(ctx, dialect.CreateTable); err != nil {
		return nil, fmt.Errorf("create %s: %w", TableName, err)
	}
	return &Table{db: db, dialect: dialect, written: make(map[string][]byte)}, nil
}

// Load decodes every stored bucket. found is false for an empty table.
func (t *Table) Load(ctx context.Context) (snapshot memory.Snapshot, found bool, err error) {
	rows, err := t.db.QueryContext(ctx, `SELECT bucket, payload FROM clinical_state`)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select %s: %w", TableName, err)
	}
	defer func() { _ = rows.Close() }()

	loaded := make(map[string][]byte)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan %s: %w", TableName, err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, false, err
		}
		loaded[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate %s: %w", TableName, err)
	}

	t.mu.Lock()
	t.written = loaded
	t.mu.Unlock()
	return snapshot, len(loaded) > 0, nil
}

// Save writes the changed buckets of snapshot in one SQL transaction and
// returns how many rows it wrote.
func (t *Table) Save(ctx context.Context, snapshot memory.Snapshot) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	encoded, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return 0, err
	}
	var dirty []string
	for _, bucket := range memory.Buckets {
		if prev, ok := t.written[bucket]; !ok || !bytes.Equal(prev, encoded[bucket]) {
			dirty = append(dirty, bucket)
		}
	}
	if len(dirty) == 0 {
		return 0, nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	for _, bucket := range dirty {
		if _, err := tx.ExecContext(ctx, t.dialect.Upsert, bucket, encoded[bucket]); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	for _, bucket := range dirty {
		t.written[bucket] = encoded[bucket]
	}
	return len(dirty), nil
}
