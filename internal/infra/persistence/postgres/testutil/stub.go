// Package testutil provides a database/sql driver that fakes the
// clinical_state table for postgres store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// StubConn is a single connection holding the bucket rows. Upserts inside a
// transaction become visible on commit.
type StubConn struct {
	Statements []string
	Buckets    map[string][]byte

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailUpsert map[string]bool
	RowsErr    error

	pending map[string][]byte
}

// NewStubDB registers a fresh driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Buckets: make(map[string][]byte)}
	name := fmt.Sprintf("stub-clinical-state-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Upserts counts the INSERT statements seen so far.
func (c *StubConn) Upserts() int {
	n := 0
	for _, stmt := range c.Statements {
		if isUpsert(stmt) {
			n++
		}
	}
	return n
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare is unused; every statement goes through ExecContext or QueryContext.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepare not supported")
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("stub: ping failed")
	}
	return nil
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	c.pending = make(map[string][]byte)
	return stubTx{conn: c}, nil
}

func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Statements = append(c.Statements, query)
	if !isUpsert(query) {
		return driver.RowsAffected(0), nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("stub: upsert wants 2 args, got %d", len(args))
	}
	bucket, _ := args[0].Value.(string)
	payload, _ := args[1].Value.([]byte)
	if c.FailUpsert[bucket] {
		return nil, fmt.Errorf("stub: upsert %s failed", bucket)
	}
	target := c.Buckets
	if c.pending != nil {
		target = c.pending
	}
	target[bucket] = append([]byte(nil), payload...)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.Statements = append(c.Statements, query)
	if !strings.Contains(query, "FROM clinical_state") {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := &stubRows{err: c.RowsErr}
	for _, name := range names {
		rows.rows = append(rows.rows, []driver.Value{name, c.Buckets[name]})
	}
	return rows, nil
}

func isUpsert(query string) bool {
	return strings.HasPrefix(strings.TrimSpace(query), "INSERT INTO clinical_state")
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	defer func() { t.conn.pending = nil }()
	if t.conn.FailCommit {
		return errors.New("stub: commit failed")
	}
	for k, v := range t.conn.pending {
		t.conn.Buckets[k] = v
	}
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
