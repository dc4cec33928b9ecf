package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upsert = `INSERT INTO clinical_state(bucket,payload) VALUES($1,$2)`

func TestStubCommitMakesUpsertsVisible(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, upsert, "donors", []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, conn.Buckets)
	require.NoError(t, tx.Commit())
	assert.Equal(t, []byte(`{}`), conn.Buckets["donors"])

	var bucket string
	var payload []byte
	require.NoError(t, db.QueryRowContext(ctx, `SELECT bucket, payload FROM clinical_state`).Scan(&bucket, &payload))
	assert.Equal(t, "donors", bucket)
	assert.Equal(t, 1, conn.Upserts())
}

func TestStubRollbackDiscardsUpserts(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, upsert, "settings", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Empty(t, conn.Buckets)
}

func TestStubFailures(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()

	conn.FailPing = true
	require.Error(t, db.PingContext(ctx))
	conn.FailPing = false

	conn.FailUpsert = map[string]bool{"donors": true}
	_, err := db.ExecContext(ctx, upsert, "donors", []byte(`{}`))
	require.Error(t, err)

	_, err = db.QueryContext(ctx, `SELECT 1`)
	require.Error(t, err)
}
