package sqlstate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"clinicalcore/internal/infra/persistence/memory"
	"clinicalcore/pkg/domain"
)

func openTable(t *testing.T) (*sql.DB, *Table) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	table, err := Open(context.Background(), db, SQLite)
	require.NoError(t, err)
	return db, table
}

func TestSaveWritesDirtyBucketsOnly(t *testing.T) {
	ctx := context.Background()
	_, table := openTable(t)

	snap := memory.Snapshot{Settings: domain.ClinicalSettings{DictionaryVersion: "1.0"}}
	n, err := table.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, len(memory.Buckets), n)

	n, err = table.Save(ctx, snap)
	require.NoError(t, err)
	assert.Zero(t, n)

	snap.Settings.SubmissionsDisabled = true
	n, err = table.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadRoundTripsAndPrimesDirtyTracking(t *testing.T) {
	ctx := context.Background()
	db, table := openTable(t)

	_, found, err := table.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	snap := memory.Snapshot{Settings: domain.ClinicalSettings{DictionaryName: "ARGO-Clinical", DictionaryVersion: "2.0"}}
	_, err = table.Save(ctx, snap)
	require.NoError(t, err)

	fresh, err := Open(ctx, db, SQLite)
	require.NoError(t, err)
	loaded, found, err := fresh.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2.0", loaded.Settings.DictionaryVersion)

	n, err := fresh.Save(ctx, loaded)
	require.NoError(t, err)
	assert.Zero(t, n, "a loaded snapshot is already persisted")
}

func TestLoadRejectsCorruptBucket(t *testing.T) {
	ctx := context.Background()
	db, table := openTable(t)
	_, err := db.Exec(`INSERT INTO clinical_state(bucket,payload) VALUES(?,?)`, "migrations", []byte("{"))
	require.NoError(t, err)

	_, _, err = table.Load(ctx)
	require.ErrorContains(t, err, "decode migrations")
}
