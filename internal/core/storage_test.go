package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicalcore/internal/config"
	"clinicalcore/internal/infra/persistence/memory"
	"clinicalcore/internal/infra/persistence/sqlite"
	"clinicalcore/pkg/domain"
	"clinicalcore/testutil"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, closeFn, err := OpenPersistentStore(context.Background(), config.StorageConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()
	mem, ok := store.(*memory.Store)
	require.True(t, ok)
	assert.Equal(t, NewDefaultRulesEngine().Rules(), mem.RulesEngine().Rules())
}

func TestOpenPersistentStoreSQLiteReloads(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{SQLitePath: filepath.Join(t.TempDir(), "clinical.db")}

	store, closeFn, err := OpenPersistentStore(ctx, cfg, nil)
	require.NoError(t, err)
	_, ok := store.(*sqlite.Store)
	require.True(t, ok, "sqlite is the default driver")
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateDonor(testutil.RegisteredDonor(program, "DO-1", "1.0"))
		return err
	})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	reopened, closeFn, err := OpenPersistentStore(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()
	require.NoError(t, reopened.View(ctx, func(v domain.TransactionView) error {
		d, ok := v.FindDonorBySubmitterID(program, "DO-1")
		require.True(t, ok)
		assert.Equal(t, "1.0", d.SchemaMetadata.LastValidSchemaVersion)
		return nil
	}))
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	_, closeFn, err := OpenPersistentStore(context.Background(), config.StorageConfig{Driver: "mongo"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo")
	require.NoError(t, closeFn())
}
