package core

import (
	"context"
	"fmt"

	"clinicalcore/internal/config"
	"clinicalcore/internal/infra/persistence/memory"
	"clinicalcore/internal/infra/persistence/postgres"
	"clinicalcore/internal/infra/persistence/sqlite"
	"clinicalcore/pkg/domain"
)

// StorageDriver identifies a persistent store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore opens the backend named by cfg.Driver, sqlite when
// empty. A nil engine uses NewDefaultRulesEngine. The returned close func
// releases database handles and is never nil.
func OpenPersistentStore(_ context.Context, cfg config.StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, func() error, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	noClose := func() error { return nil }
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), noClose, nil
	case StorageSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, noClose, err
		}
		return s, s.Close, nil
	case StoragePostgres:
		s, err := postgres.NewStore(cfg.PostgresDSN, engine)
		if err != nil {
			return nil, noClose, err
		}
		return s, s.Close, nil
	default:
		return nil, noClose, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
