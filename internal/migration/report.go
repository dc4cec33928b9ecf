package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"

	"clinicalcore/internal/blob"
	"clinicalcore/pkg/domain"
)

// ReportKey is the blob key of a migration's archived report.
func ReportKey(id string) string {
	return path.Join("migrations", id, "report.json")
}

// archive writes the migration to the report store. Failures are logged and
// do not fail the migration.
func (m *Manager) archive(ctx context.Context, mig domain.DictionaryMigration) {
	if m.reports == nil {
		return
	}
	data, err := json.MarshalIndent(mig, "", "  ")
	if err != nil {
		m.log.Error("encode migration report", "migration", mig.ID, "error", err)
		return
	}
	key := ReportKey(mig.ID)
	opts := blob.PutOptions{ContentType: "application/json", Metadata: map[string]string{"migration": mig.ID}}
	_, err = m.reports.Put(ctx, key, bytes.NewReader(data), opts)
	if errors.Is(err, blob.ErrExists) {
		if _, err = m.reports.Delete(ctx, key); err == nil {
			_, err = m.reports.Put(ctx, key, bytes.NewReader(data), opts)
		}
	}
	if err != nil {
		m.log.Error("archive migration report", "migration", mig.ID, "key", key, "error", err)
		return
	}
	m.log.Debug("migration report archived", "migration", mig.ID, "key", key)
}

// LoadReport reads an archived migration report.
func LoadReport(ctx context.Context, store blob.Store, id string) (domain.DictionaryMigration, error) {
	_, rc, err := store.Get(ctx, ReportKey(id))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return domain.DictionaryMigration{}, domain.ErrNotFound{Entity: domain.EntityMigration, ID: id}
		}
		return domain.DictionaryMigration{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	var mig domain.DictionaryMigration
	if err := json.Unmarshal(data, &mig); err != nil {
		return domain.DictionaryMigration{}, err
	}
	return mig, nil
}
