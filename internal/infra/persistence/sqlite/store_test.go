package sqlite

import (
	"clinicalcore/pkg/domain"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, e := tx.CreateDonor(domain.Donor{ProgramID: "PACA-CA", SubmitterID: "DO-1"}); e != nil {
			return e
		}
		_, e := tx.UpdateSettings(func(s *domain.ClinicalSettings) error {
			s.DictionaryVersion = "1.0"
			return nil
		})
		return e
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	_ = reloaded.View(context.Background(), func(v domain.TransactionView) error {
		if _, ok := v.FindDonorBySubmitterID("PACA-CA", "DO-1"); !ok {
			t.Fatalf("expected donor to reload")
		}
		if v.Settings().DictionaryVersion != "1.0" {
			t.Fatalf("expected settings to reload")
		}
		return nil
	})
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT OR REPLACE INTO clinical_state(bucket,payload) VALUES(?,?)`, "donors", []byte("not-json")); err != nil {
		t.Fatalf("inject invalid state: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	_, err = NewStore(path, domain.NewRulesEngine())
	if err == nil {
		t.Fatalf("expected load error due to invalid json")
	}
	if !strings.Contains(err.Error(), "decode donors") {
		t.Fatalf("expected decode donors error, got %v", err)
	}
}

func TestSQLiteStoreSkipsPersistOnRollback(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "rollback.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateDonor(domain.Donor{})
		return e
	})
	if err == nil {
		t.Fatalf("expected invalid donor error")
	}
	var rows int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM clinical_state`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected nothing persisted, got %d rows", rows)
	}
}
