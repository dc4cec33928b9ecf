package memory

import (
	"clinicalcore/pkg/domain"
	"context"
	"errors"
	"testing"
	"time"
)

func newDonor(program, submitter string, specimens ...domain.Specimen) domain.Donor {
	return domain.Donor{ProgramID: program, SubmitterID: submitter, Gender: "Female", Specimens: specimens}
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindDonor(1); ok {
			t.Fatalf("expected missing donor lookup")
		}
		created, err := tx.CreateDonor(newDonor("PACA-CA", "DO-1"))
		if err != nil {
			return err
		}
		if created.DonorID != 1 {
			t.Fatalf("expected first donor id 1, got %d", created.DonorID)
		}
		view := tx.Snapshot()
		if view.CountDonors() != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	snapshot := store.ExportState()
	if len(snapshot.Donors) != 1 {
		t.Fatalf("expected persisted donor")
	}
	store.ImportState(Snapshot{})
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if v.CountDonors() != 0 {
			t.Fatalf("expected cleared state")
		}
		return nil
	})
	store.ImportState(snapshot)
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindDonorBySubmitterID("PACA-CA", "DO-1"); !ok {
			t.Fatalf("expected restored donor")
		}
		return nil
	})
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestDonorIDsContinueAfterImport(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(Snapshot{Donors: map[int]domain.Donor{
		7: {DonorID: 7, ProgramID: "PACA-CA", SubmitterID: "DO-7"},
		0: {ProgramID: "PACA-CA", SubmitterID: "dropped"},
	}})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if tx.CountDonors() != 1 {
			t.Fatalf("expected donor without id to be dropped, got %d", tx.CountDonors())
		}
		d, err := tx.CreateDonor(newDonor("PACA-CA", "DO-8"))
		if err != nil {
			return err
		}
		if d.DonorID != 8 {
			t.Fatalf("expected donor id 8, got %d", d.DonorID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestFailedTransactionLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateDonor(newDonor("PACA-CA", "DO-1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if v.CountDonors() != 0 {
			t.Fatalf("expected rollback")
		}
		return nil
	})
	// The id consumed by the rolled back transaction is reused.
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		d, err := tx.CreateDonor(newDonor("PACA-CA", "DO-1"))
		if err != nil || d.DonorID != 1 {
			t.Fatalf("expected donor id 1, got %d (%v)", d.DonorID, err)
		}
		return nil
	})
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateDonor(newDonor("PACA-CA", "DO-1"))
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(violation.Result.Violations) != 1 {
		t.Fatalf("expected one violation")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, c := range changes {
		if c.Entity == domain.EntityDonor {
			res.Merge(domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}})
		}
	}
	return res, nil
}

func TestUpdateDonorKeepsIdentity(t *testing.T) {
	store := NewStore(nil)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return created })
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateDonor(newDonor("PACA-CA", "DO-1"))
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := created.Add(time.Hour)
	store.SetNowFunc(func() time.Time { return later })
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateDonor(42, func(*domain.Donor) error { return nil }); !domain.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := tx.UpdateDonor(1, func(*domain.Donor) error { return errors.New("mutator") }); err == nil {
			t.Fatalf("expected mutator error")
		}
		updated, err := tx.UpdateDonor(1, func(d *domain.Donor) error {
			d.DonorID = 99
			d.Gender = "Male"
			return nil
		})
		if err != nil {
			return err
		}
		if updated.DonorID != 1 || !updated.CreatedAt.Equal(created) || !updated.UpdatedAt.Equal(later) {
			t.Fatalf("unexpected identity after update: %+v", updated)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestMutatorCannotLeakIntoState(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var held domain.Donor
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		d, err := tx.CreateDonor(newDonor("PACA-CA", "DO-1", domain.Specimen{SubmitterID: "SP-1"}))
		held = d
		return err
	})
	held.Specimens[0].SubmitterID = "changed"
	_ = store.View(ctx, func(v domain.TransactionView) error {
		d, _ := v.FindDonor(1)
		if d.Specimens[0].SubmitterID != "SP-1" {
			t.Fatalf("returned donor aliases stored state")
		}
		return nil
	})
}

func TestFindDonorByEntityID(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		d := newDonor("PACA-CA", "DO-1", domain.Specimen{SubmitterID: "SP-1"})
		d.PrimaryDiagnosis = &domain.PrimaryDiagnosis{ClinicalInfo: domain.ClinicalInfo{domain.FieldSubmitterPrimaryDiagnosisID: "PD-1"}}
		d.Treatments = []domain.Treatment{{ClinicalInfo: domain.ClinicalInfo{domain.FieldSubmitterTreatmentID: "TR-1"}}}
		d.FollowUps = []domain.FollowUp{{ClinicalInfo: domain.ClinicalInfo{domain.FieldSubmitterFollowUpID: "FU-1"}}}
		if _, err := tx.CreateDonor(d); err != nil {
			return err
		}
		_, err := tx.CreateDonor(newDonor("OTHER-XX", "DO-1", domain.Specimen{SubmitterID: "SP-1"}))
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	cases := []struct {
		entity domain.ClinicalEntity
		id     string
		found  bool
	}{
		{domain.ClinicalDonor, "DO-1", true},
		{domain.ClinicalSpecimen, "SP-1", true},
		{domain.ClinicalPrimaryDiagnosis, "PD-1", true},
		{domain.ClinicalTreatment, "TR-1", true},
		{domain.ClinicalFollowUp, "FU-1", true},
		{domain.ClinicalFollowUp, "FU-2", false},
		{domain.ClinicalChemotherapy, "TR-1", false},
		{domain.ClinicalSpecimen, "", false},
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		for _, tc := range cases {
			d, ok := v.FindDonorByEntityID("PACA-CA", tc.entity, tc.id)
			if ok != tc.found {
				t.Fatalf("%s %q: expected found=%v", tc.entity, tc.id, tc.found)
			}
			if ok && d.ProgramID != "PACA-CA" {
				t.Fatalf("lookup crossed programs: %+v", d)
			}
		}
		return nil
	})
}

func TestListDonorsPendingMigration(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range []string{"DO-1", "DO-2", "DO-3"} {
			if _, err := tx.CreateDonor(newDonor("PACA-CA", id)); err != nil {
				return err
			}
		}
		_, err := tx.UpdateDonor(2, func(d *domain.Donor) error {
			d.SchemaMetadata.LastMigrationID = "m1"
			return nil
		})
		return err
	})
	_ = store.View(ctx, func(v domain.TransactionView) error {
		pending := v.ListDonorsPendingMigration("m1", 10)
		if len(pending) != 2 || pending[0].DonorID != 1 || pending[1].DonorID != 3 {
			t.Fatalf("unexpected pending donors: %+v", pending)
		}
		if limited := v.ListDonorsPendingMigration("m1", 1); len(limited) != 1 {
			t.Fatalf("expected limit to apply")
		}
		if len(v.ListDonors("OTHER-XX")) != 0 || len(v.ListDonors("")) != 3 {
			t.Fatalf("unexpected program filter")
		}
		return nil
	})
}

func TestSubmissionVersioning(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var version string
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.SaveClinicalSubmission(domain.ActiveClinicalSubmission{ProgramID: "PACA-CA"}, "stale"); !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected conflict for missing submission, got %v", err)
		}
		saved, err := tx.SaveClinicalSubmission(domain.ActiveClinicalSubmission{ProgramID: "PACA-CA", State: domain.SubmissionState("OPEN")}, "")
		if err != nil {
			return err
		}
		if saved.ID == "" || saved.Version == "" {
			t.Fatalf("expected id and version, got %+v", saved)
		}
		version = saved.Version
		return nil
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.SaveClinicalSubmission(domain.ActiveClinicalSubmission{ProgramID: "PACA-CA"}, ""); !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected create-only conflict, got %v", err)
		}
		next, err := tx.SaveClinicalSubmission(domain.ActiveClinicalSubmission{ProgramID: "PACA-CA"}, version)
		if err != nil {
			return err
		}
		if next.Version == version {
			t.Fatalf("expected fresh version")
		}
		if err := tx.DeleteClinicalSubmission("PACA-CA", version); !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected stale delete conflict, got %v", err)
		}
		return tx.DeleteClinicalSubmission("PACA-CA", next.Version)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListClinicalSubmissions()) != 0 {
			t.Fatalf("expected submission deleted")
		}
		return nil
	})
}

func TestMigrationsAndSettings(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		m, err := tx.CreateMigration(domain.DictionaryMigration{State: domain.MigrationOpen, Stage: domain.StageSubmitted})
		if err != nil {
			return err
		}
		if open, ok := tx.FindOpenMigration(); !ok || open.ID != m.ID {
			t.Fatalf("expected open migration %s", m.ID)
		}
		if _, err := tx.UpdateMigration(m.ID, func(mm *domain.DictionaryMigration) error {
			mm.State = domain.MigrationClosed
			mm.Stage = domain.StageCompleted
			return nil
		}); err != nil {
			return err
		}
		if _, ok := tx.FindOpenMigration(); ok {
			t.Fatalf("expected no open migration")
		}
		if _, err := tx.UpdateMigration("missing", func(*domain.DictionaryMigration) error { return nil }); !domain.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		_, err = tx.UpdateSettings(func(s *domain.ClinicalSettings) error {
			s.SubmissionsDisabled = true
			s.DictionaryVersion = "2.0"
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if s := v.Settings(); !s.SubmissionsDisabled || s.DictionaryVersion != "2.0" {
			t.Fatalf("unexpected settings %+v", s)
		}
		if len(v.ListMigrations()) != 1 {
			t.Fatalf("expected one migration")
		}
		return nil
	})
}

func TestRegistrations(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.DeleteRegistration("PACA-CA"); !domain.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		reg, err := tx.SaveRegistration(domain.ActiveRegistration{ProgramID: "PACA-CA", Records: []domain.RegistrationRecord{{DonorSubmitterID: "DO-1"}}})
		if err != nil {
			return err
		}
		if reg.ID == "" || reg.CreatedAt.IsZero() {
			t.Fatalf("expected id and creation time")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		reg, ok := v.FindRegistration("PACA-CA")
		if !ok || len(reg.Records) != 1 {
			t.Fatalf("expected stored registration")
		}
		return nil
	})
}

func TestBucketsRoundTripSnapshot(t *testing.T) {
	store := NewStore(nil)
	_, _ = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, _ = tx.CreateDonor(newDonor("PACA-CA", "DO-1"))
		_, _ = tx.UpdateSettings(func(s *domain.ClinicalSettings) error { s.DictionaryVersion = "1.0"; return nil })
		return nil
	})
	buckets, err := EncodeBuckets(store.ExportState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buckets) != len(Buckets) {
		t.Fatalf("expected every bucket encoded")
	}
	var decoded Snapshot
	for name, payload := range buckets {
		if err := decoded.DecodeBucket(name, payload); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
	}
	if err := decoded.DecodeBucket("unknown", []byte("{")); err != nil {
		t.Fatalf("unknown buckets are ignored: %v", err)
	}
	if err := decoded.DecodeBucket("donors", []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
	if decoded.Donors[1].SubmitterID != "DO-1" || decoded.Settings.DictionaryVersion != "1.0" {
		t.Fatalf("unexpected decoded snapshot %+v", decoded)
	}
}
