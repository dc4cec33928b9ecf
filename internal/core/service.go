// Package core composes the clinical data core: the persistent store, the
// dictionary provider, submission staging and the migration manager. Every
// exposed operation is traced, timed and logged.
package core

import (
	"context"
	"errors"

	"clinicalcore/internal/blob"
	"clinicalcore/internal/completion"
	dictsvc "clinicalcore/internal/dictionary"
	"clinicalcore/internal/infra/persistence/memory"
	"clinicalcore/internal/migration"
	"clinicalcore/internal/platform/logger"
	"clinicalcore/internal/submission"
	"clinicalcore/internal/validation"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// Service exposes the clinical core operations.
type Service struct {
	store       domain.PersistentStore
	provider    dictsvc.Provider
	submissions *submission.Service
	migrations  *migration.Manager

	notifier     domain.ProgramUpdateNotifier
	reports      blob.Store
	migrationCfg migration.Config
	metrics      MetricsRecorder
	tracer       Tracer
	clock        Clock
	log          *logger.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger shared by every component.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(l) }
}

// WithMetricsRecorder sets the recorder of operation outcomes.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer of operations.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the service clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithNotifier sets the receiver of program update notifications.
func WithNotifier(n domain.ProgramUpdateNotifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithReportStore archives migration reports to store.
func WithReportStore(store blob.Store) Option {
	return func(s *Service) { s.reports = store }
}

// WithMigrationConfig tunes the migration donor sweep.
func WithMigrationConfig(cfg migration.Config) Option {
	return func(s *Service) { s.migrationCfg = cfg }
}

// NewService wires a Service over store and provider.
func NewService(store domain.PersistentStore, provider dictsvc.Provider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		provider: provider,
		notifier: domain.NopNotifier{},
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		clock:    systemClock{},
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.submissions = submission.NewService(store, provider,
		submission.WithLogger(s.log),
		submission.WithNotifier(s.notifier),
		submission.WithClock(s.clock.Now),
	)
	s.migrations = migration.NewManager(store, provider, s.submissions, s.migrationCfg,
		migration.WithLogger(s.log),
		migration.WithNotifier(s.notifier),
		migration.WithReportStore(s.reports),
	)
	s.log = s.log.With("component", "ClinicalCore")
	return s
}

// NewInMemoryService builds a Service over an in-memory store using the
// default rules.
func NewInMemoryService(provider dictsvc.Provider, opts ...Option) *Service {
	return NewService(memory.NewStore(NewDefaultRulesEngine()), provider, opts...)
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Submissions returns the submission staging service.
func (s *Service) Submissions() *submission.Service { return s.submissions }

// Migrations returns the migration manager.
func (s *Service) Migrations() *migration.Manager { return s.migrations }

// run traces and times fn and records its outcome.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.log.Warn("operation failed", "operation", op, "duration", elapsed, "error", err)
		return err
	}
	s.log.Debug("operation completed", "operation", op, "duration", elapsed)
	return nil
}

func call[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := s.run(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Settings returns the persisted clinical settings.
func (s *Service) Settings(ctx context.Context) (domain.ClinicalSettings, error) {
	return call(ctx, s, "settings", s.submissions.Settings)
}

// SetDictionary points the settings at a published dictionary version.
func (s *Service) SetDictionary(ctx context.Context, name, version string) (domain.ClinicalSettings, error) {
	return call(ctx, s, "set_dictionary", func(ctx context.Context) (domain.ClinicalSettings, error) {
		return s.submissions.SetDictionary(ctx, name, version)
	})
}

// SetSubmissionsDisabled toggles the global submission switch.
func (s *Service) SetSubmissionsDisabled(ctx context.Context, disabled bool) error {
	return s.run(ctx, "set_submissions_disabled", func(ctx context.Context) error {
		return s.submissions.SetSubmissionsDisabled(ctx, disabled)
	})
}

// FindDonor returns a stored donor by id.
func (s *Service) FindDonor(ctx context.Context, donorID int) (domain.Donor, error) {
	return call(ctx, s, "find_donor", func(ctx context.Context) (domain.Donor, error) {
		var donor domain.Donor
		err := s.store.View(ctx, func(v domain.TransactionView) error {
			d, ok := v.FindDonor(donorID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityDonor, ID: domain.Donor{DonorID: donorID}.ID()}
			}
			donor = d
			return nil
		})
		return donor, err
	})
}

// ListDonors returns the donors of a program, or every donor when programID
// is empty.
func (s *Service) ListDonors(ctx context.Context, programID string) ([]domain.Donor, error) {
	return call(ctx, s, "list_donors", func(ctx context.Context) ([]domain.Donor, error) {
		var donors []domain.Donor
		err := s.store.View(ctx, func(v domain.TransactionView) error {
			donors = v.ListDonors(programID)
			return nil
		})
		return donors, err
	})
}

// ValidateBatch schema-checks a batch of entity rows against the current
// dictionary.
func (s *Service) ValidateBatch(ctx context.Context, entity domain.ClinicalEntity, records []dictionary.Record, programID string) (validation.BatchResult, error) {
	return call(ctx, s, "validate_batch", func(ctx context.Context) (validation.BatchResult, error) {
		dict, err := s.submissions.CurrentDictionary(ctx)
		if err != nil {
			return validation.BatchResult{}, err
		}
		return validation.ValidateBatch(ctx, entity, records, programID, *dict)
	})
}

// MergeAndValidateSubmission validates staged clinical rows of a program
// against the stored donors and the donors they would produce once merged.
// Nothing is written.
func (s *Service) MergeAndValidateSubmission(ctx context.Context, programID string, records validation.RecordsByDonor) (map[domain.ClinicalEntity]domain.ClinicalTypeValidateResult, error) {
	return call(ctx, s, "merge_and_validate_submission", func(ctx context.Context) (map[domain.ClinicalEntity]domain.ClinicalTypeValidateResult, error) {
		if programID == "" {
			return nil, domain.InvalidArgumentError{Reason: "program id is required"}
		}
		var out map[domain.ClinicalEntity]domain.ClinicalTypeValidateResult
		err := s.store.View(ctx, func(v domain.TransactionView) error {
			existing := map[string]domain.Donor{}
			for donorID := range records {
				if d, ok := v.FindDonorBySubmitterID(programID, donorID); ok {
					existing[donorID] = d
				}
			}
			out = validation.ValidateSubmissionData(records, existing, v)
			return nil
		})
		return out, err
	})
}

// RecalcDonorStats recomputes a donor's completion stats. A non empty
// override forces the given per entity values and marks them overridden;
// otherwise overridden entities are kept.
func (s *Service) RecalcDonorStats(ctx context.Context, donorID int, override map[domain.CoreEntity]float64) (domain.Donor, error) {
	return call(ctx, s, "recalc_donor_stats", func(ctx context.Context) (domain.Donor, error) {
		var updated domain.Donor
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateDonor(donorID, func(d *domain.Donor) error {
				next := completion.RecalculateHoldOverridden(*d)
				if len(override) > 0 {
					forced, err := completion.ForceOverride(*d, override)
					if err != nil {
						return domain.InvalidArgumentError{Reason: err.Error()}
					}
					next = forced
				}
				*d = next
				return nil
			})
			return err
		})
		if err != nil {
			return domain.Donor{}, err
		}
		if err := s.notifier.ProgramUpdated(ctx, updated.ProgramID, []string{updated.ID()}); err != nil {
			s.log.Error("program update notification failed", "program", updated.ProgramID, "error", err)
		}
		return updated, nil
	})
}

// SubmitMigration opens and runs a dictionary migration.
func (s *Service) SubmitMigration(ctx context.Context, req migration.SubmitRequest) (domain.DictionaryMigration, error) {
	return call(ctx, s, "submit_migration", func(ctx context.Context) (domain.DictionaryMigration, error) {
		return s.migrations.Submit(ctx, req)
	})
}

// ResumeMigration continues the open migration.
func (s *Service) ResumeMigration(ctx context.Context, sync bool) (domain.DictionaryMigration, error) {
	return call(ctx, s, "resume_migration", func(ctx context.Context) (domain.DictionaryMigration, error) {
		return s.migrations.Resume(ctx, sync)
	})
}

// GetMigration returns one migration, or all when id is empty.
func (s *Service) GetMigration(ctx context.Context, id string) ([]domain.DictionaryMigration, error) {
	return call(ctx, s, "get_migration", func(ctx context.Context) ([]domain.DictionaryMigration, error) {
		return s.migrations.Get(ctx, id)
	})
}

// WaitMigration blocks until the background run of migration id ends.
func (s *Service) WaitMigration(ctx context.Context, id string) error {
	return s.run(ctx, "wait_migration", func(ctx context.Context) error {
		return s.migrations.Wait(ctx, id)
	})
}

// ProbeUpgrade analyses the changes between two dictionary versions.
func (s *Service) ProbeUpgrade(ctx context.Context, from, to string) (migration.ProbeResult, error) {
	return call(ctx, s, "probe_upgrade", func(ctx context.Context) (migration.ProbeResult, error) {
		return s.migrations.ProbeUpgrade(ctx, from, to)
	})
}

// DryRunUpgrade reports what migrating to version to would invalidate.
func (s *Service) DryRunUpgrade(ctx context.Context, to, initiator string) (domain.DictionaryMigration, error) {
	return call(ctx, s, "dry_run_upgrade", func(ctx context.Context) (domain.DictionaryMigration, error) {
		return s.migrations.DryRunUpgrade(ctx, to, initiator)
	})
}

// MigrationReport loads the archived report of a closed migration.
func (s *Service) MigrationReport(ctx context.Context, id string) (domain.DictionaryMigration, error) {
	return call(ctx, s, "migration_report", func(ctx context.Context) (domain.DictionaryMigration, error) {
		if s.reports == nil {
			return domain.DictionaryMigration{}, errors.New("no report store configured")
		}
		return migration.LoadReport(ctx, s.reports, id)
	})
}

// CreateRegistration validates and stages a sample registration batch.
func (s *Service) CreateRegistration(ctx context.Context, cmd submission.CreateRegistrationCommand) (submission.RegistrationResult, error) {
	return call(ctx, s, "create_registration", func(ctx context.Context) (submission.RegistrationResult, error) {
		return s.submissions.CreateRegistration(ctx, cmd)
	})
}

// CommitRegistration moves a staged registration into the donor store.
func (s *Service) CommitRegistration(ctx context.Context, programID, registrationID string) ([]string, error) {
	return call(ctx, s, "commit_registration", func(ctx context.Context) ([]string, error) {
		return s.submissions.CommitRegistration(ctx, programID, registrationID)
	})
}

// DeleteRegistration discards a staged registration.
func (s *Service) DeleteRegistration(ctx context.Context, programID, registrationID string) error {
	return s.run(ctx, "delete_registration", func(ctx context.Context) error {
		return s.submissions.DeleteRegistration(ctx, programID, registrationID)
	})
}

// UploadClinical stages clinical batches.
func (s *Service) UploadClinical(ctx context.Context, cmd submission.UploadCommand) (submission.UploadResult, error) {
	return call(ctx, s, "upload_clinical", func(ctx context.Context) (submission.UploadResult, error) {
		return s.submissions.UploadClinical(ctx, cmd)
	})
}

// ValidateClinical runs clinical validation on a staged submission.
func (s *Service) ValidateClinical(ctx context.Context, programID, version, updater string) (submission.ValidateResult, error) {
	return call(ctx, s, "validate_clinical", func(ctx context.Context) (submission.ValidateResult, error) {
		return s.submissions.ValidateClinical(ctx, programID, version, updater)
	})
}

// CommitClinical merges a valid submission or parks it for approval.
func (s *Service) CommitClinical(ctx context.Context, programID, version, updater string) (submission.CommitResult, error) {
	return call(ctx, s, "commit_clinical", func(ctx context.Context) (submission.CommitResult, error) {
		return s.submissions.CommitClinical(ctx, programID, version, updater)
	})
}

// ApproveClinical merges a submission pending approval.
func (s *Service) ApproveClinical(ctx context.Context, programID, version string) error {
	return s.run(ctx, "approve_clinical", func(ctx context.Context) error {
		return s.submissions.ApproveClinical(ctx, programID, version)
	})
}

// ReopenClinical returns a submission pending approval to OPEN.
func (s *Service) ReopenClinical(ctx context.Context, programID, version, updater string) (domain.ActiveClinicalSubmission, error) {
	return call(ctx, s, "reopen_clinical", func(ctx context.Context) (domain.ActiveClinicalSubmission, error) {
		return s.submissions.ReopenClinical(ctx, programID, version, updater)
	})
}

// ClearClinical removes one entity, or all with submission.ClearAll, from a
// staged submission.
func (s *Service) ClearClinical(ctx context.Context, programID, version, entity, updater string) (domain.ActiveClinicalSubmission, error) {
	return call(ctx, s, "clear_clinical", func(ctx context.Context) (domain.ActiveClinicalSubmission, error) {
		return s.submissions.ClearClinical(ctx, programID, version, entity, updater)
	})
}

// FindClinicalSubmission returns a program's staged submission.
func (s *Service) FindClinicalSubmission(ctx context.Context, programID string) (domain.ActiveClinicalSubmission, error) {
	return call(ctx, s, "find_clinical_submission", func(ctx context.Context) (domain.ActiveClinicalSubmission, error) {
		return s.submissions.FindClinicalSubmission(ctx, programID)
	})
}

