// Package migration moves the clinical data set from one dictionary version
// to another: it verifies the new dictionary, re-checks every donor and open
// submission against it and records the outcome on a DictionaryMigration.
package migration

import (
	"context"
	"fmt"
	"time"

	"clinicalcore/internal/blob"
	dictsvc "clinicalcore/internal/dictionary"
	"clinicalcore/internal/platform/logger"
	"clinicalcore/internal/submission"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

const (
	defaultPageSize = 20
	defaultWorkers  = 4
)

// loadFailedMessage is stored on migrations whose target dictionary could
// not be loaded.
const loadFailedMessage = "couldn't load new schema, check if the version is correct and try again, if problem persists check the logs"

// Config tunes the donor sweep. A zero SubmissionDrainDelay skips the wait
// after submissions are disabled.
type Config struct {
	PageSize             int
	Workers              int
	SubmissionDrainDelay time.Duration
}

// SubmitRequest starts a migration. An empty From means the current
// dictionary version. Dry runs always run synchronously.
type SubmitRequest struct {
	From      string
	To        string
	Initiator string
	DryRun    bool
	Sync      bool
}

// ProbeResult is the change analysis between two dictionary versions and the
// subset of changes that can invalidate stored data.
type ProbeResult struct {
	Analysis        dictionary.ChangeAnalysis       `json:"analysis"`
	BreakingChanges []dictionary.InvalidatingChange `json:"breakingChanges"`
}

// Manager runs dictionary migrations.
type Manager struct {
	store       domain.PersistentStore
	provider    dictsvc.Provider
	submissions *submission.Service
	notifier    domain.ProgramUpdateNotifier
	reports     blob.Store
	runner      *Runner
	cfg         Config
	log         *logger.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = logger.OrNop(l).With("component", "MigrationManager") }
}

// WithNotifier sets the receiver of program update notifications sent when a
// migration closes.
func WithNotifier(n domain.ProgramUpdateNotifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithReportStore archives a JSON report of every closed migration.
func WithReportStore(store blob.Store) Option {
	return func(m *Manager) { m.reports = store }
}

// WithRunner shares a runner between managers.
func WithRunner(r *Runner) Option {
	return func(m *Manager) {
		if r != nil {
			m.runner = r
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store domain.PersistentStore, provider dictsvc.Provider, submissions *submission.Service, cfg Config, opts ...Option) *Manager {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SubmissionDrainDelay < 0 {
		cfg.SubmissionDrainDelay = 0
	}
	m := &Manager{
		store:       store,
		provider:    provider,
		submissions: submissions,
		notifier:    domain.NopNotifier{},
		cfg:         cfg,
		log:         logger.Nop().With("component", "MigrationManager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runner == nil {
		m.runner = NewRunner(m.log)
	}
	return m
}

// Submit opens a migration and runs it. Only one migration may be open at a
// time. Synchronous runs return the migration as it stands when the run
// ends; otherwise the opened migration is returned while the run continues
// in the background.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (domain.DictionaryMigration, error) {
	if req.To == "" {
		return domain.DictionaryMigration{}, domain.InvalidArgumentError{Reason: "target dictionary version is required"}
	}
	if req.From == "" {
		settings, err := m.submissions.Settings(ctx)
		if err != nil {
			return domain.DictionaryMigration{}, err
		}
		req.From = settings.DictionaryVersion
	}
	var created domain.DictionaryMigration
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, open := tx.FindOpenMigration(); open {
			return domain.StateConflictError{Reason: "a migration is already active"}
		}
		var err error
		created, err = tx.CreateMigration(domain.DictionaryMigration{
			FromVersion:              req.From,
			ToVersion:                req.To,
			State:                    domain.MigrationOpen,
			Stage:                    domain.StageSubmitted,
			DryRun:                   req.DryRun,
			CreatedBy:                req.Initiator,
			InvalidDonorsErrors:      []domain.DonorMigrationError{},
			CheckedSubmissions:       []domain.SubmissionRef{},
			InvalidSubmissions:       []domain.SubmissionRef{},
			ProgramsWithDonorUpdates: []string{},
		})
		return err
	})
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	m.log.Info("migration submitted", "migration", created.ID, "from", req.From, "to", req.To, "dryRun", req.DryRun)
	return m.start(ctx, created, req.Sync || req.DryRun)
}

// Resume continues the open migration from its last checkpoint.
func (m *Manager) Resume(ctx context.Context, sync bool) (domain.DictionaryMigration, error) {
	var open domain.DictionaryMigration
	err := m.store.View(ctx, func(v domain.TransactionView) error {
		found, ok := v.FindOpenMigration()
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityMigration, ID: string(domain.MigrationOpen)}
		}
		open = found
		return nil
	})
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	m.log.Info("migration resumed", "migration", open.ID)
	return m.start(ctx, open, sync || open.DryRun)
}

// Get returns the migration with id, or every migration when id is empty.
func (m *Manager) Get(ctx context.Context, id string) ([]domain.DictionaryMigration, error) {
	var out []domain.DictionaryMigration
	err := m.store.View(ctx, func(v domain.TransactionView) error {
		if id == "" {
			out = v.ListMigrations()
			return nil
		}
		found, ok := v.FindMigration(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityMigration, ID: id}
		}
		out = []domain.DictionaryMigration{found}
		return nil
	})
	return out, err
}

// ProbeUpgrade analyses the changes between two versions of the current
// dictionary. An empty from means the current version.
func (m *Manager) ProbeUpgrade(ctx context.Context, from, to string) (ProbeResult, error) {
	settings, err := m.submissions.Settings(ctx)
	if err != nil {
		return ProbeResult{}, err
	}
	if from == "" {
		from = settings.DictionaryVersion
	}
	analysis, err := m.provider.Diff(ctx, settings.DictionaryName, from, to)
	if err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{Analysis: analysis, BreakingChanges: dictionary.FindInvalidatingChanges(analysis)}, nil
}

// DryRunUpgrade runs a dry run migration from the current version to to.
func (m *Manager) DryRunUpgrade(ctx context.Context, to, initiator string) (domain.DictionaryMigration, error) {
	return m.Submit(ctx, SubmitRequest{To: to, Initiator: initiator, DryRun: true, Sync: true})
}

// Wait blocks until the background run of migration id finishes.
func (m *Manager) Wait(ctx context.Context, id string) error {
	return m.runner.Wait(ctx, id)
}

// Status reports the background run of migration id.
func (m *Manager) Status(id string) (TaskStatus, bool) {
	return m.runner.Status(id)
}

// start loads and verifies the target dictionary, disables submissions and
// runs the migration either inline or on the runner.
func (m *Manager) start(ctx context.Context, mig domain.DictionaryMigration, sync bool) (domain.DictionaryMigration, error) {
	settings, err := m.submissions.Settings(ctx)
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	name := settings.DictionaryName
	target, err := m.provider.Fetch(ctx, name, mig.ToVersion)
	if err != nil {
		m.log.Warn("migration target dictionary unavailable", "migration", mig.ID, "version", mig.ToVersion, "error", err)
		return m.abort(ctx, mig.ID, nil, loadFailedMessage)
	}
	current, err := m.provider.Fetch(ctx, name, mig.FromVersion)
	if err != nil {
		m.log.Warn("migration source dictionary unavailable", "migration", mig.ID, "version", mig.FromVersion, "error", err)
		return m.abort(ctx, mig.ID, nil, fmt.Sprintf("couldn't load current schema version %s", mig.FromVersion))
	}
	if problems := VerifyNewSchema(*current, *target); len(problems) > 0 {
		m.log.Warn("migration target dictionary fails verification", "migration", mig.ID, "entities", len(problems))
		return m.abort(ctx, mig.ID, problems, "")
	}
	if mig, err = m.setStage(ctx, mig.ID, domain.StageAnalyzed); err != nil {
		return domain.DictionaryMigration{}, err
	}

	if err := m.submissions.SetSubmissionsDisabled(ctx, true); err != nil {
		return domain.DictionaryMigration{}, fmt.Errorf("disable submissions: %w", err)
	}
	if err := sleep(ctx, m.cfg.SubmissionDrainDelay); err != nil {
		return domain.DictionaryMigration{}, err
	}

	if sync {
		return m.run(ctx, mig.ID, name, *target)
	}
	if err := m.runner.Start(mig.ID, func(runCtx context.Context) error {
		_, err := m.run(runCtx, mig.ID, name, *target)
		return err
	}); err != nil {
		return domain.DictionaryMigration{}, domain.StateConflictError{Reason: err.Error()}
	}
	return mig, nil
}

// run sweeps donors and submissions and closes the migration. Errors leave
// the migration open at its last checkpoint for Resume.
func (m *Manager) run(ctx context.Context, id, name string, target dictionary.Dictionary) (domain.DictionaryMigration, error) {
	log := m.log.With("migration", id)
	mig, err := m.setStage(ctx, id, domain.StageInProgress)
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	if mig, err = m.sweepDonors(ctx, mig, name, target); err != nil {
		log.Error("donor sweep failed", "error", err)
		return domain.DictionaryMigration{}, err
	}
	if mig, err = m.sweepSubmissions(ctx, mig, target); err != nil {
		log.Error("submission sweep failed", "error", err)
		return domain.DictionaryMigration{}, err
	}
	closed, err := m.close(ctx, mig, name)
	if err != nil {
		log.Error("closing migration failed", "error", err)
		return domain.DictionaryMigration{}, err
	}
	return closed, nil
}

func (m *Manager) close(ctx context.Context, mig domain.DictionaryMigration, name string) (domain.DictionaryMigration, error) {
	closed, err := m.updateMigration(ctx, mig.ID, func(d *domain.DictionaryMigration) {
		d.State = domain.MigrationClosed
		d.Stage = domain.StageCompleted
	})
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	if !closed.DryRun {
		if _, err := m.submissions.SetDictionary(ctx, name, closed.ToVersion); err != nil {
			return domain.DictionaryMigration{}, fmt.Errorf("load new dictionary: %w", err)
		}
		m.notifyPrograms(ctx, closed.ProgramsWithDonorUpdates)
	}
	if err := m.submissions.SetSubmissionsDisabled(ctx, false); err != nil {
		return domain.DictionaryMigration{}, fmt.Errorf("enable submissions: %w", err)
	}
	m.archive(ctx, closed)
	m.log.Info("migration completed", "migration", closed.ID, "to", closed.ToVersion, "dryRun", closed.DryRun,
		"processed", closed.Stats.TotalProcessed, "invalid", closed.Stats.InvalidDocumentsCount,
		"invalidSubmissions", len(closed.InvalidSubmissions))
	return closed, nil
}

// abort fails a migration before any data was touched and re-enables
// submissions.
func (m *Manager) abort(ctx context.Context, id string, problems domain.NewSchemaVerification, message string) (domain.DictionaryMigration, error) {
	failed, err := m.updateMigration(ctx, id, func(d *domain.DictionaryMigration) {
		d.Stage = domain.StageFailed
		d.State = domain.MigrationClosed
		d.NewSchemaErrors = problems
		d.ErrorMessage = message
	})
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	if err := m.submissions.SetSubmissionsDisabled(ctx, false); err != nil {
		return domain.DictionaryMigration{}, fmt.Errorf("enable submissions: %w", err)
	}
	m.archive(ctx, failed)
	m.log.Warn("migration aborted", "migration", id, "message", message)
	return failed, nil
}

func (m *Manager) notifyPrograms(ctx context.Context, programs []string) {
	for _, program := range programs {
		if err := m.notifier.ProgramUpdated(ctx, program, nil); err != nil {
			m.log.Error("program update notification failed", "program", program, "error", err)
		}
	}
}

func (m *Manager) setStage(ctx context.Context, id string, stage domain.MigrationStage) (domain.DictionaryMigration, error) {
	return m.updateMigration(ctx, id, func(d *domain.DictionaryMigration) { d.Stage = stage })
}

func (m *Manager) updateMigration(ctx context.Context, id string, mutate func(*domain.DictionaryMigration)) (domain.DictionaryMigration, error) {
	var out domain.DictionaryMigration
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		out, err = tx.UpdateMigration(id, func(d *domain.DictionaryMigration) error {
			mutate(d)
			return nil
		})
		return err
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
