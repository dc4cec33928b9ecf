// Package submission stages registration and clinical batches per program
// and moves them into the donor store on commit. Every staged document is
// versioned; writers present the version they read.
package submission

import (
	"context"
	"time"

	dictsvc "clinicalcore/internal/dictionary"
	"clinicalcore/internal/platform/logger"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// Service runs the staging workflows against a persistent store.
type Service struct {
	store    domain.PersistentStore
	provider dictsvc.Provider
	notifier domain.ProgramUpdateNotifier
	log      *logger.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(l) }
}

// WithNotifier sets the receiver of program update notifications.
func WithNotifier(n domain.ProgramUpdateNotifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the clock used for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a staging service.
func NewService(store domain.PersistentStore, provider dictsvc.Provider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		provider: provider,
		notifier: domain.NopNotifier{},
		log:      logger.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "SubmissionService")
	return s
}

// Settings returns the persisted clinical settings.
func (s *Service) Settings(ctx context.Context) (domain.ClinicalSettings, error) {
	var settings domain.ClinicalSettings
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		settings = v.Settings()
		return nil
	})
	return settings, err
}

// CurrentDictionary fetches the dictionary version the settings point at.
func (s *Service) CurrentDictionary(ctx context.Context) (*dictionary.Dictionary, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if settings.DictionaryVersion == "" {
		return nil, domain.StateConflictError{Reason: "no dictionary version is loaded"}
	}
	return s.provider.Fetch(ctx, settings.DictionaryName, settings.DictionaryVersion)
}

// SetDictionary points the settings at name@version after checking that the
// provider can serve it.
func (s *Service) SetDictionary(ctx context.Context, name, version string) (domain.ClinicalSettings, error) {
	if name == "" || version == "" {
		return domain.ClinicalSettings{}, domain.InvalidArgumentError{Reason: "dictionary name and version are required"}
	}
	if _, err := s.provider.Fetch(ctx, name, version); err != nil {
		return domain.ClinicalSettings{}, err
	}
	var updated domain.ClinicalSettings
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateSettings(func(cs *domain.ClinicalSettings) error {
			cs.DictionaryName = name
			cs.DictionaryVersion = version
			return nil
		})
		return err
	})
	if err != nil {
		return domain.ClinicalSettings{}, err
	}
	s.log.Info("current dictionary changed", "dictionary", name, "version", version)
	return updated, nil
}

// SetSubmissionsDisabled flips the system wide submission switch.
func (s *Service) SetSubmissionsDisabled(ctx context.Context, disabled bool) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateSettings(func(cs *domain.ClinicalSettings) error {
			cs.SubmissionsDisabled = disabled
			return nil
		})
		return err
	})
	if err == nil {
		s.log.Info("submission system toggled", "disabled", disabled)
	}
	return err
}

func ensureEnabled(v domain.TransactionView) error {
	if v.Settings().SubmissionsDisabled {
		return domain.ErrSubmissionsDisabled
	}
	return nil
}

func (s *Service) notify(ctx context.Context, programID string, donorIDs []string) {
	if err := s.notifier.ProgramUpdated(ctx, programID, donorIDs); err != nil {
		s.log.Error("program update notification failed", "program", programID, "error", err)
	}
}

func ignoreNotFound(err error) error {
	if err == nil || domain.IsNotFound(err) {
		return nil
	}
	return err
}

var errNoProgram = domain.InvalidArgumentError{Reason: "program id is required"}

func requireProgram(programID string) error {
	if programID == "" {
		return errNoProgram
	}
	return nil
}
