package submission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/blob"
	dictsvc "clinicalcore/internal/dictionary"
	"clinicalcore/internal/infra/persistence/memory"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
	"clinicalcore/testutil"
)

const program = "PACA-CA"

type notification struct {
	programID string
	donorIDs  []string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (r *recordingNotifier) ProgramUpdated(_ context.Context, programID string, donorIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notification{programID: programID, donorIDs: append([]string(nil), donorIDs...)})
	return nil
}

func (r *recordingNotifier) notifications() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.calls...)
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	provider *dictsvc.BlobProvider
	notifier *recordingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(domain.NewRulesEngine())
	provider, err := dictsvc.NewBlobProvider(blob.NewMemory(), 8, nil)
	require.NoError(t, err)
	require.NoError(t, provider.Publish(ctx, testutil.ClinicalDictionary("1.0")))

	notifier := &recordingNotifier{}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, provider, WithNotifier(notifier), WithClock(func() time.Time { return fixed }))
	_, err = svc.SetDictionary(ctx, testutil.DictionaryName, "1.0")
	require.NoError(t, err)
	return fixture{svc: svc, store: store, provider: provider, notifier: notifier}
}

// register creates and commits a registration for the given rows.
func (f fixture) register(t *testing.T, rows ...dictionary.Record) {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.CreateRegistration(ctx, CreateRegistrationCommand{
		ProgramID: program,
		Creator:   "tester",
		BatchName: "sample_registration.tsv",
		Records:   rows,
	})
	require.NoError(t, err)
	require.True(t, res.Successful, "registration errors: %v", res.Errors)
	_, err = f.svc.CommitRegistration(ctx, program, res.Registration.ID)
	require.NoError(t, err)
}

func TestCurrentDictionaryRequiresLoadedVersion(t *testing.T) {
	store := memory.NewStore(nil)
	provider, err := dictsvc.NewBlobProvider(blob.NewMemory(), 8, nil)
	require.NoError(t, err)
	svc := NewService(store, provider)

	_, err = svc.CurrentDictionary(context.Background())
	require.Error(t, err)
	require.True(t, domain.IsStateConflict(err))
}

func TestSetDictionaryRejectsUnknownVersion(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetDictionary(context.Background(), testutil.DictionaryName, "9.9")
	require.Error(t, err)

	settings, err := f.svc.Settings(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.0", settings.DictionaryVersion)
}

func TestSubmissionsDisabledBlocksStaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetSubmissionsDisabled(ctx, true))

	_, err := f.svc.CreateRegistration(ctx, CreateRegistrationCommand{
		ProgramID: program,
		Records:   []dictionary.Record{testutil.RegistrationRow(program, "DO-1", "SP-1", domain.DesignationNormal, "SA-1")},
	})
	require.ErrorIs(t, err, domain.ErrSubmissionsDisabled)

	_, err = f.svc.UploadClinical(ctx, UploadCommand{ProgramID: program, Batches: map[domain.ClinicalEntity]ClinicalBatch{
		domain.ClinicalDonor: {BatchName: "donor.tsv", Records: []dictionary.Record{donorRow("DO-1", "100")}},
	}})
	require.ErrorIs(t, err, domain.ErrSubmissionsDisabled)

	require.NoError(t, f.svc.SetSubmissionsDisabled(ctx, false))
	settings, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	require.False(t, settings.SubmissionsDisabled)
}

func TestRequireProgram(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRegistration(context.Background(), CreateRegistrationCommand{})
	require.ErrorIs(t, err, errNoProgram)
}
