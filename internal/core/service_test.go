package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicalcore/internal/blob"
	"clinicalcore/internal/clinical"
	dictsvc "clinicalcore/internal/dictionary"
	"clinicalcore/internal/migration"
	"clinicalcore/internal/submission"
	"clinicalcore/internal/validation"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
	"clinicalcore/testutil"
)

const program = "PACA-CA"

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	mu    sync.Mutex
	ended map[string][]error
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	if s.tracer.ended == nil {
		s.tracer.ended = map[string][]error{}
	}
	s.tracer.ended[s.op] = append(s.tracer.ended[s.op], err)
}

type fixture struct {
	svc     *Service
	metrics *captureMetricsRecorder
	tracer  *captureTracer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	provider, err := dictsvc.NewBlobProvider(blob.NewMemory(), 8, nil)
	require.NoError(t, err)
	require.NoError(t, provider.Publish(ctx, testutil.ClinicalDictionary("1.0")))
	require.NoError(t, provider.Publish(ctx, testutil.WithField(testutil.ClinicalDictionary("1.0"), "2.0", domain.ClinicalDonor, dictionary.FieldDefinition{
		Name:         "primary_site",
		ValueType:    dictionary.ValueTypeString,
		Restrictions: &dictionary.Restrictions{Required: true},
	})))

	f := fixture{metrics: &captureMetricsRecorder{}, tracer: &captureTracer{}}
	f.svc = NewInMemoryService(provider,
		WithMetricsRecorder(f.metrics),
		WithTracer(f.tracer),
		WithClock(stubClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}),
		WithReportStore(blob.NewMemory()),
		WithMigrationConfig(migration.Config{PageSize: 5, Workers: 2}),
	)
	_, err = f.svc.SetDictionary(ctx, testutil.DictionaryName, "1.0")
	require.NoError(t, err)
	return f
}

func (f fixture) register(t *testing.T, rows ...dictionary.Record) {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.CreateRegistration(ctx, submission.CreateRegistrationCommand{ProgramID: program, Records: rows})
	require.NoError(t, err)
	require.True(t, res.Successful, spew.Sdump(res.Errors))
	_, err = f.svc.CommitRegistration(ctx, program, res.Registration.ID)
	require.NoError(t, err)
}

func donorRow(donorID, vitalStatus string) dictionary.Record {
	return dictionary.Record{
		domain.FieldProgramID:        program,
		domain.FieldSubmitterDonorID: donorID,
		domain.FieldVitalStatus:      vitalStatus,
	}
}

func TestServiceRecordsOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settings, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0", settings.DictionaryVersion)
	assert.True(t, f.metrics.has("set_dictionary", true))
	assert.True(t, f.metrics.has("settings", true))

	_, err = f.svc.FindDonor(ctx, 99)
	require.True(t, domain.IsNotFound(err))
	assert.True(t, f.metrics.has("find_donor", false))
	require.Len(t, f.tracer.ended["find_donor"], 1)
	assert.Error(t, f.tracer.ended["find_donor"][0])
}

func TestServiceRegistrationAndDonorQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t,
		testutil.RegistrationRow(program, "DO-1", "SP-1", domain.DesignationNormal, "SA-1"),
		testutil.RegistrationRow(program, "DO-2", "SP-2", domain.DesignationNormal, "SA-2"),
	)

	donors, err := f.svc.ListDonors(ctx, program)
	require.NoError(t, err)
	require.Len(t, donors, 2)
	assert.Equal(t, "DO-1", donors[0].SubmitterID)

	donor, err := f.svc.FindDonor(ctx, donors[1].DonorID)
	require.NoError(t, err)
	assert.Equal(t, "DO-2", donor.SubmitterID)

	others, err := f.svc.ListDonors(ctx, "OTHER-CA")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestServiceValidateBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ValidateBatch(ctx, domain.ClinicalDonor, []dictionary.Record{donorRow("DO-1", "Alive")}, program)
	require.NoError(t, err)
	assert.False(t, res.HasErrors(), spew.Sdump(res.Errors))
	require.Len(t, res.ProcessedRecords, 1)

	res, err = f.svc.ValidateBatch(ctx, domain.ClinicalDonor, []dictionary.Record{donorRow("DO-1", "Zombie")}, program)
	require.NoError(t, err)
	require.True(t, res.HasErrors())
	assert.Equal(t, domain.FieldVitalStatus, res.Errors[0].FieldName)
}

func TestServiceMergeAndValidateSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, testutil.RegistrationRow(program, "DO-1", "SP-1", domain.DesignationNormal, "SA-1"))

	row := func(donorID string) domain.ClinicalInfo {
		info := domain.ClinicalInfo(donorRow(donorID, "Alive"))
		info[domain.IndexField] = 0
		return info
	}
	results, err := f.svc.MergeAndValidateSubmission(ctx, program, validation.RecordsByDonor{
		"DO-1": clinical.RecordsByEntity{domain.ClinicalDonor: {row("DO-1")}},
	})
	require.NoError(t, err)
	assert.Empty(t, results[domain.ClinicalDonor].DataErrors)
	assert.Equal(t, []int{0}, results[domain.ClinicalDonor].Stats.New)

	results, err = f.svc.MergeAndValidateSubmission(ctx, program, validation.RecordsByDonor{
		"DO-9": clinical.RecordsByEntity{domain.ClinicalDonor: {row("DO-9")}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, results[domain.ClinicalDonor].DataErrors)
	assert.Equal(t, domain.ErrIDNotRegistered, results[domain.ClinicalDonor].DataErrors[0].Type)

	_, err = f.svc.MergeAndValidateSubmission(ctx, "", nil)
	var invalid domain.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestServiceRecalcDonorStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, testutil.RegistrationRow(program, "DO-1", "SP-1", domain.DesignationNormal, "SA-1"))
	donors, err := f.svc.ListDonors(ctx, program)
	require.NoError(t, err)
	id := donors[0].DonorID

	donor, err := f.svc.RecalcDonorStats(ctx, id, nil)
	require.NoError(t, err)
	require.NotNil(t, donor.CompletionStats)
	assert.Empty(t, donor.CompletionStats.OverriddenCoreCompletion)

	donor, err = f.svc.RecalcDonorStats(ctx, id, map[domain.CoreEntity]float64{domain.CoreDonor: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, donor.CompletionStats.CoreCompletion[domain.CoreDonor])
	assert.Equal(t, []domain.CoreEntity{domain.CoreDonor}, donor.CompletionStats.OverriddenCoreCompletion)

	_, err = f.svc.RecalcDonorStats(ctx, id, map[domain.CoreEntity]float64{domain.CoreDonor: 1.5})
	var invalid domain.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)

	_, err = f.svc.RecalcDonorStats(ctx, 404, nil)
	require.True(t, domain.IsNotFound(err))
	assert.True(t, f.metrics.has("recalc_donor_stats", false))
}

func TestServiceMigrationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, testutil.RegistrationRow(program, "DO-1", "SP-1", domain.DesignationNormal, "SA-1"))

	probe, err := f.svc.ProbeUpgrade(ctx, "", "2.0")
	require.NoError(t, err)
	require.Len(t, probe.BreakingChanges, 1)

	dry, err := f.svc.DryRunUpgrade(ctx, "2.0", "admin")
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, domain.StageCompleted, dry.Stage)

	mig, err := f.svc.SubmitMigration(ctx, migration.SubmitRequest{To: "2.0", Initiator: "admin", Sync: true})
	require.NoError(t, err)
	require.Equal(t, domain.StageCompleted, mig.Stage, spew.Sdump(mig))
	assert.Equal(t, 1, mig.Stats.ValidDocumentsCount)

	all, err := f.svc.GetMigration(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	report, err := f.svc.MigrationReport(ctx, mig.ID)
	require.NoError(t, err)
	assert.Equal(t, mig.ID, report.ID)

	settings, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0", settings.DictionaryVersion)

	_, err = f.svc.ResumeMigration(ctx, true)
	require.True(t, domain.IsNotFound(err))
	assert.True(t, f.metrics.has("submit_migration", true))
	assert.True(t, f.metrics.has("resume_migration", false))
}
