// Package memory provides an in-memory implementation of the clinical
// persistence store used for tests, ephemeral environments and as the
// transactional core of the snapshotting SQL backends.
package memory

import (
	"clinicalcore/pkg/domain"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Donor aliases domain.Donor for in-memory persistence operations.
	Donor = domain.Donor
	// DictionaryMigration aliases domain.DictionaryMigration.
	DictionaryMigration = domain.DictionaryMigration
	// ActiveClinicalSubmission aliases domain.ActiveClinicalSubmission.
	ActiveClinicalSubmission = domain.ActiveClinicalSubmission
	// ActiveRegistration aliases domain.ActiveRegistration.
	ActiveRegistration = domain.ActiveRegistration
	// ClinicalSettings aliases domain.ClinicalSettings.
	ClinicalSettings = domain.ClinicalSettings
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	donors        map[int]Donor
	migrations    map[string]DictionaryMigration
	submissions   map[string]ActiveClinicalSubmission
	registrations map[string]ActiveRegistration
	settings      ClinicalSettings
	nextDonorID   int
}

// Snapshot captures a point-in-time clone of the store state. Submissions and
// registrations are keyed by program id.
type Snapshot struct {
	Donors        map[int]Donor                       `json:"donors"`
	Migrations    map[string]DictionaryMigration      `json:"migrations"`
	Submissions   map[string]ActiveClinicalSubmission `json:"submissions"`
	Registrations map[string]ActiveRegistration       `json:"registrations"`
	Settings      ClinicalSettings                    `json:"settings"`
}

func newMemoryState() memoryState {
	return memoryState{
		donors:        make(map[int]Donor),
		migrations:    make(map[string]DictionaryMigration),
		submissions:   make(map[string]ActiveClinicalSubmission),
		registrations: make(map[string]ActiveRegistration),
		nextDonorID:   1,
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		donors:        make(map[int]Donor, len(s.donors)),
		migrations:    make(map[string]DictionaryMigration, len(s.migrations)),
		submissions:   make(map[string]ActiveClinicalSubmission, len(s.submissions)),
		registrations: make(map[string]ActiveRegistration, len(s.registrations)),
		settings:      s.settings,
		nextDonorID:   s.nextDonorID,
	}
	for k, v := range s.donors {
		out.donors[k] = v.Clone()
	}
	for k, v := range s.migrations {
		out.migrations[k] = v.Clone()
	}
	for k, v := range s.submissions {
		out.submissions[k] = v.Clone()
	}
	for k, v := range s.registrations {
		out.registrations[k] = cloneRegistration(v)
	}
	return out
}

func cloneRegistration(r ActiveRegistration) ActiveRegistration {
	out := r
	out.Records = append([]domain.RegistrationRecord(nil), r.Records...)
	out.Stats = domain.RegistrationStats{
		NewDonorIDs:       cloneStats(r.Stats.NewDonorIDs),
		NewSpecimenIDs:    cloneStats(r.Stats.NewSpecimenIDs),
		NewSampleIDs:      cloneStats(r.Stats.NewSampleIDs),
		AlreadyRegistered: cloneStats(r.Stats.AlreadyRegistered),
	}
	return out
}

func cloneStats(in []domain.RegistrationStat) []domain.RegistrationStat {
	if in == nil {
		return nil
	}
	out := make([]domain.RegistrationStat, len(in))
	for i, s := range in {
		out[i] = domain.RegistrationStat{SubmitterID: s.SubmitterID, RowNumbers: append([]int(nil), s.RowNumbers...)}
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Donors:        c.donors,
		Migrations:    c.migrations,
		Submissions:   c.submissions,
		Registrations: c.registrations,
		Settings:      c.settings,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		donors:        s.Donors,
		migrations:    s.Migrations,
		submissions:   s.Submissions,
		registrations: s.Registrations,
		settings:      s.Settings,
	}
	state = state.clone()
	state.nextDonorID = 1
	for id := range state.donors {
		if id >= state.nextDonorID {
			state.nextDonorID = id + 1
		}
	}
	return state
}

// normalizeSnapshot initialises nil buckets and rekeys records whose map key
// disagrees with the record identity. Donors without an id are dropped.
func normalizeSnapshot(snapshot Snapshot) Snapshot {
	donors := make(map[int]Donor, len(snapshot.Donors))
	for _, d := range snapshot.Donors {
		if d.DonorID <= 0 {
			continue
		}
		donors[d.DonorID] = d
	}
	snapshot.Donors = donors

	migrations := make(map[string]DictionaryMigration, len(snapshot.Migrations))
	for key, m := range snapshot.Migrations {
		if m.ID == "" {
			m.ID = key
		}
		migrations[m.ID] = m
	}
	snapshot.Migrations = migrations

	submissions := make(map[string]ActiveClinicalSubmission, len(snapshot.Submissions))
	for key, sub := range snapshot.Submissions {
		if sub.ProgramID == "" {
			sub.ProgramID = key
		}
		submissions[sub.ProgramID] = sub
	}
	snapshot.Submissions = submissions

	registrations := make(map[string]ActiveRegistration, len(snapshot.Registrations))
	for key, reg := range snapshot.Registrations {
		if reg.ProgramID == "" {
			reg.ProgramID = key
		}
		registrations[reg.ProgramID] = reg
	}
	snapshot.Registrations = registrations
	return snapshot
}

// Store provides an in-memory transactional store for the clinical domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(normalizeSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider. A nil fn restores the UTC wall clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) FindDonor(id int) (Donor, bool) {
	d, ok := v.state.donors[id]
	if !ok {
		return Donor{}, false
	}
	return d.Clone(), true
}

func (v transactionView) FindDonorBySubmitterID(programID, submitterID string) (Donor, bool) {
	for _, d := range v.state.donors {
		if d.ProgramID == programID && d.SubmitterID == submitterID {
			return d.Clone(), true
		}
	}
	return Donor{}, false
}

func (v transactionView) FindDonorByEntityID(programID string, entity domain.ClinicalEntity, submitterID string) (Donor, bool) {
	if strings.TrimSpace(submitterID) == "" {
		return Donor{}, false
	}
	for _, d := range v.sortedDonors(programID) {
		if holdsEntity(d, entity, submitterID) {
			return d.Clone(), true
		}
	}
	return Donor{}, false
}

// holdsEntity reports whether the donor carries a record of entity keyed by
// submitterID. Specimens count once registered, the other entities once
// clinical data was committed for them.
func holdsEntity(d Donor, entity domain.ClinicalEntity, submitterID string) bool {
	switch entity {
	case domain.ClinicalDonor:
		return d.SubmitterID == submitterID
	case domain.ClinicalSpecimen:
		for _, sp := range d.Specimens {
			if sp.SubmitterID == submitterID {
				return true
			}
		}
	case domain.ClinicalPrimaryDiagnosis:
		return d.PrimaryDiagnosis != nil && d.PrimaryDiagnosis.ClinicalInfo.String(domain.FieldSubmitterPrimaryDiagnosisID) == submitterID
	case domain.ClinicalFollowUp:
		for _, fu := range d.FollowUps {
			if fu.ClinicalInfo.String(domain.FieldSubmitterFollowUpID) == submitterID {
				return true
			}
		}
	case domain.ClinicalTreatment:
		for _, tr := range d.Treatments {
			if tr.ClinicalInfo.String(domain.FieldSubmitterTreatmentID) == submitterID {
				return true
			}
		}
	}
	return false
}

func (v transactionView) sortedDonors(programID string) []Donor {
	out := make([]Donor, 0, len(v.state.donors))
	for _, d := range v.state.donors {
		if programID != "" && d.ProgramID != programID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DonorID < out[j].DonorID })
	return out
}

func (v transactionView) ListDonors(programID string) []Donor {
	donors := v.sortedDonors(programID)
	out := make([]Donor, len(donors))
	for i, d := range donors {
		out[i] = d.Clone()
	}
	return out
}

func (v transactionView) ListDonorsPendingMigration(migrationID string, limit int) []Donor {
	var out []Donor
	for _, d := range v.sortedDonors("") {
		if limit > 0 && len(out) >= limit {
			break
		}
		if d.SchemaMetadata.LastMigrationID == migrationID {
			continue
		}
		out = append(out, d.Clone())
	}
	return out
}

func (v transactionView) CountDonors() int {
	return len(v.state.donors)
}

func (v transactionView) FindMigration(id string) (DictionaryMigration, bool) {
	m, ok := v.state.migrations[id]
	if !ok {
		return DictionaryMigration{}, false
	}
	return m.Clone(), true
}

func (v transactionView) FindOpenMigration() (DictionaryMigration, bool) {
	for _, m := range v.ListMigrations() {
		if m.IsOpen() {
			return m, true
		}
	}
	return DictionaryMigration{}, false
}

// ListMigrations returns migrations ordered by creation time.
func (v transactionView) ListMigrations() []DictionaryMigration {
	out := make([]DictionaryMigration, 0, len(v.state.migrations))
	for _, m := range v.state.migrations {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindClinicalSubmission(programID string) (ActiveClinicalSubmission, bool) {
	sub, ok := v.state.submissions[programID]
	if !ok {
		return ActiveClinicalSubmission{}, false
	}
	return sub.Clone(), true
}

// ListClinicalSubmissions returns the staged submissions ordered by program.
func (v transactionView) ListClinicalSubmissions() []ActiveClinicalSubmission {
	out := make([]ActiveClinicalSubmission, 0, len(v.state.submissions))
	for _, sub := range v.state.submissions {
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProgramID < out[j].ProgramID })
	return out
}

func (v transactionView) FindRegistration(programID string) (ActiveRegistration, bool) {
	reg, ok := v.state.registrations[programID]
	if !ok {
		return ActiveRegistration{}, false
	}
	return cloneRegistration(reg), true
}

func (v transactionView) Settings() ClinicalSettings {
	return v.state.settings
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) view() transactionView {
	return transactionView{state: &tx.state}
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindDonor(id int) (Donor, bool) { return tx.view().FindDonor(id) }

func (tx *transaction) FindDonorBySubmitterID(programID, submitterID string) (Donor, bool) {
	return tx.view().FindDonorBySubmitterID(programID, submitterID)
}

func (tx *transaction) FindDonorByEntityID(programID string, entity domain.ClinicalEntity, submitterID string) (Donor, bool) {
	return tx.view().FindDonorByEntityID(programID, entity, submitterID)
}

func (tx *transaction) ListDonors(programID string) []Donor { return tx.view().ListDonors(programID) }

func (tx *transaction) ListDonorsPendingMigration(migrationID string, limit int) []Donor {
	return tx.view().ListDonorsPendingMigration(migrationID, limit)
}

func (tx *transaction) CountDonors() int { return tx.view().CountDonors() }

func (tx *transaction) FindMigration(id string) (DictionaryMigration, bool) {
	return tx.view().FindMigration(id)
}

func (tx *transaction) FindOpenMigration() (DictionaryMigration, bool) {
	return tx.view().FindOpenMigration()
}

func (tx *transaction) ListMigrations() []DictionaryMigration { return tx.view().ListMigrations() }

func (tx *transaction) FindClinicalSubmission(programID string) (ActiveClinicalSubmission, bool) {
	return tx.view().FindClinicalSubmission(programID)
}

func (tx *transaction) ListClinicalSubmissions() []ActiveClinicalSubmission {
	return tx.view().ListClinicalSubmissions()
}

func (tx *transaction) FindRegistration(programID string) (ActiveRegistration, bool) {
	return tx.view().FindRegistration(programID)
}

func (tx *transaction) Settings() ClinicalSettings { return tx.state.settings }

// CreateDonor stores a new donor under the next free donor id.
func (tx *transaction) CreateDonor(d Donor) (Donor, error) {
	if strings.TrimSpace(d.ProgramID) == "" || strings.TrimSpace(d.SubmitterID) == "" {
		return Donor{}, domain.InvalidArgumentError{Reason: "donor requires program and submitter id"}
	}
	d.DonorID = tx.state.nextDonorID
	tx.state.nextDonorID++
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.donors[d.DonorID] = d.Clone()
	tx.recordChange(Change{Entity: domain.EntityDonor, Action: domain.ActionCreate, After: d.Clone()})
	return d.Clone(), nil
}

// UpdateDonor mutates a donor using the provided mutator function. The donor
// id and creation time survive the mutation.
func (tx *transaction) UpdateDonor(id int, mutator func(*Donor) error) (Donor, error) {
	current, ok := tx.state.donors[id]
	if !ok {
		return Donor{}, domain.ErrNotFound{Entity: domain.EntityDonor, ID: fmt.Sprint(id)}
	}
	before := current.Clone()
	next := current.Clone()
	if err := mutator(&next); err != nil {
		return Donor{}, err
	}
	next.DonorID = id
	next.CreatedAt = before.CreatedAt
	next.UpdatedAt = tx.now
	tx.state.donors[id] = next.Clone()
	tx.recordChange(Change{Entity: domain.EntityDonor, Action: domain.ActionUpdate, Before: before, After: next.Clone()})
	return next.Clone(), nil
}

// CreateMigration stores a new migration record.
func (tx *transaction) CreateMigration(m DictionaryMigration) (DictionaryMigration, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.migrations[m.ID]; exists {
		return DictionaryMigration{}, fmt.Errorf("migration %q already exists", m.ID)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.migrations[m.ID] = m.Clone()
	tx.recordChange(Change{Entity: domain.EntityMigration, Action: domain.ActionCreate, After: m.Clone()})
	return m.Clone(), nil
}

// UpdateMigration mutates a migration record.
func (tx *transaction) UpdateMigration(id string, mutator func(*DictionaryMigration) error) (DictionaryMigration, error) {
	current, ok := tx.state.migrations[id]
	if !ok {
		return DictionaryMigration{}, domain.ErrNotFound{Entity: domain.EntityMigration, ID: id}
	}
	before := current.Clone()
	next := current.Clone()
	if err := mutator(&next); err != nil {
		return DictionaryMigration{}, err
	}
	next.ID = id
	next.CreatedAt = before.CreatedAt
	next.UpdatedAt = tx.now
	tx.state.migrations[id] = next.Clone()
	tx.recordChange(Change{Entity: domain.EntityMigration, Action: domain.ActionUpdate, Before: before, After: next.Clone()})
	return next.Clone(), nil
}

// SaveClinicalSubmission writes the program's staged submission after
// checking expectedVersion against the stored record.
func (tx *transaction) SaveClinicalSubmission(sub ActiveClinicalSubmission, expectedVersion string) (ActiveClinicalSubmission, error) {
	if strings.TrimSpace(sub.ProgramID) == "" {
		return ActiveClinicalSubmission{}, domain.InvalidArgumentError{Reason: "submission requires a program id"}
	}
	current, exists := tx.state.submissions[sub.ProgramID]
	switch {
	case exists && current.Version != expectedVersion:
		return ActiveClinicalSubmission{}, domain.ErrVersionConflict
	case !exists && expectedVersion != "":
		return ActiveClinicalSubmission{}, domain.ErrVersionConflict
	}
	action := domain.ActionCreate
	var before any
	if exists {
		action = domain.ActionUpdate
		before = current.Clone()
		sub.ID = current.ID
	}
	if sub.ID == "" {
		sub.ID = tx.store.newID()
	}
	sub.Version = tx.store.newID()
	sub.UpdatedAt = tx.now
	tx.state.submissions[sub.ProgramID] = sub.Clone()
	tx.recordChange(Change{Entity: domain.EntityClinicalSubmission, Action: action, Before: before, After: sub.Clone()})
	return sub.Clone(), nil
}

// DeleteClinicalSubmission removes the program's staged submission. An empty
// expectedVersion deletes unconditionally.
func (tx *transaction) DeleteClinicalSubmission(programID, expectedVersion string) error {
	current, ok := tx.state.submissions[programID]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityClinicalSubmission, ID: programID}
	}
	if expectedVersion != "" && current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	delete(tx.state.submissions, programID)
	tx.recordChange(Change{Entity: domain.EntityClinicalSubmission, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// SaveRegistration replaces the program's staged registration.
func (tx *transaction) SaveRegistration(reg ActiveRegistration) (ActiveRegistration, error) {
	if strings.TrimSpace(reg.ProgramID) == "" {
		return ActiveRegistration{}, domain.InvalidArgumentError{Reason: "registration requires a program id"}
	}
	action := domain.ActionCreate
	var before any
	if current, ok := tx.state.registrations[reg.ProgramID]; ok {
		action = domain.ActionUpdate
		before = cloneRegistration(current)
	}
	if reg.ID == "" {
		reg.ID = tx.store.newID()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = tx.now
	}
	tx.state.registrations[reg.ProgramID] = cloneRegistration(reg)
	tx.recordChange(Change{Entity: domain.EntityRegistration, Action: action, Before: before, After: cloneRegistration(reg)})
	return cloneRegistration(reg), nil
}

// DeleteRegistration removes the program's staged registration.
func (tx *transaction) DeleteRegistration(programID string) error {
	current, ok := tx.state.registrations[programID]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityRegistration, ID: programID}
	}
	delete(tx.state.registrations, programID)
	tx.recordChange(Change{Entity: domain.EntityRegistration, Action: domain.ActionDelete, Before: cloneRegistration(current)})
	return nil
}

// UpdateSettings mutates the singleton settings record.
func (tx *transaction) UpdateSettings(mutator func(*ClinicalSettings) error) (ClinicalSettings, error) {
	before := tx.state.settings
	next := before
	if err := mutator(&next); err != nil {
		return ClinicalSettings{}, err
	}
	next.UpdatedAt = tx.now
	tx.state.settings = next
	tx.recordChange(Change{Entity: domain.EntitySettings, Action: domain.ActionUpdate, Before: before, After: next})
	return next, nil
}
