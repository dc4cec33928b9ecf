package domain

import "context"

// TransactionView provides read-only access to snapshot data for rules and
// query paths.
type TransactionView interface {
	FindDonor(id int) (Donor, bool)
	FindDonorBySubmitterID(programID, submitterID string) (Donor, bool)
	// FindDonorByEntityID returns the donor that owns the clinical record of
	// entity identified by submitterID within the program.
	FindDonorByEntityID(programID string, entity ClinicalEntity, submitterID string) (Donor, bool)
	// ListDonors returns donors ordered by DonorID. An empty programID lists
	// every program.
	ListDonors(programID string) []Donor
	// ListDonorsPendingMigration returns up to limit donors, ordered by
	// DonorID, whose schema metadata was not yet stamped by migrationID.
	ListDonorsPendingMigration(migrationID string, limit int) []Donor
	CountDonors() int

	FindMigration(id string) (DictionaryMigration, bool)
	FindOpenMigration() (DictionaryMigration, bool)
	ListMigrations() []DictionaryMigration

	FindClinicalSubmission(programID string) (ActiveClinicalSubmission, bool)
	ListClinicalSubmissions() []ActiveClinicalSubmission
	FindRegistration(programID string) (ActiveRegistration, bool)

	Settings() ClinicalSettings
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads observe the writes made earlier in
// the same transaction.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView

	// CreateDonor stores a new donor and assigns the next DonorID.
	CreateDonor(Donor) (Donor, error)
	UpdateDonor(id int, mutator func(*Donor) error) (Donor, error)

	// CreateMigration stores a migration, assigning an ID when empty.
	CreateMigration(DictionaryMigration) (DictionaryMigration, error)
	UpdateMigration(id string, mutator func(*DictionaryMigration) error) (DictionaryMigration, error)

	// SaveClinicalSubmission replaces the program's submission when the stored
	// version equals expectedVersion. An empty expectedVersion requires that no
	// submission exists. The saved record carries a fresh version.
	SaveClinicalSubmission(sub ActiveClinicalSubmission, expectedVersion string) (ActiveClinicalSubmission, error)
	DeleteClinicalSubmission(programID, expectedVersion string) error

	// SaveRegistration replaces the program's active registration.
	SaveRegistration(ActiveRegistration) (ActiveRegistration, error)
	DeleteRegistration(programID string) error

	UpdateSettings(mutator func(*ClinicalSettings) error) (ClinicalSettings, error)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
