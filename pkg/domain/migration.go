package domain

import (
	"time"

	"clinicalcore/pkg/dictionary"
)

// MigrationStage tracks progress of a dictionary migration.
type MigrationStage string

// Migration stages.
const (
	StageSubmitted  MigrationStage = "SUBMITTED"
	StageAnalyzed   MigrationStage = "ANALYZED"
	StageInProgress MigrationStage = "IN_PROGRESS"
	StageCompleted  MigrationStage = "COMPLETED"
	StageFailed     MigrationStage = "FAILED"
)

// MigrationState is OPEN while a migration holds the global lock.
type MigrationState string

// Migration states.
const (
	MigrationOpen   MigrationState = "OPEN"
	MigrationClosed MigrationState = "CLOSED"
)

// MigrationStats accumulates donor sweep counters.
type MigrationStats struct {
	TotalProcessed        int `json:"totalProcessed"`
	ValidDocumentsCount   int `json:"validDocumentsCount"`
	InvalidDocumentsCount int `json:"invalidDocumentsCount"`
}

// DonorMigrationError lists the schema findings that invalidated a donor,
// keyed by clinical entity.
type DonorMigrationError struct {
	DonorID          int                                                   `json:"donorId"`
	SubmitterDonorID string                                                `json:"submitterDonorId"`
	ProgramID        string                                                `json:"programId"`
	Errors           map[ClinicalEntity][]dictionary.SchemaValidationError `json:"errors"`
}

// SubmissionRef identifies a staged clinical submission.
type SubmissionRef struct {
	ProgramID string `json:"programId"`
	ID        string `json:"id"`
}

// CodeListGap reports code list values the engine needs but a dictionary
// dropped.
type CodeListGap struct {
	FieldName             string   `json:"fieldName"`
	MissingCodeListValues []string `json:"missingCodeListValues"`
}

// EntitySchemaProblems lists why a new dictionary cannot serve one entity.
type EntitySchemaProblems struct {
	MissingFields         []string      `json:"missingFields,omitempty"`
	InvalidFieldCodeLists []CodeListGap `json:"invalidFieldCodeLists,omitempty"`
	ValueTypeChanges      []string      `json:"valueTypeChanges,omitempty"`
}

// Empty reports whether no problems were found.
func (p EntitySchemaProblems) Empty() bool {
	return len(p.MissingFields) == 0 && len(p.InvalidFieldCodeLists) == 0 && len(p.ValueTypeChanges) == 0
}

// NewSchemaVerification maps entities to the problems found with a new
// dictionary before migrating to it.
type NewSchemaVerification map[ClinicalEntity]EntitySchemaProblems

// DictionaryMigration records one migration run.
type DictionaryMigration struct {
	ID                       string                `json:"id"`
	FromVersion              string                `json:"fromVersion"`
	ToVersion                string                `json:"toVersion"`
	State                    MigrationState        `json:"state"`
	Stage                    MigrationStage        `json:"stage"`
	DryRun                   bool                  `json:"dryRun"`
	CreatedBy                string                `json:"createdBy"`
	Stats                    MigrationStats        `json:"stats"`
	InvalidDonorsErrors      []DonorMigrationError `json:"invalidDonorsErrors"`
	CheckedSubmissions       []SubmissionRef       `json:"checkedSubmissions"`
	InvalidSubmissions       []SubmissionRef       `json:"invalidSubmissions"`
	ProgramsWithDonorUpdates []string              `json:"programsWithDonorUpdates"`
	NewSchemaErrors          NewSchemaVerification `json:"newSchemaErrors,omitempty"`
	ErrorMessage             string                `json:"errorMessage,omitempty"`
	CreatedAt                time.Time             `json:"createdAt"`
	UpdatedAt                time.Time             `json:"updatedAt"`
}

// IsOpen reports whether the migration still holds the global lock.
func (m DictionaryMigration) IsOpen() bool {
	return m.State == MigrationOpen
}

// HasChecked reports whether the submission was already revalidated.
func (m DictionaryMigration) HasChecked(ref SubmissionRef) bool {
	for _, c := range m.CheckedSubmissions {
		if c == ref {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the migration.
func (m DictionaryMigration) Clone() DictionaryMigration {
	out := m
	out.InvalidDonorsErrors = append([]DonorMigrationError(nil), m.InvalidDonorsErrors...)
	out.CheckedSubmissions = append([]SubmissionRef(nil), m.CheckedSubmissions...)
	out.InvalidSubmissions = append([]SubmissionRef(nil), m.InvalidSubmissions...)
	out.ProgramsWithDonorUpdates = append([]string(nil), m.ProgramsWithDonorUpdates...)
	if m.NewSchemaErrors != nil {
		out.NewSchemaErrors = make(NewSchemaVerification, len(m.NewSchemaErrors))
		for k, v := range m.NewSchemaErrors {
			out.NewSchemaErrors[k] = v
		}
	}
	return out
}
