// Package domain defines the persistent clinical aggregates, migration and
// staging records, and the rule evaluation primitives used by clinicalcore.
package domain

import (
	"strconv"
	"time"
)

// EntityType identifies the kind of record stored by a persistence backend.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDonor identifies a donor aggregate.
	EntityDonor EntityType = "donor"
	// EntityMigration identifies a dictionary migration record.
	EntityMigration EntityType = "migration"
	// EntityClinicalSubmission identifies a program's staged clinical submission.
	EntityClinicalSubmission EntityType = "clinical_submission"
	// EntityRegistration identifies a program's staged sample registration.
	EntityRegistration EntityType = "registration"
	// EntitySettings identifies the singleton clinical settings record.
	EntitySettings EntityType = "settings"
	// EntityDictionary identifies a published dictionary version.
	EntityDictionary EntityType = "dictionary"
)

// Severity indicates how the system should react to a rule violation.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// SchemaMetadata tracks which dictionary version a donor was last checked
// against.
type SchemaMetadata struct {
	LastValidSchemaVersion string `json:"lastValidSchemaVersion"`
	OriginalSchemaVersion  string `json:"originalSchemaVersion"`
	IsValid                bool   `json:"isValid"`
	LastMigrationID        string `json:"lastMigrationId,omitempty"`
}

// Donor is the aggregate root of all clinical data for one participant.
type Donor struct {
	DonorID          int               `json:"donorId"`
	ProgramID        string            `json:"programId"`
	SubmitterID      string            `json:"submitterId"`
	Gender           string            `json:"gender"`
	SchemaMetadata   SchemaMetadata    `json:"schemaMetadata"`
	ClinicalInfo     ClinicalInfo      `json:"clinicalInfo,omitempty"`
	PrimaryDiagnosis *PrimaryDiagnosis `json:"primaryDiagnosis,omitempty"`
	Specimens        []Specimen        `json:"specimens"`
	Treatments       []Treatment       `json:"treatments"`
	FollowUps        []FollowUp        `json:"followUps"`
	CompletionStats  *CompletionStats  `json:"completionStats,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// ID returns the stable store identifier of the donor.
func (d Donor) ID() string {
	return strconv.Itoa(d.DonorID)
}

// Specimen is a registered specimen with optional clinical data.
type Specimen struct {
	SpecimenID              int          `json:"specimenId,omitempty"`
	SubmitterID             string       `json:"submitterId"`
	SpecimenTissueSource    string       `json:"specimenTissueSource"`
	TumourNormalDesignation string       `json:"tumourNormalDesignation"`
	SpecimenType            string       `json:"specimenType"`
	ClinicalInfo            ClinicalInfo `json:"clinicalInfo,omitempty"`
	Samples                 []Sample     `json:"samples"`
}

// Sample is a registered sample of a specimen.
type Sample struct {
	SampleID    int    `json:"sampleId,omitempty"`
	SubmitterID string `json:"submitterId"`
	SampleType  string `json:"sampleType"`
}

// PrimaryDiagnosis holds the donor's primary diagnosis record.
type PrimaryDiagnosis struct {
	ClinicalInfo ClinicalInfo `json:"clinicalInfo"`
}

// FollowUp is a follow-up record.
type FollowUp struct {
	FollowUpID   int          `json:"followUpId,omitempty"`
	ClinicalInfo ClinicalInfo `json:"clinicalInfo"`
}

// Treatment is a treatment record and the therapies submitted for it.
type Treatment struct {
	TreatmentID  int          `json:"treatmentId,omitempty"`
	ClinicalInfo ClinicalInfo `json:"clinicalInfo"`
	Therapies    []Therapy    `json:"therapies"`
}

// Therapy is one therapy record attached to a treatment.
type Therapy struct {
	TherapyType  ClinicalEntity `json:"therapyType"`
	ClinicalInfo ClinicalInfo   `json:"clinicalInfo"`
}

// CompletionStats summarises how complete a donor's core clinical data is.
type CompletionStats struct {
	CoreCompletion           map[CoreEntity]float64 `json:"coreCompletion"`
	OverriddenCoreCompletion []CoreEntity           `json:"overriddenCoreCompletion"`
	CoreCompletionPercentage float64                `json:"coreCompletionPercentage"`
	CoreCompletionDate       *time.Time             `json:"coreCompletionDate,omitempty"`
}

// IsOverridden reports whether entity was manually overridden.
func (s *CompletionStats) IsOverridden(entity CoreEntity) bool {
	if s == nil {
		return false
	}
	for _, e := range s.OverriddenCoreCompletion {
		if e == entity {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the donor.
func (d Donor) Clone() Donor {
	out := d
	out.ClinicalInfo = d.ClinicalInfo.Clone()
	if d.PrimaryDiagnosis != nil {
		pd := PrimaryDiagnosis{ClinicalInfo: d.PrimaryDiagnosis.ClinicalInfo.Clone()}
		out.PrimaryDiagnosis = &pd
	}
	if d.Specimens != nil {
		out.Specimens = make([]Specimen, len(d.Specimens))
		for i, sp := range d.Specimens {
			out.Specimens[i] = sp.Clone()
		}
	}
	if d.Treatments != nil {
		out.Treatments = make([]Treatment, len(d.Treatments))
		for i, tr := range d.Treatments {
			out.Treatments[i] = tr.Clone()
		}
	}
	if d.FollowUps != nil {
		out.FollowUps = make([]FollowUp, len(d.FollowUps))
		for i, fu := range d.FollowUps {
			out.FollowUps[i] = FollowUp{FollowUpID: fu.FollowUpID, ClinicalInfo: fu.ClinicalInfo.Clone()}
		}
	}
	out.CompletionStats = d.CompletionStats.Clone()
	return out
}

// Clone returns a deep copy of the specimen.
func (s Specimen) Clone() Specimen {
	out := s
	out.ClinicalInfo = s.ClinicalInfo.Clone()
	if s.Samples != nil {
		out.Samples = append([]Sample(nil), s.Samples...)
	}
	return out
}

// Clone returns a deep copy of the treatment.
func (t Treatment) Clone() Treatment {
	out := t
	out.ClinicalInfo = t.ClinicalInfo.Clone()
	if t.Therapies != nil {
		out.Therapies = make([]Therapy, len(t.Therapies))
		for i, th := range t.Therapies {
			out.Therapies[i] = Therapy{TherapyType: th.TherapyType, ClinicalInfo: th.ClinicalInfo.Clone()}
		}
	}
	return out
}

// Clone returns a deep copy of the stats; nil stays nil.
func (s *CompletionStats) Clone() *CompletionStats {
	if s == nil {
		return nil
	}
	out := &CompletionStats{
		CoreCompletionPercentage: s.CoreCompletionPercentage,
	}
	if s.CoreCompletion != nil {
		out.CoreCompletion = make(map[CoreEntity]float64, len(s.CoreCompletion))
		for k, v := range s.CoreCompletion {
			out.CoreCompletion[k] = v
		}
	}
	if s.OverriddenCoreCompletion != nil {
		out.OverriddenCoreCompletion = append([]CoreEntity(nil), s.OverriddenCoreCompletion...)
	}
	if s.CoreCompletionDate != nil {
		date := *s.CoreCompletionDate
		out.CoreCompletionDate = &date
	}
	return out
}

// ClinicalSettings is the persisted, system wide submission switch and
// current dictionary pointer.
type ClinicalSettings struct {
	SubmissionsDisabled bool      `json:"submissionsDisabled"`
	DictionaryName      string    `json:"dictionaryName"`
	DictionaryVersion   string    `json:"dictionaryVersion"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
