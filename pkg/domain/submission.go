package domain

import (
	"time"

	"clinicalcore/pkg/dictionary"
)

// SubmissionState is the lifecycle state of a staged clinical submission.
type SubmissionState string

// Clinical submission states.
const (
	SubmissionOpen               SubmissionState = "OPEN"
	SubmissionValid              SubmissionState = "VALID"
	SubmissionInvalid            SubmissionState = "INVALID"
	SubmissionInvalidByMigration SubmissionState = "INVALID_BY_MIGRATION"
	SubmissionPendingApproval    SubmissionState = "PENDING_APPROVAL"
)

// ValidationErrorType tags a submission level finding. Schema findings reuse
// the dictionary error type names.
type ValidationErrorType string

// Cross record and referential finding types.
const (
	ErrDeletingTherapy                      ValidationErrorType = "DELETING_THERAPY"
	ErrMutatingExistingData                 ValidationErrorType = "MUTATING_EXISTING_DATA"
	ErrSampleBelongsToOtherSpecimen         ValidationErrorType = "SAMPLE_BELONGS_TO_OTHER_SPECIMEN"
	ErrSpecimenBelongsToOtherDonor          ValidationErrorType = "SPECIMEN_BELONGS_TO_OTHER_DONOR"
	ErrNewSpecimenAttrConflict              ValidationErrorType = "NEW_SPECIMEN_ATTR_CONFLICT"
	ErrNewSampleAttrConflict                ValidationErrorType = "NEW_SAMPLE_ATTR_CONFLICT"
	ErrNewDonorConflict                     ValidationErrorType = "NEW_DONOR_CONFLICT"
	ErrInvalidProgramID                     ValidationErrorType = "INVALID_PROGRAM_ID"
	ErrNewSpecimenIDConflict                ValidationErrorType = "NEW_SPECIMEN_ID_CONFLICT"
	ErrNewSampleIDConflict                  ValidationErrorType = "NEW_SAMPLE_ID_CONFLICT"
	ErrIDNotRegistered                      ValidationErrorType = "ID_NOT_REGISTERED"
	ErrConflictingTimeInterval              ValidationErrorType = "CONFLICTING_TIME_INTERVAL"
	ErrNotEnoughInfoToValidate              ValidationErrorType = "NOT_ENOUGH_INFO_TO_VALIDATE"
	ErrRelatedEntityMissingOrConflicting    ValidationErrorType = "RELATED_ENTITY_MISSING_OR_CONFLICTING"
	ErrFoundIdenticalIDs                    ValidationErrorType = "FOUND_IDENTICAL_IDS"
	ErrMissingTherapyData                   ValidationErrorType = "MISSING_THERAPY_DATA"
	ErrIncompatibleParentTreatmentType      ValidationErrorType = "INCOMPATIBLE_PARENT_TREATMENT_TYPE"
	ErrTreatmentIDNotFound                  ValidationErrorType = "TREATMENT_ID_NOT_FOUND"
	ErrClinicalEntityBelongsToOtherDonor    ValidationErrorType = "CLINICAL_ENTITY_BELONGS_TO_OTHER_DONOR"
	ErrMissingVariableRequirement           ValidationErrorType = "MISSING_VARIABLE_REQUIREMENT"
	ErrForbiddenProvidedVariableRequirement ValidationErrorType = "FORBIDDEN_PROVIDED_VARIABLE_REQUIREMENT"
	ErrTNMStagingFieldsMissing              ValidationErrorType = "TNM_STAGING_FIELDS_MISSING"
)

// SubmissionValidationError is a finding attached to one submitted row.
type SubmissionValidationError struct {
	Type      ValidationErrorType `json:"type"`
	FieldName string              `json:"fieldName"`
	Info      map[string]any      `json:"info"`
	Index     int                 `json:"index"`
	Message   string              `json:"message"`
}

// UpdateInfo carries the before and after value of an updated field.
type UpdateInfo struct {
	DonorSubmitterID string `json:"donorSubmitterId"`
	NewValue         string `json:"newValue"`
	OldValue         string `json:"oldValue"`
}

// SubmissionValidationUpdate records a changed field on an UPDATED row.
type SubmissionValidationUpdate struct {
	FieldName string     `json:"fieldName"`
	Info      UpdateInfo `json:"info"`
	Index     int        `json:"index"`
}

// ModificationType classifies a validated clinical row.
type ModificationType string

// Row classifications.
const (
	ModificationErrorsFound ModificationType = "errorsFound"
	ModificationNew         ModificationType = "new"
	ModificationUpdated     ModificationType = "updated"
	ModificationNoUpdate    ModificationType = "noUpdate"
)

// ClinicalStats lists row indexes per classification.
type ClinicalStats struct {
	New         []int `json:"new"`
	NoUpdate    []int `json:"noUpdate"`
	Updated     []int `json:"updated"`
	ErrorsFound []int `json:"errorsFound"`
}

// Add records index under the given classification.
func (s *ClinicalStats) Add(m ModificationType, index int) {
	switch m {
	case ModificationNew:
		s.New = append(s.New, index)
	case ModificationNoUpdate:
		s.NoUpdate = append(s.NoUpdate, index)
	case ModificationUpdated:
		s.Updated = append(s.Updated, index)
	case ModificationErrorsFound:
		s.ErrorsFound = append(s.ErrorsFound, index)
	}
}

// ClinicalTypeValidateResult is the validation outcome for one entity type.
type ClinicalTypeValidateResult struct {
	DataErrors   []SubmissionValidationError  `json:"dataErrors"`
	DataWarnings []SubmissionValidationError  `json:"dataWarnings"`
	DataUpdates  []SubmissionValidationUpdate `json:"dataUpdates"`
	Stats        ClinicalStats                `json:"stats"`
}

// SavedClinicalEntity is one staged batch of an entity type.
type SavedClinicalEntity struct {
	BatchName    string                       `json:"batchName"`
	Creator      string                       `json:"creator"`
	CreatedAt    time.Time                    `json:"createdAt"`
	Records      []dictionary.TypedRecord     `json:"records"`
	SchemaErrors []SubmissionValidationError  `json:"schemaErrors"`
	DataErrors   []SubmissionValidationError  `json:"dataErrors"`
	DataWarnings []SubmissionValidationError  `json:"dataWarnings"`
	DataUpdates  []SubmissionValidationUpdate `json:"dataUpdates"`
	Stats        ClinicalStats                `json:"stats"`
}

// ActiveClinicalSubmission is a program's staged, uncommitted clinical data.
type ActiveClinicalSubmission struct {
	ID               string                                 `json:"id"`
	ProgramID        string                                 `json:"programId"`
	State            SubmissionState                        `json:"state"`
	Version          string                                 `json:"version"`
	ClinicalEntities map[ClinicalEntity]SavedClinicalEntity `json:"clinicalEntities"`
	UpdatedBy        string                                 `json:"updatedBy"`
	UpdatedAt        time.Time                              `json:"updatedAt"`
}

// Ref returns the submission reference.
func (s ActiveClinicalSubmission) Ref() SubmissionRef {
	return SubmissionRef{ProgramID: s.ProgramID, ID: s.ID}
}

// Clone returns a deep copy of the submission.
func (s ActiveClinicalSubmission) Clone() ActiveClinicalSubmission {
	out := s
	if s.ClinicalEntities != nil {
		out.ClinicalEntities = make(map[ClinicalEntity]SavedClinicalEntity, len(s.ClinicalEntities))
		for k, v := range s.ClinicalEntities {
			records := make([]dictionary.TypedRecord, len(v.Records))
			for i, r := range v.Records {
				records[i] = r.Clone()
			}
			v.Records = records
			v.SchemaErrors = append([]SubmissionValidationError(nil), v.SchemaErrors...)
			v.DataErrors = append([]SubmissionValidationError(nil), v.DataErrors...)
			v.DataWarnings = append([]SubmissionValidationError(nil), v.DataWarnings...)
			v.DataUpdates = append([]SubmissionValidationUpdate(nil), v.DataUpdates...)
			out.ClinicalEntities[k] = v
		}
	}
	return out
}

// RegistrationRecord is one validated sample registration row.
type RegistrationRecord struct {
	ProgramID               string `json:"programId"`
	DonorSubmitterID        string `json:"donorSubmitterId"`
	Gender                  string `json:"gender"`
	SpecimenSubmitterID     string `json:"specimenSubmitterId"`
	SpecimenTissueSource    string `json:"specimenTissueSource"`
	TumourNormalDesignation string `json:"tumourNormalDesignation"`
	SpecimenType            string `json:"specimenType"`
	SampleSubmitterID       string `json:"sampleSubmitterId"`
	SampleType              string `json:"sampleType"`
}

// RegistrationRecordFromTyped maps a processed sample_registration row.
func RegistrationRecordFromTyped(rec dictionary.TypedRecord) RegistrationRecord {
	info := ClinicalInfo(rec)
	return RegistrationRecord{
		ProgramID:               info.String(FieldProgramID),
		DonorSubmitterID:        info.String(FieldSubmitterDonorID),
		Gender:                  info.String(FieldGender),
		SpecimenSubmitterID:     info.String(FieldSubmitterSpecimenID),
		SpecimenTissueSource:    info.String(FieldSpecimenTissueSource),
		TumourNormalDesignation: info.String(FieldTumourNormalDesignation),
		SpecimenType:            info.String(FieldSpecimenType),
		SampleSubmitterID:       info.String(FieldSubmitterSampleID),
		SampleType:              info.String(FieldSampleType),
	}
}

// RegistrationStat groups row numbers by submitter id.
type RegistrationStat struct {
	SubmitterID string `json:"submitterId"`
	RowNumbers  []int  `json:"rowNumbers"`
}

// RegistrationStats summarises what a registration would create.
type RegistrationStats struct {
	NewDonorIDs       []RegistrationStat `json:"newDonorIds"`
	NewSpecimenIDs    []RegistrationStat `json:"newSpecimenIds"`
	NewSampleIDs      []RegistrationStat `json:"newSampleIds"`
	AlreadyRegistered []RegistrationStat `json:"alreadyRegistered"`
}

// ActiveRegistration is a program's validated, uncommitted registration.
type ActiveRegistration struct {
	ID            string               `json:"id"`
	ProgramID     string               `json:"programId"`
	Creator       string               `json:"creator"`
	BatchName     string               `json:"batchName"`
	SchemaVersion string               `json:"schemaVersion"`
	Records       []RegistrationRecord `json:"records"`
	Stats         RegistrationStats    `json:"stats"`
	CreatedAt     time.Time            `json:"createdAt"`
}
