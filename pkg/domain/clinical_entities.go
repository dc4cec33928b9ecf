package domain

// ClinicalEntity names a dictionary schema that clinical records are
// submitted against.
type ClinicalEntity string

// Clinical entity schema names.
const (
	ClinicalRegistration     ClinicalEntity = "sample_registration"
	ClinicalDonor            ClinicalEntity = "donor"
	ClinicalSpecimen         ClinicalEntity = "specimen"
	ClinicalPrimaryDiagnosis ClinicalEntity = "primary_diagnosis"
	ClinicalTreatment        ClinicalEntity = "treatment"
	ClinicalChemotherapy     ClinicalEntity = "chemotherapy"
	ClinicalRadiation        ClinicalEntity = "radiation"
	ClinicalHormoneTherapy   ClinicalEntity = "hormone_therapy"
	ClinicalImmunotherapy    ClinicalEntity = "immunotherapy"
	ClinicalSurgery          ClinicalEntity = "surgery"
	ClinicalFollowUp         ClinicalEntity = "follow_up"
)

// TherapyEntities lists the therapy schemas stored under a treatment.
var TherapyEntities = []ClinicalEntity{
	ClinicalChemotherapy,
	ClinicalHormoneTherapy,
	ClinicalRadiation,
	ClinicalImmunotherapy,
	ClinicalSurgery,
}

// ClinicalEntities lists every clinical schema that carries donor data, in
// merge order.
var ClinicalEntities = []ClinicalEntity{
	ClinicalDonor,
	ClinicalPrimaryDiagnosis,
	ClinicalSpecimen,
	ClinicalTreatment,
	ClinicalChemotherapy,
	ClinicalHormoneTherapy,
	ClinicalRadiation,
	ClinicalImmunotherapy,
	ClinicalSurgery,
	ClinicalFollowUp,
}

// IsTherapy reports whether e is a therapy schema.
func (e ClinicalEntity) IsTherapy() bool {
	for _, t := range TherapyEntities {
		if t == e {
			return true
		}
	}
	return false
}

// CoreEntity keys the completion stats of a donor.
type CoreEntity string

// Core entities tracked for completeness.
const (
	CoreDonor            CoreEntity = "donor"
	CoreSpecimens        CoreEntity = "specimens"
	CorePrimaryDiagnosis CoreEntity = "primaryDiagnosis"
	CoreFollowUps        CoreEntity = "followUps"
	CoreTreatments       CoreEntity = "treatments"
)

// CoreEntities lists every core entity in a stable order.
var CoreEntities = []CoreEntity{CoreDonor, CoreSpecimens, CorePrimaryDiagnosis, CoreFollowUps, CoreTreatments}

// CoreEntityFor maps a clinical schema to its core completion key.
func CoreEntityFor(e ClinicalEntity) (CoreEntity, bool) {
	switch e {
	case ClinicalDonor:
		return CoreDonor, true
	case ClinicalSpecimen:
		return CoreSpecimens, true
	case ClinicalPrimaryDiagnosis:
		return CorePrimaryDiagnosis, true
	case ClinicalFollowUp:
		return CoreFollowUps, true
	case ClinicalTreatment:
		return CoreTreatments, true
	}
	return "", false
}

// IsCoreEntity reports whether name is a known core completion key.
func IsCoreEntity(name CoreEntity) bool {
	for _, c := range CoreEntities {
		if c == name {
			return true
		}
	}
	return false
}

// Clinical field names referenced by validation and merge logic.
const (
	FieldProgramID                   = "program_id"
	FieldSubmitterDonorID            = "submitter_donor_id"
	FieldVitalStatus                 = "vital_status"
	FieldSurvivalTime                = "survival_time"
	FieldCauseOfDeath                = "cause_of_death"
	FieldSubmitterSpecimenID         = "submitter_specimen_id"
	FieldSpecimenAcquisitionInterval = "specimen_acquisition_interval"
	FieldSubmitterPrimaryDiagnosisID = "submitter_primary_diagnosis_id"
	FieldSubmitterTreatmentID        = "submitter_treatment_id"
	FieldTreatmentType               = "treatment_type"
	FieldSubmitterFollowUpID         = "submitter_follow_up_id"
	FieldDrugRxNormCUI               = "drug_rxnormcui"
	FieldDrugName                    = "drug_name"
	FieldRadiationTherapyModality    = "radiation_therapy_modality"
	FieldImmunotherapyType           = "immunotherapy_type"
	FieldSurgeryType                 = "surgery_type"
	FieldGender                      = "gender"
	FieldSpecimenTissueSource        = "specimen_tissue_source"
	FieldTumourNormalDesignation     = "tumour_normal_designation"
	FieldSpecimenType                = "specimen_type"
	FieldSubmitterSampleID           = "submitter_sample_id"
	FieldSampleType                  = "sample_type"
	FieldClinicalTumourStagingSystem = "clinical_tumour_staging_system"
	FieldClinicalStageGroup          = "clinical_stage_group"
	FieldClinicalTCategory           = "clinical_t_category"
	FieldClinicalNCategory           = "clinical_n_category"
	FieldClinicalMCategory           = "clinical_m_category"
	// IndexField is the row pseudo-field carried on staged records.
	IndexField = "index"
)

// Values of clinical code lists the engine branches on.
const (
	VitalStatusDeceased = "Deceased"
	DesignationTumour   = "Tumour"
	DesignationNormal   = "Normal"
)

// TumourSpecimenRequiredFields must be set on Tumour specimens and must not be
// set on Normal ones.
var TumourSpecimenRequiredFields = []string{
	"pathological_tumour_staging_system",
	"pathological_stage_group",
	"tumour_grading_system",
	"tumour_grade",
	"percent_tumour_cells",
	"percent_proliferating_cells",
	"percent_stromal_cells",
	"percent_necrosis",
	"percent_inflammatory_tissue",
	"tumour_histological_type",
	"reference_pathology_confirmed",
}

// TumourSpecimenOptionalFields may be set on Tumour specimens only.
var TumourSpecimenOptionalFields = []string{
	"pathological_t_category",
	"pathological_n_category",
	"pathological_m_category",
}

var uniqueIdentifiers = map[ClinicalEntity][]string{
	ClinicalDonor:            {FieldSubmitterDonorID},
	ClinicalSpecimen:         {FieldSubmitterSpecimenID},
	ClinicalPrimaryDiagnosis: {FieldSubmitterPrimaryDiagnosisID},
	ClinicalFollowUp:         {FieldSubmitterFollowUpID},
	ClinicalTreatment:        {FieldSubmitterTreatmentID},
	ClinicalChemotherapy:     {FieldSubmitterDonorID, FieldSubmitterTreatmentID, FieldDrugRxNormCUI},
	ClinicalHormoneTherapy:   {FieldSubmitterDonorID, FieldSubmitterTreatmentID, FieldDrugRxNormCUI},
	ClinicalImmunotherapy:    {FieldSubmitterDonorID, FieldSubmitterTreatmentID, FieldDrugRxNormCUI},
	ClinicalRadiation:        {FieldSubmitterDonorID, FieldSubmitterTreatmentID, FieldRadiationTherapyModality},
	ClinicalSurgery:          {FieldSubmitterDonorID, FieldSubmitterTreatmentID, FieldSubmitterSpecimenID},
}

// UniqueIdentifier returns the natural key fields of an entity. Entities
// without a natural key return nil.
func UniqueIdentifier(e ClinicalEntity) []string {
	ids := uniqueIdentifiers[e]
	if ids == nil {
		return nil
	}
	return append([]string(nil), ids...)
}

// SingleUniqueIdentifier returns the single key field of entities keyed by
// one submitter id.
func SingleUniqueIdentifier(e ClinicalEntity) (string, bool) {
	ids := uniqueIdentifiers[e]
	if len(ids) != 1 {
		return "", false
	}
	return ids[0], true
}

var therapyTreatmentTypes = map[ClinicalEntity]string{
	ClinicalChemotherapy:   "Chemotherapy",
	ClinicalRadiation:      "Radiation therapy",
	ClinicalHormoneTherapy: "Hormonal therapy",
	ClinicalImmunotherapy:  "Immunotherapy",
	ClinicalSurgery:        "Surgery",
}

// TreatmentTypeForTherapy returns the treatment_type value that implies the
// therapy schema.
func TreatmentTypeForTherapy(therapy ClinicalEntity) (string, bool) {
	v, ok := therapyTreatmentTypes[therapy]
	return v, ok
}

// TreatmentTypeNotMatchTherapyType reports whether the treatment types do not
// include the type implied by therapy.
func TreatmentTypeNotMatchTherapyType(treatmentTypes []string, therapy ClinicalEntity) bool {
	want, ok := therapyTreatmentTypes[therapy]
	if !ok {
		return true
	}
	for _, t := range treatmentTypes {
		if t == want {
			return false
		}
	}
	return true
}

// TherapiesForTreatmentTypes lists the therapy schemas implied by the given
// treatment types, in TherapyEntities order.
func TherapiesForTreatmentTypes(treatmentTypes []string) []ClinicalEntity {
	var out []ClinicalEntity
	for _, therapy := range TherapyEntities {
		if !TreatmentTypeNotMatchTherapyType(treatmentTypes, therapy) {
			out = append(out, therapy)
		}
	}
	return out
}

var (
	rxNormFields        = []string{FieldDrugName, FieldDrugRxNormCUI}
	commonTherapyFields = []string{FieldProgramID, FieldSubmitterDonorID, FieldSubmitterTreatmentID}
)

func joinFields(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// enumFields lists, per entity, the fields whose names and values the engine
// relies on. A new dictionary may not drop them.
var enumFields = map[ClinicalEntity][]string{
	ClinicalDonor: {FieldProgramID, FieldSubmitterDonorID, FieldVitalStatus, FieldSurvivalTime, FieldCauseOfDeath},
	ClinicalSpecimen: joinFields(
		[]string{FieldProgramID, FieldSubmitterDonorID, FieldSubmitterSpecimenID, FieldSpecimenAcquisitionInterval},
		TumourSpecimenRequiredFields,
		TumourSpecimenOptionalFields,
		[]string{FieldSubmitterPrimaryDiagnosisID},
	),
	ClinicalPrimaryDiagnosis: {
		FieldProgramID, FieldSubmitterDonorID, FieldSubmitterPrimaryDiagnosisID, "cancer_type_code", "age_at_diagnosis",
		FieldClinicalTumourStagingSystem, FieldClinicalStageGroup, FieldClinicalTCategory, FieldClinicalNCategory, FieldClinicalMCategory,
	},
	ClinicalTreatment: {
		FieldProgramID, FieldSubmitterDonorID, FieldSubmitterTreatmentID, FieldTreatmentType,
		FieldSubmitterPrimaryDiagnosisID, "treatment_start_interval",
	},
	ClinicalChemotherapy:   joinFields(rxNormFields, commonTherapyFields),
	ClinicalHormoneTherapy: joinFields(rxNormFields, commonTherapyFields),
	ClinicalImmunotherapy:  joinFields(rxNormFields, commonTherapyFields, []string{FieldImmunotherapyType}),
	ClinicalRadiation:      joinFields([]string{FieldRadiationTherapyModality}, commonTherapyFields),
	ClinicalSurgery:        joinFields(commonTherapyFields, []string{FieldSubmitterSpecimenID, FieldSurgeryType}),
	ClinicalFollowUp: {
		FieldProgramID, FieldSubmitterDonorID, FieldSubmitterFollowUpID, FieldSubmitterPrimaryDiagnosisID,
		FieldSubmitterTreatmentID, "interval_of_followup",
	},
	ClinicalRegistration: {
		FieldProgramID, FieldSubmitterDonorID, FieldGender, FieldSubmitterSpecimenID, FieldSpecimenTissueSource,
		FieldTumourNormalDesignation, FieldSpecimenType, FieldSubmitterSampleID, FieldSampleType,
	},
}

// RequiredEngineFields returns the fields the engine reads for entity.
func RequiredEngineFields(e ClinicalEntity) []string {
	return append([]string(nil), enumFields[e]...)
}

// KnownCodeList is a code list value set the engine branches on.
type KnownCodeList struct {
	Entity ClinicalEntity
	Field  string
	Values []string
}

// KnownCodeLists lists code list values a new dictionary must keep.
var KnownCodeLists = []KnownCodeList{
	{Entity: ClinicalDonor, Field: FieldVitalStatus, Values: []string{VitalStatusDeceased}},
	{Entity: ClinicalTreatment, Field: FieldTreatmentType, Values: []string{"Chemotherapy", "Hormonal therapy", "Immunotherapy", "Radiation therapy", "Surgery"}},
}
