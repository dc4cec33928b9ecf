package validation

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicalcore/internal/clinical"
	"clinicalcore/pkg/domain"
	"clinicalcore/testutil"
)

var dump = spew.ConfigState{Indent: " ", SortKeys: true, DisablePointerAddresses: true}

func row(index int, fields domain.ClinicalInfo) domain.ClinicalInfo {
	out := domain.ClinicalInfo{
		domain.FieldProgramID:        program,
		domain.FieldSubmitterDonorID: "DO-1",
		domain.IndexField:            index,
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func storedDonor() domain.Donor {
	d := testutil.RegisteredDonor(program, "DO-1", "1.0",
		testutil.Specimen("SP-N", domain.DesignationNormal, "SA-1"),
		testutil.Specimen("SP-T", domain.DesignationTumour, "SA-2"),
	)
	d.DonorID = 1
	return d
}

func tumourFields(except ...string) domain.ClinicalInfo {
	info := domain.ClinicalInfo{}
	for _, f := range domain.TumourSpecimenRequiredFields {
		info[f] = "x"
	}
	for _, f := range except {
		delete(info, f)
	}
	return info
}

type ownerIndex map[string]domain.Donor

func (o ownerIndex) FindDonorByEntityID(_ string, entity domain.ClinicalEntity, submitterID string) (domain.Donor, bool) {
	d, ok := o[string(entity)+"/"+submitterID]
	return d, ok
}

func TestUnregisteredDonorRows(t *testing.T) {
	records := RecordsByDonor{
		"DO-9": {
			domain.ClinicalDonor:    {row(0, domain.ClinicalInfo{domain.FieldSubmitterDonorID: "DO-9", domain.FieldVitalStatus: "Alive"})},
			domain.ClinicalFollowUp: {row(3, domain.ClinicalInfo{domain.FieldSubmitterDonorID: "DO-9", domain.FieldSubmitterFollowUpID: "FU-1"})},
		},
	}
	res := ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": storedDonor()}, nil)
	require.Len(t, res, 2)
	for entity, index := range map[domain.ClinicalEntity]int{domain.ClinicalDonor: 0, domain.ClinicalFollowUp: 3} {
		got := res[entity]
		require.Len(t, got.DataErrors, 1, dump.Sdump(got))
		e := got.DataErrors[0]
		assert.Equal(t, domain.ErrIDNotRegistered, e.Type)
		assert.Equal(t, domain.FieldSubmitterDonorID, e.FieldName)
		assert.Equal(t, index, e.Index)
		assert.Equal(t, "DO-9 has not yet been registered. Please register samples before submitting clinical data for this identifier.", e.Message)
		assert.Equal(t, []int{index}, got.Stats.ErrorsFound)
	}
}

func TestIncompatibleParentTreatmentType(t *testing.T) {
	records := RecordsByDonor{"DO-1": {
		domain.ClinicalPrimaryDiagnosis: {row(0, domain.ClinicalInfo{domain.FieldSubmitterPrimaryDiagnosisID: "PD-1"})},
		domain.ClinicalTreatment: {row(0, domain.ClinicalInfo{
			domain.FieldSubmitterTreatmentID:        "TR-1",
			domain.FieldTreatmentType:               []string{"Ablation"},
			domain.FieldSubmitterPrimaryDiagnosisID: "PD-1",
		})},
		domain.ClinicalChemotherapy: {row(0, domain.ClinicalInfo{
			domain.FieldSubmitterTreatmentID: "TR-1",
			domain.FieldDrugRxNormCUI:        "123",
		})},
	}}
	res := ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": storedDonor()}, nil)

	chemo := res[domain.ClinicalChemotherapy]
	require.Len(t, chemo.DataErrors, 1, dump.Sdump(chemo))
	e := chemo.DataErrors[0]
	assert.Equal(t, domain.ErrIncompatibleParentTreatmentType, e.Type)
	assert.Equal(t, domain.FieldSubmitterTreatmentID, e.FieldName)
	assert.Equal(t, "[Chemotherapy] records can not be submitted for treatment types of [Ablation].", e.Message)
	assert.Equal(t, []int{0}, chemo.Stats.ErrorsFound)

	treatment := res[domain.ClinicalTreatment]
	assert.Empty(t, treatment.DataErrors, dump.Sdump(treatment))
	assert.Equal(t, []int{0}, treatment.Stats.New)
	assert.Equal(t, []int{0}, res[domain.ClinicalPrimaryDiagnosis].Stats.New)
}

func TestTreatmentNeedsTherapyAndDiagnosis(t *testing.T) {
	records := RecordsByDonor{"DO-1": {
		domain.ClinicalTreatment: {row(0, domain.ClinicalInfo{
			domain.FieldSubmitterTreatmentID:        "TR-2",
			domain.FieldTreatmentType:               []string{"Chemotherapy"},
			domain.FieldSubmitterPrimaryDiagnosisID: "PD-404",
		})},
		domain.ClinicalRadiation: {row(1, domain.ClinicalInfo{
			domain.FieldSubmitterTreatmentID:     "TR-9",
			domain.FieldRadiationTherapyModality: "Photon",
		})},
	}}
	res := ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": storedDonor()}, nil)

	treatment := res[domain.ClinicalTreatment]
	require.Len(t, treatment.DataErrors, 2, dump.Sdump(treatment))
	assert.Equal(t, domain.ErrMissingTherapyData, treatment.DataErrors[0].Type)
	assert.Equal(t, "Treatments of type [Chemotherapy] need a corresponding [chemotherapy] record.", treatment.DataErrors[0].Message)
	assert.Equal(t, domain.ErrRelatedEntityMissingOrConflicting, treatment.DataErrors[1].Type)
	assert.Equal(t, domain.FieldSubmitterPrimaryDiagnosisID, treatment.DataErrors[1].FieldName)
	assert.Contains(t, treatment.DataErrors[1].Message, "[submitter_primary_diagnosis_id] value in [treatment] file requires a matching [submitter_primary_diagnosis_id] in [primary_diagnosis] data.")

	radiation := res[domain.ClinicalRadiation]
	require.Len(t, radiation.DataErrors, 1)
	assert.Equal(t, domain.ErrTreatmentIDNotFound, radiation.DataErrors[0].Type)
	assert.Equal(t, 1, radiation.DataErrors[0].Index)
}

func TestSpecimenChecks(t *testing.T) {
	tumour := tumourFields("tumour_grade")
	tumour[domain.FieldSubmitterSpecimenID] = "SP-T"
	tumour[domain.FieldSpecimenAcquisitionInterval] = float64(20)
	tumour[domain.FieldSubmitterPrimaryDiagnosisID] = "PD-1"

	normal := domain.ClinicalInfo{
		domain.FieldSubmitterSpecimenID:         "SP-N",
		domain.FieldSpecimenAcquisitionInterval: float64(5),
		"pathological_t_category":               "T1",
	}
	unknown := domain.ClinicalInfo{domain.FieldSubmitterSpecimenID: "SP-X", domain.FieldSpecimenAcquisitionInterval: float64(1)}

	records := RecordsByDonor{"DO-1": {
		domain.ClinicalDonor: {row(0, domain.ClinicalInfo{domain.FieldVitalStatus: domain.VitalStatusDeceased, domain.FieldSurvivalTime: float64(10)})},
		domain.ClinicalPrimaryDiagnosis: {row(0, domain.ClinicalInfo{domain.FieldSubmitterPrimaryDiagnosisID: "PD-1"})},
		domain.ClinicalSpecimen:         {row(0, tumour), row(1, normal), row(2, unknown)},
	}}
	res := ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": storedDonor()}, nil)

	donor := res[domain.ClinicalDonor]
	require.Len(t, donor.DataErrors, 1, dump.Sdump(donor))
	assert.Equal(t, domain.ErrConflictingTimeInterval, donor.DataErrors[0].Type)
	assert.Equal(t, []string{"SP-T"}, donor.DataErrors[0].Info["conflictingSpecimenSubmitterIds"])

	specimens := res[domain.ClinicalSpecimen]
	assert.Equal(t, []int{0, 1, 2}, specimens.Stats.ErrorsFound)

	byIndex := map[int][]string{}
	for _, e := range specimens.DataErrors {
		byIndex[e.Index] = append(byIndex[e.Index], string(e.Type)+":"+e.FieldName)
	}
	assert.Equal(t, []string{
		"MISSING_VARIABLE_REQUIREMENT:tumour_grade",
		"CONFLICTING_TIME_INTERVAL:specimen_acquisition_interval",
	}, byIndex[0])
	assert.Equal(t, []string{
		"FORBIDDEN_PROVIDED_VARIABLE_REQUIREMENT:pathological_t_category",
		"RELATED_ENTITY_MISSING_OR_CONFLICTING:submitter_primary_diagnosis_id",
	}, byIndex[1])
	assert.Equal(t, []string{"ID_NOT_REGISTERED:submitter_specimen_id"}, byIndex[2])

	missing := errorsAt(specimens.DataErrors, 0)[0]
	assert.Equal(t, "tumour_grade must be provided when the tumour_normal_designation is Tumour.", missing.Message)
}

func TestSpecimenNeedsDonorData(t *testing.T) {
	spec := tumourFields()
	spec[domain.FieldSubmitterSpecimenID] = "SP-T"
	spec[domain.FieldSpecimenAcquisitionInterval] = float64(3)
	spec[domain.FieldSubmitterPrimaryDiagnosisID] = "PD-1"

	existing := storedDonor()
	existing.PrimaryDiagnosis = &domain.PrimaryDiagnosis{ClinicalInfo: domain.ClinicalInfo{domain.FieldSubmitterPrimaryDiagnosisID: "PD-1"}}
	records := RecordsByDonor{"DO-1": {domain.ClinicalSpecimen: {row(0, spec)}}}

	res := ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": existing}, nil)
	errs := res[domain.ClinicalSpecimen].DataErrors
	require.Len(t, errs, 1, dump.Sdump(errs))
	assert.Equal(t, domain.ErrNotEnoughInfoToValidate, errs[0].Type)
	assert.Equal(t, []string{"donor.vital_status", "donor.survival_time"}, errs[0].Info["missingField"])
	assert.Equal(t, "[specimen_acquisition_interval] requires [donor.vital_status], [donor.survival_time] in order to complete validation.  Please upload data for all fields in this clinical data submission.", errs[0].Message)
}

func TestClassificationAndUpdates(t *testing.T) {
	existing := storedDonor()
	existing.ClinicalInfo = domain.ClinicalInfo{
		domain.FieldProgramID:        program,
		domain.FieldSubmitterDonorID: "DO-1",
		domain.FieldVitalStatus:      "Alive",
	}
	unchanged := RecordsByDonor{"DO-1": {domain.ClinicalDonor: {row(0, domain.ClinicalInfo{domain.FieldVitalStatus: "Alive"})}}}
	res := ValidateSubmissionData(unchanged, map[string]domain.Donor{"DO-1": existing}, nil)
	assert.Equal(t, []int{0}, res[domain.ClinicalDonor].Stats.NoUpdate)
	assert.Empty(t, res[domain.ClinicalDonor].DataUpdates)

	changed := RecordsByDonor{"DO-1": {domain.ClinicalDonor: {row(4, domain.ClinicalInfo{
		domain.FieldVitalStatus:  domain.VitalStatusDeceased,
		domain.FieldSurvivalTime: float64(100),
	})}}}
	res = ValidateSubmissionData(changed, map[string]domain.Donor{"DO-1": existing}, nil)
	donor := res[domain.ClinicalDonor]
	assert.Equal(t, []int{4}, donor.Stats.Updated)
	assert.Equal(t, []domain.SubmissionValidationUpdate{
		{FieldName: domain.FieldSurvivalTime, Index: 4, Info: domain.UpdateInfo{DonorSubmitterID: "DO-1", NewValue: "100", OldValue: ""}},
		{FieldName: domain.FieldVitalStatus, Index: 4, Info: domain.UpdateInfo{DonorSubmitterID: "DO-1", NewValue: domain.VitalStatusDeceased, OldValue: "Alive"}},
	}, donor.DataUpdates)
}

func TestDeletingTherapyWarning(t *testing.T) {
	existing := storedDonor()
	existing.PrimaryDiagnosis = &domain.PrimaryDiagnosis{ClinicalInfo: domain.ClinicalInfo{domain.FieldSubmitterPrimaryDiagnosisID: "PD-1"}}
	existing.Treatments = []domain.Treatment{{
		ClinicalInfo: domain.ClinicalInfo{
			domain.FieldSubmitterTreatmentID:        "TR-1",
			domain.FieldTreatmentType:               []string{"Chemotherapy", "Surgery"},
			domain.FieldSubmitterPrimaryDiagnosisID: "PD-1",
		},
		Therapies: []domain.Therapy{{TherapyType: domain.ClinicalChemotherapy, ClinicalInfo: domain.ClinicalInfo{
			domain.FieldSubmitterDonorID: "DO-1", domain.FieldSubmitterTreatmentID: "TR-1", domain.FieldDrugRxNormCUI: "1",
		}}},
	}}
	records := RecordsByDonor{"DO-1": {domain.ClinicalTreatment: {row(0, domain.ClinicalInfo{
		domain.FieldSubmitterTreatmentID:        "TR-1",
		domain.FieldTreatmentType:               []string{"Chemotherapy"},
		domain.FieldSubmitterPrimaryDiagnosisID: "PD-1",
	})}}}

	res := ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": existing}, nil)
	treatment := res[domain.ClinicalTreatment]
	assert.Empty(t, treatment.DataErrors, dump.Sdump(treatment))
	require.Len(t, treatment.DataWarnings, 1)
	assert.Equal(t, domain.ErrDeletingTherapy, treatment.DataWarnings[0].Type)
	assert.Equal(t, []string{"Surgery"}, treatment.DataWarnings[0].Info["deleted"])
	assert.Equal(t, []int{0}, treatment.Stats.Updated)
}

func TestEntityOwnedByOtherDonor(t *testing.T) {
	owners := ownerIndex{"follow_up/FU-1": {SubmitterID: "DO-2"}}
	records := RecordsByDonor{"DO-1": {domain.ClinicalFollowUp: {row(0, domain.ClinicalInfo{domain.FieldSubmitterFollowUpID: "FU-1"})}}}

	res := ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": storedDonor()}, owners)
	errs := res[domain.ClinicalFollowUp].DataErrors
	require.Len(t, errs, 1, dump.Sdump(errs))
	assert.Equal(t, domain.ErrClinicalEntityBelongsToOtherDonor, errs[0].Type)
	assert.Equal(t, "This follow up has already been associated to donor DO-2. Please correct your file.", errs[0].Message)
}

func TestCheckUniqueRecords(t *testing.T) {
	treatments := []domain.ClinicalInfo{
		{domain.FieldSubmitterTreatmentID: "TR-1"},
		{domain.FieldSubmitterTreatmentID: "TR-2"},
		{domain.FieldSubmitterTreatmentID: "TR-1"},
		{domain.FieldSubmitterTreatmentID: ""},
		{domain.FieldSubmitterTreatmentID: ""},
	}
	errs := CheckUniqueRecords(domain.ClinicalTreatment, treatments, false)
	require.Len(t, errs, 2)
	assert.Equal(t, 0, errs[0].Index)
	assert.Equal(t, []int{2}, errs[0].Info["conflictingRows"])
	assert.Equal(t, 2, errs[1].Index)
	assert.Equal(t, []int{0}, errs[1].Info["conflictingRows"])
	assert.Equal(t, domain.FieldSubmitterTreatmentID, errs[0].FieldName)
	assert.Equal(t, "You are trying to submit the same [submitter_treatment_id] in multiple rows. [submitter_treatment_id] can only be submitted once per file.", errs[0].Message)

	chemo := domain.ClinicalInfo{domain.FieldSubmitterDonorID: "DO-1", domain.FieldSubmitterTreatmentID: "TR-1", domain.FieldDrugRxNormCUI: "1"}
	errs = CheckUniqueRecords(domain.ClinicalChemotherapy, []domain.ClinicalInfo{chemo, chemo.Clone()}, true)
	require.Len(t, errs, 2)
	assert.Equal(t, domain.FieldSubmitterDonorID, errs[0].FieldName)
	assert.Equal(t, "This row is identical to another row", errs[0].Message)
}

func TestCheckUniqueRecordsKeepsKeyFieldsApart(t *testing.T) {
	rows := []domain.ClinicalInfo{
		{domain.FieldSubmitterDonorID: "D1", domain.FieldSubmitterTreatmentID: "1T", domain.FieldDrugRxNormCUI: "X"},
		{domain.FieldSubmitterDonorID: "D11", domain.FieldSubmitterTreatmentID: "T", domain.FieldDrugRxNormCUI: "X"},
		{domain.FieldSubmitterDonorID: "", domain.FieldSubmitterTreatmentID: " ", domain.FieldDrugRxNormCUI: ""},
		{domain.FieldSubmitterDonorID: "", domain.FieldSubmitterTreatmentID: " ", domain.FieldDrugRxNormCUI: ""},
	}
	assert.Empty(t, CheckUniqueRecords(domain.ClinicalChemotherapy, rows, false))

	errs := CheckUniqueRecords(domain.ClinicalChemotherapy, append(rows, rows[1].Clone()), false)
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 4, errs[1].Index)
}

func TestRenderValue(t *testing.T) {
	assert.Equal(t, "", renderValue(nil))
	assert.Equal(t, "a,b", renderValue([]string{"a", "b"}))
	assert.Equal(t, "1.5,x", renderValue([]any{1.5, "x"}))
	assert.Equal(t, "true", renderValue(true))
	assert.Equal(t, "7", renderValue(int64(7)))
}

func TestMergedDonorIsNotStored(t *testing.T) {
	existing := storedDonor()
	before := dump.Sdump(existing)
	records := RecordsByDonor{"DO-1": {domain.ClinicalTreatment: {row(0, domain.ClinicalInfo{
		domain.FieldSubmitterTreatmentID: "TR-1",
		domain.FieldTreatmentType:        []string{"No treatment"},
	})}}}
	ValidateSubmissionData(records, map[string]domain.Donor{"DO-1": existing}, nil)
	assert.Equal(t, before, dump.Sdump(existing))
	assert.Empty(t, clinical.ClinicalInfoOf(existing, domain.ClinicalTreatment))
}
