package validation

import (
	"maps"

	"clinicalcore/pkg/domain"
)

// RecordIndex returns the row index carried on a staged record.
func RecordIndex(rec domain.ClinicalInfo) int {
	switch v := rec[domain.IndexField].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// newFinding builds a finding for field of rec. The info always carries the
// donor submitter id and the row's value of field.
func newFinding(rec domain.ClinicalInfo, t domain.ValidationErrorType, field string, extra map[string]any) domain.SubmissionValidationError {
	info := make(map[string]any, len(extra)+2)
	maps.Copy(info, extra)
	info["donorSubmitterId"] = rec.String(domain.FieldSubmitterDonorID)
	info["value"] = rec[field]
	return domain.SubmissionValidationError{
		Type:      t,
		FieldName: field,
		Index:     RecordIndex(rec),
		Info:      info,
		Message:   ValidationErrorMessage(t, field, info),
	}
}

// registrationFinding builds a finding for one registration row.
func registrationFinding(row domain.RegistrationRecord, index int, t domain.ValidationErrorType, field string, extra map[string]any) domain.SubmissionValidationError {
	info := make(map[string]any, len(extra)+4)
	maps.Copy(info, extra)
	info["donorSubmitterId"] = row.DonorSubmitterID
	info["specimenSubmitterId"] = row.SpecimenSubmitterID
	info["sampleSubmitterId"] = row.SampleSubmitterID
	info["value"] = registrationValue(row, field)
	return domain.SubmissionValidationError{
		Type:      t,
		FieldName: field,
		Index:     index,
		Info:      info,
		Message:   ValidationErrorMessage(t, field, info),
	}
}

func registrationValue(row domain.RegistrationRecord, field string) string {
	switch field {
	case domain.FieldProgramID:
		return row.ProgramID
	case domain.FieldSubmitterDonorID:
		return row.DonorSubmitterID
	case domain.FieldGender:
		return row.Gender
	case domain.FieldSubmitterSpecimenID:
		return row.SpecimenSubmitterID
	case domain.FieldSpecimenTissueSource:
		return row.SpecimenTissueSource
	case domain.FieldTumourNormalDesignation:
		return row.TumourNormalDesignation
	case domain.FieldSpecimenType:
		return row.SpecimenType
	case domain.FieldSubmitterSampleID:
		return row.SampleSubmitterID
	case domain.FieldSampleType:
		return row.SampleType
	}
	return ""
}
