package validation

import (
	"math"
	"slices"
	"strings"

	"clinicalcore/internal/clinical"
	"clinicalcore/pkg/domain"
)

type findings []domain.SubmissionValidationError

func (f *findings) add(rec domain.ClinicalInfo, t domain.ValidationErrorType, field string, info map[string]any) {
	*f = append(*f, newFinding(rec, t, field, info))
}

// donor rows of a deceased donor may not report a survival time below the
// acquisition interval of any specimen.
func (v donorValidation) donor(rec domain.ClinicalInfo) findings {
	if rec.String(domain.FieldVitalStatus) != domain.VitalStatusDeceased || !rec.Has(domain.FieldSurvivalTime) {
		return nil
	}
	survival := rec.Number(domain.FieldSurvivalTime)
	var conflicting []string
	for _, sp := range v.merged.Specimens {
		if sp.ClinicalInfo.IsEmpty() {
			continue
		}
		if survival < sp.ClinicalInfo.Number(domain.FieldSpecimenAcquisitionInterval) {
			conflicting = append(conflicting, sp.SubmitterID)
		}
	}
	if len(conflicting) == 0 {
		return nil
	}
	var errs findings
	errs.add(rec, domain.ErrConflictingTimeInterval, domain.FieldSurvivalTime, map[string]any{
		"conflictingSpecimenSubmitterIds": conflicting,
	})
	return errs
}

func (v donorValidation) specimen(rec domain.ClinicalInfo) findings {
	var errs findings
	specimen := clinical.FindSpecimen(&v.existing, rec.String(domain.FieldSubmitterSpecimenID))
	if specimen == nil {
		errs.add(rec, domain.ErrIDNotRegistered, domain.FieldSubmitterSpecimenID, nil)
		return errs
	}

	requirement := map[string]any{
		domain.FieldSubmitterSpecimenID: rec.String(domain.FieldSubmitterSpecimenID),
		"referenceSchema":               string(domain.ClinicalRegistration),
		"variableRequirement": map[string]any{
			"fieldName":  domain.FieldTumourNormalDesignation,
			"fieldValue": specimen.TumourNormalDesignation,
		},
	}
	switch specimen.TumourNormalDesignation {
	case domain.DesignationTumour:
		for _, f := range domain.TumourSpecimenRequiredFields {
			if !rec.Has(f) {
				errs.add(rec, domain.ErrMissingVariableRequirement, f, requirement)
			}
		}
	case domain.DesignationNormal:
		for _, f := range slices.Concat(domain.TumourSpecimenRequiredFields, domain.TumourSpecimenOptionalFields) {
			if rec.Has(f) {
				errs.add(rec, domain.ErrForbiddenProvidedVariableRequirement, f, requirement)
			}
		}
	}

	errs = append(errs, v.relatedEntity(domain.ClinicalPrimaryDiagnosis, rec, domain.ClinicalSpecimen, true)...)

	donorInfo := v.merged.ClinicalInfo
	var missing []string
	vital := donorInfo.String(domain.FieldVitalStatus)
	survival := donorInfo.Number(domain.FieldSurvivalTime)
	if donorInfo.IsEmpty() {
		missing = []string{domain.FieldVitalStatus, domain.FieldSurvivalTime}
	} else {
		if strings.TrimSpace(vital) == "" {
			missing = append(missing, domain.FieldVitalStatus)
		}
		if strings.EqualFold(vital, domain.VitalStatusDeceased) && math.IsNaN(survival) {
			missing = append(missing, domain.FieldSurvivalTime)
		}
	}
	if len(missing) > 0 {
		qualified := make([]string, len(missing))
		for i, f := range missing {
			qualified[i] = string(domain.ClinicalDonor) + "." + f
		}
		errs.add(rec, domain.ErrNotEnoughInfoToValidate, domain.FieldSpecimenAcquisitionInterval, map[string]any{"missingField": qualified})
		return errs
	}
	if vital == domain.VitalStatusDeceased && survival < rec.Number(domain.FieldSpecimenAcquisitionInterval) {
		errs.add(rec, domain.ErrConflictingTimeInterval, domain.FieldSpecimenAcquisitionInterval, nil)
	}
	return errs
}

func (v donorValidation) primaryDiagnosis(rec domain.ClinicalInfo) findings {
	var errs findings
	id := rec.String(domain.FieldSubmitterPrimaryDiagnosisID)
	if clinical.FindPrimaryDiagnosis(&v.existing, id) == nil {
		errs = append(errs, v.ownership(domain.ClinicalPrimaryDiagnosis, rec)...)
	}
	// Tumour specimens of this diagnosis need a pathological or a clinical
	// staging system.
	for _, sp := range v.merged.Specimens {
		if sp.TumourNormalDesignation != domain.DesignationTumour || sp.ClinicalInfo.String(domain.FieldSubmitterPrimaryDiagnosisID) != id {
			continue
		}
		if !sp.ClinicalInfo.Has("pathological_tumour_staging_system") && !rec.Has(domain.FieldClinicalTumourStagingSystem) {
			errs.add(rec, domain.ErrTNMStagingFieldsMissing, domain.FieldClinicalTumourStagingSystem, map[string]any{
				domain.FieldSubmitterPrimaryDiagnosisID: id,
			})
		}
	}
	return errs
}

func (v donorValidation) followUp(rec domain.ClinicalInfo) findings {
	var errs findings
	errs = append(errs, v.relatedEntity(domain.ClinicalPrimaryDiagnosis, rec, domain.ClinicalFollowUp, false)...)
	errs = append(errs, v.relatedEntity(domain.ClinicalTreatment, rec, domain.ClinicalFollowUp, false)...)
	if clinical.FindFollowUp(&v.existing, rec.String(domain.FieldSubmitterFollowUpID)) == nil {
		errs = append(errs, v.ownership(domain.ClinicalFollowUp, rec)...)
	}
	return errs
}

func (v donorValidation) treatment(rec domain.ClinicalInfo) (findings, findings) {
	var errs, warnings findings
	id := rec.String(domain.FieldSubmitterTreatmentID)
	stored := clinical.FindTreatment(&v.existing, id)
	if stored == nil {
		errs = append(errs, v.ownership(domain.ClinicalTreatment, rec)...)
	}

	if len(errs) == 0 {
		types := rec.Strings(domain.FieldTreatmentType)
		merged := clinical.FindTreatment(&v.merged, id)
		for _, therapy := range domain.TherapiesForTreatmentTypes(types) {
			if merged == nil || !hasTherapy(*merged, therapy) {
				errs.add(rec, domain.ErrMissingTherapyData, domain.FieldTreatmentType, map[string]any{"therapyType": string(therapy)})
			}
		}
	}

	errs = append(errs, v.relatedEntity(domain.ClinicalPrimaryDiagnosis, rec, domain.ClinicalTreatment, true)...)

	if stored != nil {
		before := stored.ClinicalInfo.Strings(domain.FieldTreatmentType)
		after := rec.Strings(domain.FieldTreatmentType)
		if !sameSet(before, after) {
			deleted := []string{}
			for _, t := range before {
				if !slices.Contains(after, t) {
					deleted = append(deleted, t)
				}
			}
			warnings.add(rec, domain.ErrDeletingTherapy, domain.FieldTreatmentType, map[string]any{"deleted": deleted})
		}
	}
	return errs, warnings
}

func hasTherapy(tr domain.Treatment, therapy domain.ClinicalEntity) bool {
	return slices.ContainsFunc(tr.Therapies, func(th domain.Therapy) bool { return th.TherapyType == therapy })
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}

// therapy rows need a treatment in the merged donor whose treatment_type
// implies the therapy. A treatment that only exists as a placeholder for the
// therapy rows carries no treatment_type and counts as missing.
func (v donorValidation) therapy(entity domain.ClinicalEntity, rec domain.ClinicalInfo) findings {
	var errs findings
	tr := clinical.FindTreatment(&v.merged, rec.String(domain.FieldSubmitterTreatmentID))
	if tr == nil || !tr.ClinicalInfo.Has(domain.FieldTreatmentType) {
		errs.add(rec, domain.ErrTreatmentIDNotFound, domain.FieldSubmitterTreatmentID, nil)
		return errs
	}
	types := tr.ClinicalInfo.Strings(domain.FieldTreatmentType)
	if domain.TreatmentTypeNotMatchTherapyType(types, entity) {
		errs.add(rec, domain.ErrIncompatibleParentTreatmentType, domain.FieldSubmitterTreatmentID, map[string]any{
			domain.FieldTreatmentType: types,
			"therapyType":             string(entity),
		})
	}
	return errs
}

// relatedEntity checks that the parent record referenced by rec exists on the
// merged donor. An empty reference is an error only when required.
func (v donorValidation) relatedEntity(parent domain.ClinicalEntity, rec domain.ClinicalInfo, child domain.ClinicalEntity, required bool) findings {
	field, _ := domain.SingleUniqueIdentifier(parent)
	ref := rec.String(field)
	if strings.TrimSpace(ref) == "" && !required {
		return nil
	}
	found := false
	if ref != "" {
		switch parent {
		case domain.ClinicalPrimaryDiagnosis:
			found = clinical.FindPrimaryDiagnosis(&v.merged, ref) != nil
		case domain.ClinicalTreatment:
			found = clinical.FindTreatment(&v.merged, ref) != nil
		}
	}
	if found {
		return nil
	}
	var errs findings
	errs.add(rec, domain.ErrRelatedEntityMissingOrConflicting, field, map[string]any{
		"fieldName":        field,
		"childEntity":      string(child),
		"parentEntity":     string(parent),
		"donorSubmitterId": rec.String(domain.FieldSubmitterDonorID),
	})
	return errs
}

// ownership reports a record that a different donor of the program already
// holds.
func (v donorValidation) ownership(entity domain.ClinicalEntity, rec domain.ClinicalInfo) findings {
	if v.owners == nil {
		return nil
	}
	field, _ := domain.SingleUniqueIdentifier(entity)
	owner, ok := v.owners.FindDonorByEntityID(v.existing.ProgramID, entity, rec.String(field))
	if !ok || owner.SubmitterID == rec.String(domain.FieldSubmitterDonorID) {
		return nil
	}
	var errs findings
	errs.add(rec, domain.ErrClinicalEntityBelongsToOtherDonor, field, map[string]any{
		"otherDonorSubmitterId": owner.SubmitterID,
		"clinicalType":          string(entity),
	})
	return errs
}
