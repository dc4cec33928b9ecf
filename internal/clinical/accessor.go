// Package clinical reads and folds clinical records into donor aggregates.
// Every consumer that needs "the records of entity X on this donor" goes
// through EntitiesOf / ClinicalInfoOf so validation, migration and stats read
// a donor the same way.
package clinical

import (
	"clinicalcore/pkg/domain"
)

// EntitiesOf returns the objects of entity held by donor: the donor itself,
// its specimens, primary diagnosis, treatments, follow ups, or the therapies
// of one type flattened across treatments. Unknown or absent entities yield
// an empty slice.
func EntitiesOf(donor domain.Donor, entity domain.ClinicalEntity) []any {
	var out []any
	switch {
	case entity == domain.ClinicalDonor:
		out = append(out, donor)
	case entity == domain.ClinicalSpecimen:
		for _, sp := range donor.Specimens {
			out = append(out, sp)
		}
	case entity == domain.ClinicalPrimaryDiagnosis:
		if donor.PrimaryDiagnosis != nil {
			out = append(out, *donor.PrimaryDiagnosis)
		}
	case entity == domain.ClinicalTreatment:
		for _, tr := range donor.Treatments {
			out = append(out, tr)
		}
	case entity == domain.ClinicalFollowUp:
		for _, fu := range donor.FollowUps {
			out = append(out, fu)
		}
	case entity.IsTherapy():
		for _, tr := range donor.Treatments {
			for _, th := range tr.Therapies {
				if th.TherapyType == entity {
					out = append(out, th)
				}
			}
		}
	}
	if out == nil {
		return []any{}
	}
	return out
}

// ClinicalInfoOf returns the non-empty clinical info maps of entity on donor,
// in EntitiesOf order.
func ClinicalInfoOf(donor domain.Donor, entity domain.ClinicalEntity) []domain.ClinicalInfo {
	out := []domain.ClinicalInfo{}
	for _, e := range EntitiesOf(donor, entity) {
		if info := infoOf(e); !info.IsEmpty() {
			out = append(out, info)
		}
	}
	return out
}

func infoOf(e any) domain.ClinicalInfo {
	switch v := e.(type) {
	case domain.Donor:
		return v.ClinicalInfo
	case domain.Specimen:
		return v.ClinicalInfo
	case domain.PrimaryDiagnosis:
		return v.ClinicalInfo
	case domain.Treatment:
		return v.ClinicalInfo
	case domain.Therapy:
		return v.ClinicalInfo
	case domain.FollowUp:
		return v.ClinicalInfo
	}
	return nil
}

// FindClinicalInfo returns the stored clinical info of entity that has the
// same unique identifier values as ref.
func FindClinicalInfo(donor domain.Donor, entity domain.ClinicalEntity, ref domain.ClinicalInfo) (domain.ClinicalInfo, bool) {
	ids := domain.UniqueIdentifier(entity)
	if len(ids) == 0 {
		return nil, false
	}
	for _, info := range ClinicalInfoOf(donor, entity) {
		if sameIdentity(info, ref, ids) {
			return info, true
		}
	}
	return nil, false
}

func sameIdentity(a, b domain.ClinicalInfo, fields []string) bool {
	for _, f := range fields {
		if a.String(f) != b.String(f) {
			return false
		}
	}
	return true
}

// FindSpecimen returns the donor's specimen with the given submitter id.
func FindSpecimen(donor *domain.Donor, submitterID string) *domain.Specimen {
	for i := range donor.Specimens {
		if donor.Specimens[i].SubmitterID == submitterID {
			return &donor.Specimens[i]
		}
	}
	return nil
}

// FindTreatment returns the treatment whose clinical info carries the
// submitter treatment id.
func FindTreatment(donor *domain.Donor, submitterTreatmentID string) *domain.Treatment {
	for i := range donor.Treatments {
		if donor.Treatments[i].ClinicalInfo.String(domain.FieldSubmitterTreatmentID) == submitterTreatmentID {
			return &donor.Treatments[i]
		}
	}
	return nil
}

// FindFollowUp returns the follow up with the submitter follow up id.
func FindFollowUp(donor *domain.Donor, submitterFollowUpID string) *domain.FollowUp {
	for i := range donor.FollowUps {
		if donor.FollowUps[i].ClinicalInfo.String(domain.FieldSubmitterFollowUpID) == submitterFollowUpID {
			return &donor.FollowUps[i]
		}
	}
	return nil
}

// FindPrimaryDiagnosis returns the donor's primary diagnosis when it carries
// the submitter primary diagnosis id.
func FindPrimaryDiagnosis(donor *domain.Donor, submitterPrimaryDiagnosisID string) *domain.PrimaryDiagnosis {
	pd := donor.PrimaryDiagnosis
	if pd == nil || pd.ClinicalInfo.String(domain.FieldSubmitterPrimaryDiagnosisID) != submitterPrimaryDiagnosisID {
		return nil
	}
	return pd
}

// FindTherapy returns the therapy of therapyType in treatment matching the
// unique identifier values of record.
func FindTherapy(treatment *domain.Treatment, therapyType domain.ClinicalEntity, record domain.ClinicalInfo) *domain.Therapy {
	ids := domain.UniqueIdentifier(therapyType)
	for i := range treatment.Therapies {
		th := &treatment.Therapies[i]
		if th.TherapyType == therapyType && sameIdentity(th.ClinicalInfo, record, ids) {
			return th
		}
	}
	return nil
}
