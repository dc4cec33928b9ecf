package clinical

import (
	"clinicalcore/pkg/domain"
)

// RecordsByEntity groups processed clinical rows by entity. Rows may carry
// the index pseudo-field.
type RecordsByEntity map[domain.ClinicalEntity][]domain.ClinicalInfo

// MergeOptions controls merge policies that differ between call sites.
type MergeOptions struct {
	// CreateMissingTreatment appends a placeholder treatment for therapy rows
	// whose treatment is not on the donor yet. Validation sets it because the
	// treatment file of the same submission may not have been merged yet.
	CreateMissingTreatment bool
}

// Merge folds records into a deep copy of donor and returns the copy. The
// input donor is never modified. Entities are applied in the order donor,
// primary diagnosis, specimen, treatment, therapies, follow up.
func Merge(donor domain.Donor, records RecordsByEntity, opts MergeOptions) domain.Donor {
	merged := donor.Clone()
	for _, rec := range records[domain.ClinicalDonor] {
		merged.ClinicalInfo = stored(rec)
	}
	for _, rec := range records[domain.ClinicalPrimaryDiagnosis] {
		merged.PrimaryDiagnosis = &domain.PrimaryDiagnosis{ClinicalInfo: stored(rec)}
	}
	for _, rec := range records[domain.ClinicalSpecimen] {
		if sp := FindSpecimen(&merged, rec.String(domain.FieldSubmitterSpecimenID)); sp != nil {
			sp.ClinicalInfo = stored(rec)
		}
	}
	for _, rec := range records[domain.ClinicalTreatment] {
		mergeTreatment(&merged, rec)
	}
	for _, therapy := range domain.TherapyEntities {
		for _, rec := range records[therapy] {
			mergeTherapy(&merged, therapy, rec, opts)
		}
	}
	for _, rec := range records[domain.ClinicalFollowUp] {
		fu := FindFollowUp(&merged, rec.String(domain.FieldSubmitterFollowUpID))
		if fu == nil {
			merged.FollowUps = append(merged.FollowUps, domain.FollowUp{})
			fu = &merged.FollowUps[len(merged.FollowUps)-1]
		}
		fu.ClinicalInfo = stored(rec)
	}
	return merged
}

func stored(rec domain.ClinicalInfo) domain.ClinicalInfo {
	return rec.Without(domain.IndexField)
}

func mergeTreatment(donor *domain.Donor, rec domain.ClinicalInfo) {
	tr := FindTreatment(donor, rec.String(domain.FieldSubmitterTreatmentID))
	if tr == nil {
		donor.Treatments = append(donor.Treatments, domain.Treatment{Therapies: []domain.Therapy{}})
		tr = &donor.Treatments[len(donor.Treatments)-1]
	}
	tr.ClinicalInfo = stored(rec)
	if _, ok := tr.ClinicalInfo[domain.FieldTreatmentType]; !ok {
		return
	}
	types := tr.ClinicalInfo.Strings(domain.FieldTreatmentType)
	kept := tr.Therapies[:0]
	for _, th := range tr.Therapies {
		if !domain.TreatmentTypeNotMatchTherapyType(types, th.TherapyType) {
			kept = append(kept, th)
		}
	}
	tr.Therapies = kept
}

func mergeTherapy(donor *domain.Donor, therapyType domain.ClinicalEntity, rec domain.ClinicalInfo, opts MergeOptions) {
	treatmentID := rec.String(domain.FieldSubmitterTreatmentID)
	tr := FindTreatment(donor, treatmentID)
	if tr == nil {
		if !opts.CreateMissingTreatment {
			return
		}
		donor.Treatments = append(donor.Treatments, domain.Treatment{
			ClinicalInfo: domain.ClinicalInfo{domain.FieldSubmitterTreatmentID: treatmentID},
			Therapies:    []domain.Therapy{},
		})
		tr = &donor.Treatments[len(donor.Treatments)-1]
	}
	th := FindTherapy(tr, therapyType, rec)
	if th == nil {
		tr.Therapies = append(tr.Therapies, domain.Therapy{TherapyType: therapyType})
		th = &tr.Therapies[len(tr.Therapies)-1]
	}
	th.ClinicalInfo = stored(rec)
}
