package validation

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"clinicalcore/internal/clinical"
	"clinicalcore/pkg/domain"
)

// OwnershipLookup finds the donor of a program that already holds a clinical
// record. Store views implement it.
type OwnershipLookup interface {
	FindDonorByEntityID(programID string, entity domain.ClinicalEntity, submitterID string) (domain.Donor, bool)
}

// RecordsByDonor groups staged clinical rows by donor submitter id. Rows
// carry the index pseudo-field.
type RecordsByDonor map[string]clinical.RecordsByEntity

// ValidateSubmissionData validates the staged rows of every donor against
// the stored donor and the donor obtained by merging the rows into it. Types
// without rows are omitted from the result. owners may be nil, which skips
// cross donor ownership checks.
func ValidateSubmissionData(recordsByDonor RecordsByDonor, existingDonors map[string]domain.Donor, owners OwnershipLookup) map[domain.ClinicalEntity]domain.ClinicalTypeValidateResult {
	results := map[domain.ClinicalEntity][]recordResult{}
	for _, donorID := range slices.Sorted(maps.Keys(recordsByDonor)) {
		records := recordsByDonor[donorID]
		existing, ok := existingDonors[donorID]
		if !ok {
			for entity, rows := range records {
				for _, rec := range rows {
					err := newFinding(rec, domain.ErrIDNotRegistered, domain.FieldSubmitterDonorID, nil)
					results[entity] = append(results[entity], recordResult{
						status: domain.ModificationErrorsFound,
						index:  RecordIndex(rec),
						errors: []domain.SubmissionValidationError{err},
					})
				}
			}
			continue
		}

		v := donorValidation{
			existing: existing,
			merged:   clinical.Merge(existing, records, clinical.MergeOptions{CreateMissingTreatment: true}),
			owners:   owners,
		}
		for entity, rows := range records {
			for _, rec := range rows {
				errs, warnings := v.validate(entity, rec)
				results[entity] = append(results[entity], classify(entity, rec, errs, warnings, existing))
			}
		}
	}

	out := make(map[domain.ClinicalEntity]domain.ClinicalTypeValidateResult, len(results))
	for entity, rs := range results {
		if len(rs) == 0 {
			continue
		}
		slices.SortStableFunc(rs, func(a, b recordResult) int { return a.index - b.index })
		out[entity] = aggregate(rs)
	}
	return out
}

type recordResult struct {
	status   domain.ModificationType
	index    int
	errors   []domain.SubmissionValidationError
	warnings []domain.SubmissionValidationError
	updates  []domain.SubmissionValidationUpdate
}

func aggregate(results []recordResult) domain.ClinicalTypeValidateResult {
	out := domain.ClinicalTypeValidateResult{
		DataErrors:   []domain.SubmissionValidationError{},
		DataWarnings: []domain.SubmissionValidationError{},
		DataUpdates:  []domain.SubmissionValidationUpdate{},
		Stats: domain.ClinicalStats{
			New:         []int{},
			NoUpdate:    []int{},
			Updated:     []int{},
			ErrorsFound: []int{},
		},
	}
	for _, r := range results {
		out.Stats.Add(r.status, r.index)
		out.DataWarnings = append(out.DataWarnings, r.warnings...)
		switch r.status {
		case domain.ModificationUpdated:
			out.DataUpdates = append(out.DataUpdates, r.updates...)
		case domain.ModificationErrorsFound:
			out.DataErrors = append(out.DataErrors, r.errors...)
		}
	}
	return out
}

// classify marks a row ERRORS_FOUND when it has findings, NEW when the donor
// holds no record with its identity, UPDATED when any field value differs
// from the stored record and NO_UPDATE otherwise.
func classify(entity domain.ClinicalEntity, rec domain.ClinicalInfo, errs, warnings []domain.SubmissionValidationError, existing domain.Donor) recordResult {
	res := recordResult{index: RecordIndex(rec), warnings: warnings}
	if len(errs) > 0 {
		res.status = domain.ModificationErrorsFound
		res.errors = errs
		return res
	}
	stored, ok := clinical.FindClinicalInfo(existing, entity, rec)
	if !ok {
		res.status = domain.ModificationNew
		return res
	}
	for _, field := range slices.Sorted(maps.Keys(rec)) {
		if field == domain.IndexField {
			continue
		}
		oldValue, newValue := renderValue(stored[field]), renderValue(rec[field])
		if oldValue == newValue {
			continue
		}
		res.updates = append(res.updates, domain.SubmissionValidationUpdate{
			FieldName: field,
			Index:     res.index,
			Info: domain.UpdateInfo{
				DonorSubmitterID: rec.String(domain.FieldSubmitterDonorID),
				NewValue:         newValue,
				OldValue:         oldValue,
			},
		})
	}
	res.status = domain.ModificationNoUpdate
	if len(res.updates) > 0 {
		res.status = domain.ModificationUpdated
	}
	return res
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, renderValue(item))
		}
		return strings.Join(parts, ",")
	case []float64:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, renderValue(item))
		}
		return strings.Join(parts, ",")
	default:
		if s := (domain.ClinicalInfo{"v": v}).String("v"); s != "" {
			return s
		}
		return fmt.Sprint(v)
	}
}

// donorValidation holds the per donor state shared by the entity checks.
type donorValidation struct {
	existing domain.Donor
	merged   domain.Donor
	owners   OwnershipLookup
}

func (v donorValidation) validate(entity domain.ClinicalEntity, rec domain.ClinicalInfo) (errs, warnings []domain.SubmissionValidationError) {
	switch {
	case entity == domain.ClinicalDonor:
		return v.donor(rec), nil
	case entity == domain.ClinicalSpecimen:
		return v.specimen(rec), nil
	case entity == domain.ClinicalPrimaryDiagnosis:
		return v.primaryDiagnosis(rec), nil
	case entity == domain.ClinicalFollowUp:
		return v.followUp(rec), nil
	case entity == domain.ClinicalTreatment:
		return v.treatment(rec)
	case entity.IsTherapy():
		return v.therapy(entity, rec), nil
	}
	return nil, nil
}
