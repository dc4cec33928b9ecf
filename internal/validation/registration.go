package validation

import (
	"clinicalcore/internal/clinical"
	"clinicalcore/pkg/domain"
)

// ExistingRegistrationIndex indexes the stored donors of a program by donor,
// specimen and sample submitter id.
type ExistingRegistrationIndex struct {
	DonorsBySubmitterID map[string]domain.Donor
	DonorsBySpecimenID  map[string]domain.Donor
	DonorsBySampleID    map[string]domain.Donor
}

// NewExistingRegistrationIndex indexes donors.
func NewExistingRegistrationIndex(donors []domain.Donor) ExistingRegistrationIndex {
	idx := ExistingRegistrationIndex{
		DonorsBySubmitterID: make(map[string]domain.Donor, len(donors)),
		DonorsBySpecimenID:  map[string]domain.Donor{},
		DonorsBySampleID:    map[string]domain.Donor{},
	}
	for _, d := range donors {
		idx.DonorsBySubmitterID[d.SubmitterID] = d
		for _, sp := range d.Specimens {
			idx.DonorsBySpecimenID[sp.SubmitterID] = d
			for _, sa := range sp.Samples {
				idx.DonorsBySampleID[sa.SubmitterID] = d
			}
		}
	}
	return idx
}

// RegistrationResult is the outcome of validating registration rows.
type RegistrationResult struct {
	Errors []domain.SubmissionValidationError
	Stats  domain.RegistrationStats
}

// ValidateRegistration checks registration rows against the stored donors
// and against each other. Row i of records has index i. Rows that repeat
// already registered samples unchanged produce no findings.
func ValidateRegistration(records []domain.RegistrationRecord, existing ExistingRegistrationIndex) RegistrationResult {
	var res RegistrationResult
	for i, row := range records {
		res.Errors = append(res.Errors, mutatingExistingData(i, row, existing)...)
		res.Errors = append(res.Errors, specimenBelongsToOtherDonor(i, row, existing)...)
		res.Errors = append(res.Errors, sampleBelongsToOtherSpecimen(i, row, existing)...)

		if _, ok := existing.DonorsBySubmitterID[row.DonorSubmitterID]; !ok {
			res.Errors = append(res.Errors, conflictingNewDonor(i, row, records)...)
		}
		if _, ok := existing.DonorsBySpecimenID[row.SpecimenSubmitterID]; !ok {
			res.Errors = append(res.Errors, conflictingNewSpecimen(i, row, records)...)
		}
		if _, ok := existing.DonorsBySampleID[row.SampleSubmitterID]; !ok {
			res.Errors = append(res.Errors, conflictingNewSample(i, row, records)...)
		}
	}
	res.Stats = registrationStats(records, existing)
	return res
}

func mutatingExistingData(i int, row domain.RegistrationRecord, existing ExistingRegistrationIndex) []domain.SubmissionValidationError {
	var errs []domain.SubmissionValidationError
	mutated := func(field, original, value string) {
		if original != value {
			errs = append(errs, registrationFinding(row, i, domain.ErrMutatingExistingData, field, map[string]any{"originalValue": original}))
		}
	}

	donor, ok := existing.DonorsBySubmitterID[row.DonorSubmitterID]
	if ok {
		mutated(domain.FieldGender, donor.Gender, row.Gender)
	}

	var specimen *domain.Specimen
	if ok {
		specimen = clinical.FindSpecimen(&donor, row.SpecimenSubmitterID)
	}
	if specimen == nil {
		if other, found := existing.DonorsBySpecimenID[row.SpecimenSubmitterID]; found {
			specimen = clinical.FindSpecimen(&other, row.SpecimenSubmitterID)
		}
	}
	if specimen == nil {
		return errs
	}
	mutated(domain.FieldSpecimenTissueSource, specimen.SpecimenTissueSource, row.SpecimenTissueSource)
	mutated(domain.FieldTumourNormalDesignation, specimen.TumourNormalDesignation, row.TumourNormalDesignation)
	mutated(domain.FieldSpecimenType, specimen.SpecimenType, row.SpecimenType)

	sample := findSample(*specimen, row.SampleSubmitterID)
	if sample == nil {
		if other, found := existing.DonorsBySampleID[row.SampleSubmitterID]; found {
			for _, sp := range other.Specimens {
				if sample = findSample(sp, row.SampleSubmitterID); sample != nil {
					break
				}
			}
		}
	}
	if sample != nil {
		mutated(domain.FieldSampleType, sample.SampleType, row.SampleType)
	}
	return errs
}

func specimenBelongsToOtherDonor(i int, row domain.RegistrationRecord, existing ExistingRegistrationIndex) []domain.SubmissionValidationError {
	owner, ok := existing.DonorsBySpecimenID[row.SpecimenSubmitterID]
	if !ok || owner.SubmitterID == row.DonorSubmitterID {
		return nil
	}
	return []domain.SubmissionValidationError{registrationFinding(row, i, domain.ErrSpecimenBelongsToOtherDonor,
		domain.FieldSubmitterSpecimenID, map[string]any{"otherDonorSubmitterId": owner.SubmitterID})}
}

func sampleBelongsToOtherSpecimen(i int, row domain.RegistrationRecord, existing ExistingRegistrationIndex) []domain.SubmissionValidationError {
	owner, ok := existing.DonorsBySampleID[row.SampleSubmitterID]
	if !ok {
		return nil
	}
	for _, sp := range owner.Specimens {
		if findSample(sp, row.SampleSubmitterID) == nil {
			continue
		}
		if sp.SubmitterID == row.SpecimenSubmitterID {
			return nil
		}
		return []domain.SubmissionValidationError{registrationFinding(row, i, domain.ErrSampleBelongsToOtherSpecimen,
			domain.FieldSubmitterSampleID, map[string]any{"otherSpecimenSubmitterId": sp.SubmitterID})}
	}
	return nil
}

func conflictingNewDonor(i int, row domain.RegistrationRecord, records []domain.RegistrationRecord) []domain.SubmissionValidationError {
	var rows []int
	for j, other := range records {
		if j != i && other.DonorSubmitterID == row.DonorSubmitterID && other.Gender != row.Gender {
			rows = append(rows, j)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return []domain.SubmissionValidationError{conflict(row, i, domain.ErrNewDonorConflict, domain.FieldGender, rows)}
}

var specimenAttributes = []struct {
	field string
	value func(domain.RegistrationRecord) string
}{
	{domain.FieldSpecimenTissueSource, func(r domain.RegistrationRecord) string { return r.SpecimenTissueSource }},
	{domain.FieldTumourNormalDesignation, func(r domain.RegistrationRecord) string { return r.TumourNormalDesignation }},
	{domain.FieldSpecimenType, func(r domain.RegistrationRecord) string { return r.SpecimenType }},
}

func conflictingNewSpecimen(i int, row domain.RegistrationRecord, records []domain.RegistrationRecord) []domain.SubmissionValidationError {
	var idRows []int
	attrRows := make(map[string][]int, len(specimenAttributes))
	for j, other := range records {
		if j == i || other.SpecimenSubmitterID != row.SpecimenSubmitterID {
			continue
		}
		if other.DonorSubmitterID != row.DonorSubmitterID {
			idRows = append(idRows, j)
			continue
		}
		for _, attr := range specimenAttributes {
			if attr.value(other) != attr.value(row) {
				attrRows[attr.field] = append(attrRows[attr.field], j)
			}
		}
	}
	var errs []domain.SubmissionValidationError
	for _, attr := range specimenAttributes {
		if rows := attrRows[attr.field]; len(rows) > 0 {
			errs = append(errs, conflict(row, i, domain.ErrNewSpecimenAttrConflict, attr.field, rows))
		}
	}
	if len(idRows) > 0 {
		errs = append(errs, conflict(row, i, domain.ErrNewSpecimenIDConflict, domain.FieldSubmitterSpecimenID, idRows))
	}
	return errs
}

func conflictingNewSample(i int, row domain.RegistrationRecord, records []domain.RegistrationRecord) []domain.SubmissionValidationError {
	var idRows, attrRows []int
	for j, other := range records {
		if j == i || other.SampleSubmitterID != row.SampleSubmitterID {
			continue
		}
		sameParent := other.DonorSubmitterID == row.DonorSubmitterID && other.SpecimenSubmitterID == row.SpecimenSubmitterID
		if sameParent && other.SampleType != row.SampleType {
			attrRows = append(attrRows, j)
			continue
		}
		idRows = append(idRows, j)
	}
	var errs []domain.SubmissionValidationError
	if len(attrRows) > 0 {
		errs = append(errs, conflict(row, i, domain.ErrNewSampleAttrConflict, domain.FieldSampleType, attrRows))
	}
	if len(idRows) > 0 {
		errs = append(errs, conflict(row, i, domain.ErrNewSampleIDConflict, domain.FieldSubmitterSampleID, idRows))
	}
	return errs
}

func conflict(row domain.RegistrationRecord, i int, t domain.ValidationErrorType, field string, rows []int) domain.SubmissionValidationError {
	return registrationFinding(row, i, t, field, map[string]any{"conflictingRows": rows})
}

func registrationStats(records []domain.RegistrationRecord, existing ExistingRegistrationIndex) domain.RegistrationStats {
	stats := domain.RegistrationStats{
		NewDonorIDs:       []domain.RegistrationStat{},
		NewSpecimenIDs:    []domain.RegistrationStat{},
		NewSampleIDs:      []domain.RegistrationStat{},
		AlreadyRegistered: []domain.RegistrationStat{},
	}
	for i, row := range records {
		donor, ok := existing.DonorsBySubmitterID[row.DonorSubmitterID]
		if !ok {
			stats.NewDonorIDs = addRow(stats.NewDonorIDs, row.DonorSubmitterID, i)
			stats.NewSpecimenIDs = addRow(stats.NewSpecimenIDs, row.SpecimenSubmitterID, i)
			stats.NewSampleIDs = addRow(stats.NewSampleIDs, row.SampleSubmitterID, i)
			continue
		}
		specimen := clinical.FindSpecimen(&donor, row.SpecimenSubmitterID)
		if specimen == nil {
			stats.NewSpecimenIDs = addRow(stats.NewSpecimenIDs, row.SpecimenSubmitterID, i)
			stats.NewSampleIDs = addRow(stats.NewSampleIDs, row.SampleSubmitterID, i)
			continue
		}
		if findSample(*specimen, row.SampleSubmitterID) == nil {
			stats.NewSampleIDs = addRow(stats.NewSampleIDs, row.SampleSubmitterID, i)
			continue
		}
		stats.AlreadyRegistered = addRow(stats.AlreadyRegistered, row.SampleSubmitterID, i)
	}
	return stats
}

func addRow(stats []domain.RegistrationStat, submitterID string, row int) []domain.RegistrationStat {
	for i := range stats {
		if stats[i].SubmitterID == submitterID {
			stats[i].RowNumbers = append(stats[i].RowNumbers, row)
			return stats
		}
	}
	return append(stats, domain.RegistrationStat{SubmitterID: submitterID, RowNumbers: []int{row}})
}

func findSample(specimen domain.Specimen, submitterID string) *domain.Sample {
	for i := range specimen.Samples {
		if specimen.Samples[i].SubmitterID == submitterID {
			return &specimen.Samples[i]
		}
	}
	return nil
}
