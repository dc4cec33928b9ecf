package submission

import (
	"context"

	"clinicalcore/internal/completion"
	"clinicalcore/internal/validation"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// CreateRegistrationCommand carries a sample registration batch.
type CreateRegistrationCommand struct {
	ProgramID  string
	Creator    string
	BatchName  string
	FieldNames []string
	Records    []dictionary.Record
}

// RegistrationResult is the outcome of CreateRegistration. Registration is
// nil unless Successful.
type RegistrationResult struct {
	Registration *domain.ActiveRegistration
	Errors       []domain.SubmissionValidationError
	BatchErrors  []BatchError
	Successful   bool
}

// CreateRegistration validates a registration batch and, when it is clean,
// stores it as the program's active registration. A program holds at most
// one active registration: any previous one is discarded once the batch
// headers are accepted, whether or not the rows validate.
func (s *Service) CreateRegistration(ctx context.Context, cmd CreateRegistrationCommand) (RegistrationResult, error) {
	if err := requireProgram(cmd.ProgramID); err != nil {
		return RegistrationResult{}, err
	}
	dict, err := s.CurrentDictionary(ctx)
	if err != nil {
		return RegistrationResult{}, err
	}
	schema, ok := dict.Schema(string(domain.ClinicalRegistration))
	if !ok {
		return RegistrationResult{}, dictionary.UnknownSchemaError{Dictionary: dict.Name, Version: dict.Version, Schema: string(domain.ClinicalRegistration)}
	}
	batch := ClinicalBatch{BatchName: cmd.BatchName, FieldNames: cmd.FieldNames, Records: cmd.Records}
	if batchErrs := checkFieldNames(schema, batch); len(batchErrs) > 0 {
		return RegistrationResult{BatchErrors: batchErrs}, nil
	}

	schemaResult, err := validation.ValidateBatch(ctx, domain.ClinicalRegistration, cmd.Records, cmd.ProgramID, *dict)
	if err != nil {
		return RegistrationResult{}, err
	}
	rows := make([]domain.RegistrationRecord, 0, len(schemaResult.ProcessedRecords))
	for _, rec := range schemaResult.ProcessedRecords {
		rows = append(rows, domain.RegistrationRecordFromTyped(rec))
	}

	var result RegistrationResult
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		if err := ignoreNotFound(tx.DeleteRegistration(cmd.ProgramID)); err != nil {
			return err
		}
		if schemaResult.HasErrors() {
			result = RegistrationResult{Errors: schemaResult.Errors}
			return nil
		}
		checked := validation.ValidateRegistration(rows, validation.NewExistingRegistrationIndex(tx.ListDonors(cmd.ProgramID)))
		if len(checked.Errors) > 0 {
			result = RegistrationResult{Errors: checked.Errors}
			return nil
		}
		saved, err := tx.SaveRegistration(domain.ActiveRegistration{
			ProgramID:     cmd.ProgramID,
			Creator:       cmd.Creator,
			BatchName:     cmd.BatchName,
			SchemaVersion: dict.Version,
			Records:       rows,
			Stats:         checked.Stats,
		})
		if err != nil {
			return err
		}
		result = RegistrationResult{Registration: &saved, Successful: true}
		return nil
	})
	if err != nil {
		return RegistrationResult{}, err
	}
	s.log.Info("registration created", "program", cmd.ProgramID, "rows", len(rows), "errors", len(result.Errors), "successful", result.Successful)
	return result, nil
}

// FindRegistration returns the program's active registration.
func (s *Service) FindRegistration(ctx context.Context, programID string) (domain.ActiveRegistration, error) {
	var reg domain.ActiveRegistration
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		found, ok := v.FindRegistration(programID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityRegistration, ID: programID}
		}
		reg = found
		return nil
	})
	return reg, err
}

// DeleteRegistration discards the program's active registration when its id
// matches registrationID.
func (s *Service) DeleteRegistration(ctx context.Context, programID, registrationID string) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		if _, err := registrationFor(tx, programID, registrationID); err != nil {
			return err
		}
		return tx.DeleteRegistration(programID)
	})
	return err
}

// CommitRegistration creates the donors, specimens and samples of the
// program's active registration and discards it. It returns the submitter ids
// of the newly registered samples.
func (s *Service) CommitRegistration(ctx context.Context, programID, registrationID string) ([]string, error) {
	var reg domain.ActiveRegistration
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		var err error
		if reg, err = registrationFor(tx, programID, registrationID); err != nil {
			return err
		}
		for _, donor := range donorsFromRegistration(reg) {
			existing, ok := tx.FindDonorBySubmitterID(programID, donor.SubmitterID)
			if !ok {
				if _, err := tx.CreateDonor(donor); err != nil {
					return err
				}
				continue
			}
			merged := completion.UpdateFromRegistrationCommit(addSamples(existing, donor))
			if _, err := tx.UpdateDonor(existing.DonorID, func(d *domain.Donor) error {
				*d = merged
				return nil
			}); err != nil {
				return err
			}
		}
		return tx.DeleteRegistration(programID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("registration committed", "program", programID, "registration", registrationID,
		"newDonors", len(reg.Stats.NewDonorIDs), "newSamples", len(reg.Stats.NewSampleIDs))

	if len(reg.Stats.NewDonorIDs) > 0 || len(reg.Stats.NewSpecimenIDs) > 0 || len(reg.Stats.NewSampleIDs) > 0 {
		s.notify(ctx, programID, s.donorIDs(ctx, programID, statSubmitterIDs(reg.Stats.NewDonorIDs)))
	}
	return statSubmitterIDs(reg.Stats.NewSampleIDs), nil
}

func registrationFor(v domain.TransactionView, programID, registrationID string) (domain.ActiveRegistration, error) {
	reg, ok := v.FindRegistration(programID)
	if !ok || reg.ID != registrationID {
		return domain.ActiveRegistration{}, domain.ErrNotFound{Entity: domain.EntityRegistration, ID: registrationID}
	}
	return reg, nil
}

// donorsFromRegistration groups registration rows into donors in first seen
// order. Repeated samples are folded.
func donorsFromRegistration(reg domain.ActiveRegistration) []domain.Donor {
	var donors []domain.Donor
	index := map[string]int{}
	for _, row := range reg.Records {
		i, ok := index[row.DonorSubmitterID]
		if !ok {
			donors = append(donors, domain.Donor{
				ProgramID:   reg.ProgramID,
				SubmitterID: row.DonorSubmitterID,
				Gender:      row.Gender,
				SchemaMetadata: domain.SchemaMetadata{
					LastValidSchemaVersion: reg.SchemaVersion,
					OriginalSchemaVersion:  reg.SchemaVersion,
					IsValid:                true,
				},
				Specimens:  []domain.Specimen{},
				Treatments: []domain.Treatment{},
				FollowUps:  []domain.FollowUp{},
			})
			i = len(donors) - 1
			index[row.DonorSubmitterID] = i
		}
		addRow(&donors[i], row)
	}
	return donors
}

func addRow(donor *domain.Donor, row domain.RegistrationRecord) {
	sample := domain.Sample{SubmitterID: row.SampleSubmitterID, SampleType: row.SampleType}
	for i := range donor.Specimens {
		sp := &donor.Specimens[i]
		if sp.SubmitterID != row.SpecimenSubmitterID {
			continue
		}
		for _, sa := range sp.Samples {
			if sa.SubmitterID == sample.SubmitterID {
				return
			}
		}
		sp.Samples = append(sp.Samples, sample)
		return
	}
	donor.Specimens = append(donor.Specimens, domain.Specimen{
		SubmitterID:             row.SpecimenSubmitterID,
		SpecimenTissueSource:    row.SpecimenTissueSource,
		TumourNormalDesignation: row.TumourNormalDesignation,
		SpecimenType:            row.SpecimenType,
		Samples:                 []domain.Sample{sample},
	})
}

// addSamples copies the specimens and samples of registered that existing
// does not hold yet into a copy of existing.
func addSamples(existing, registered domain.Donor) domain.Donor {
	merged := existing.Clone()
	for _, sp := range registered.Specimens {
		for _, sa := range sp.Samples {
			addRow(&merged, domain.RegistrationRecord{
				SpecimenSubmitterID:     sp.SubmitterID,
				SpecimenTissueSource:    sp.SpecimenTissueSource,
				TumourNormalDesignation: sp.TumourNormalDesignation,
				SpecimenType:            sp.SpecimenType,
				SampleSubmitterID:       sa.SubmitterID,
				SampleType:              sa.SampleType,
			})
		}
	}
	return merged
}

func statSubmitterIDs(stats []domain.RegistrationStat) []string {
	out := make([]string, 0, len(stats))
	for _, s := range stats {
		out = append(out, s.SubmitterID)
	}
	return out
}

// donorIDs resolves donor submitter ids of a program to store ids.
func (s *Service) donorIDs(ctx context.Context, programID string, submitterIDs []string) []string {
	var out []string
	_ = s.store.View(ctx, func(v domain.TransactionView) error {
		for _, id := range submitterIDs {
			if d, ok := v.FindDonorBySubmitterID(programID, id); ok {
				out = append(out, d.ID())
			}
		}
		return nil
	})
	return out
}
