package submission

import (
	"context"
	"maps"
	"slices"

	"clinicalcore/internal/clinical"
	"clinicalcore/internal/validation"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// UploadCommand carries clinical batches keyed by entity.
type UploadCommand struct {
	ProgramID string
	Updater   string
	Batches   map[domain.ClinicalEntity]ClinicalBatch
}

// UploadResult is the outcome of UploadClinical. Submission is the stored
// submission, or the zero value when nothing remains staged. Entities whose
// rows failed schema checks are not staged and are reported in SchemaErrors.
type UploadResult struct {
	Submission   domain.ActiveClinicalSubmission
	SchemaErrors map[domain.ClinicalEntity][]domain.SubmissionValidationError
	BatchErrors  []BatchError
	Successful   bool
}

// ValidateResult is the outcome of ValidateClinical.
type ValidateResult struct {
	Submission domain.ActiveClinicalSubmission
	Successful bool
}

// ClearAll clears every entity of a submission.
const ClearAll = "all"

// FindClinicalSubmission returns the program's staged submission.
func (s *Service) FindClinicalSubmission(ctx context.Context, programID string) (domain.ActiveClinicalSubmission, error) {
	var sub domain.ActiveClinicalSubmission
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		found, ok := v.FindClinicalSubmission(programID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityClinicalSubmission, ID: programID}
		}
		sub = found
		return nil
	})
	return sub, err
}

// ListClinicalSubmissions returns every staged submission.
func (s *Service) ListClinicalSubmissions(ctx context.Context) ([]domain.ActiveClinicalSubmission, error) {
	var subs []domain.ActiveClinicalSubmission
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		subs = v.ListClinicalSubmissions()
		return nil
	})
	return subs, err
}

// UploadClinical schema checks each batch and stages the clean ones in the
// program's submission, replacing earlier batches of the same entity. Every
// upload resets the validation results of all staged entities and returns
// the submission to OPEN.
func (s *Service) UploadClinical(ctx context.Context, cmd UploadCommand) (UploadResult, error) {
	if err := requireProgram(cmd.ProgramID); err != nil {
		return UploadResult{}, err
	}
	dict, err := s.CurrentDictionary(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	result := UploadResult{SchemaErrors: map[domain.ClinicalEntity][]domain.SubmissionValidationError{}}
	clean := map[domain.ClinicalEntity]domain.SavedClinicalEntity{}
	createdAt := s.now()
	for _, entity := range slices.Sorted(maps.Keys(cmd.Batches)) {
		batch := cmd.Batches[entity]
		schema, ok := dict.Schema(string(entity))
		if !ok || !isClinicalEntity(entity) {
			result.BatchErrors = append(result.BatchErrors, entityBatchError(entity, batch))
			continue
		}
		if errs := checkFieldNames(schema, batch); len(errs) > 0 {
			result.BatchErrors = append(result.BatchErrors, errs...)
			continue
		}
		records, errs, err := checkClinicalEntity(ctx, entity, batch.Records, cmd.ProgramID, *dict)
		if err != nil {
			return UploadResult{}, err
		}
		if len(errs) > 0 {
			result.SchemaErrors[entity] = errs
			continue
		}
		clean[entity] = emptyResults(domain.SavedClinicalEntity{
			BatchName: batch.BatchName,
			Creator:   cmd.Updater,
			CreatedAt: createdAt,
			Records:   records,
		})
	}

	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		existing, _ := tx.FindClinicalSubmission(cmd.ProgramID)
		entities := clearResults(existing.ClinicalEntities)
		for entity := range result.SchemaErrors {
			delete(entities, entity)
		}
		maps.Copy(entities, clean)
		saved, err := saveOrDeleteEmpty(tx, domain.ActiveClinicalSubmission{
			ProgramID:        cmd.ProgramID,
			State:            domain.SubmissionOpen,
			ClinicalEntities: entities,
			UpdatedBy:        cmd.Updater,
		}, existing.Version)
		result.Submission = saved
		return err
	})
	if err != nil {
		return UploadResult{}, err
	}
	result.Successful = len(result.SchemaErrors) == 0 && len(result.BatchErrors) == 0
	s.log.Info("clinical batches uploaded", "program", cmd.ProgramID, "staged", len(clean),
		"rejected", len(result.SchemaErrors), "batchErrors", len(result.BatchErrors))
	return result, nil
}

// checkClinicalEntity runs the uniqueness and schema checks over one batch.
func checkClinicalEntity(ctx context.Context, entity domain.ClinicalEntity, records []dictionary.Record, programID string, dict dictionary.Dictionary) ([]dictionary.TypedRecord, []domain.SubmissionValidationError, error) {
	infos := make([]domain.ClinicalInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, domain.ClinicalInfo(rec))
	}
	errs := validation.CheckUniqueRecords(entity, infos, false)
	batch, err := validation.ValidateBatch(ctx, entity, records, programID, dict)
	if err != nil {
		return nil, nil, err
	}
	return batch.ProcessedRecords, append(errs, batch.Errors...), nil
}

// ValidateClinical runs the cross record and referential checks over an OPEN
// submission and moves it to VALID or INVALID. Submissions in any other state,
// or without entities, are returned unchanged.
func (s *Service) ValidateClinical(ctx context.Context, programID, version, updater string) (ValidateResult, error) {
	var result ValidateResult
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		sub, ok := tx.FindClinicalSubmission(programID)
		if !ok || sub.Version != version {
			return domain.ErrNotFound{Entity: domain.EntityClinicalSubmission, ID: programID + "@" + version}
		}
		if sub.State != domain.SubmissionOpen || len(sub.ClinicalEntities) == 0 {
			result = ValidateResult{Submission: sub, Successful: true}
			return nil
		}

		byDonor := recordsByDonor(sub)
		existing := map[string]domain.Donor{}
		for donorID := range byDonor {
			if d, ok := tx.FindDonorBySubmitterID(programID, donorID); ok {
				existing[donorID] = d
			}
		}
		validated := validation.ValidateSubmissionData(byDonor, existing, tx)

		invalid := false
		entities := sub.Clone().ClinicalEntities
		for entity, res := range validated {
			saved := entities[entity]
			saved.Stats = res.Stats
			saved.DataUpdates = res.DataUpdates
			saved.DataWarnings = res.DataWarnings
			saved.DataErrors = res.DataErrors
			entities[entity] = saved
			invalid = invalid || len(res.DataErrors) > 0
		}
		sub.ClinicalEntities = entities
		sub.State = domain.SubmissionValid
		if invalid {
			sub.State = domain.SubmissionInvalid
		}
		sub.UpdatedBy = updater
		saved, err := tx.SaveClinicalSubmission(sub, version)
		if err != nil {
			return err
		}
		result = ValidateResult{Submission: saved, Successful: !invalid}
		return nil
	})
	if err != nil {
		return ValidateResult{}, err
	}
	s.log.Info("clinical submission validated", "program", programID, "state", result.Submission.State)
	return result, nil
}

// ReopenClinical returns a PENDING_APPROVAL submission to OPEN and clears its
// validation results.
func (s *Service) ReopenClinical(ctx context.Context, programID, version, updater string) (domain.ActiveClinicalSubmission, error) {
	var saved domain.ActiveClinicalSubmission
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		sub, ok := tx.FindClinicalSubmission(programID)
		if !ok || sub.Version != version {
			return domain.ErrNotFound{Entity: domain.EntityClinicalSubmission, ID: programID + "@" + version}
		}
		if sub.State != domain.SubmissionPendingApproval {
			return domain.StateConflictError{Reason: "active submission does not have state PENDING_APPROVAL and cannot be reopened"}
		}
		sub.ClinicalEntities = clearResults(sub.ClinicalEntities)
		sub.State = domain.SubmissionOpen
		sub.UpdatedBy = updater
		var err error
		saved, err = tx.SaveClinicalSubmission(sub, version)
		return err
	})
	return saved, err
}

// ClearClinical removes one entity, or every entity when entity is ClearAll,
// from the program's submission. The remaining entities lose their
// validation results and the submission returns to OPEN; an emptied
// submission is deleted and the zero value returned.
func (s *Service) ClearClinical(ctx context.Context, programID, version, entity, updater string) (domain.ActiveClinicalSubmission, error) {
	var saved domain.ActiveClinicalSubmission
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		sub, err := modifiable(tx, programID, version)
		if err != nil {
			return err
		}
		if sub.State == domain.SubmissionPendingApproval {
			return domain.StateConflictError{Reason: "active submission is in PENDING_APPROVAL state and cannot be modified"}
		}
		entities := map[domain.ClinicalEntity]domain.SavedClinicalEntity{}
		if entity != ClearAll {
			entities = clearResults(sub.ClinicalEntities)
			delete(entities, domain.ClinicalEntity(entity))
		}
		saved, err = saveOrDeleteEmpty(tx, domain.ActiveClinicalSubmission{
			ProgramID:        programID,
			State:            domain.SubmissionOpen,
			ClinicalEntities: entities,
			UpdatedBy:        updater,
		}, version)
		return err
	})
	return saved, err
}

// modifiable loads the submission a caller wants to change. A missing
// submission is not found; a stale version is an invalid argument.
func modifiable(v domain.TransactionView, programID, version string) (domain.ActiveClinicalSubmission, error) {
	sub, ok := v.FindClinicalSubmission(programID)
	if !ok {
		return domain.ActiveClinicalSubmission{}, domain.ErrNotFound{Entity: domain.EntityClinicalSubmission, ID: programID}
	}
	if sub.Version != version {
		return domain.ActiveClinicalSubmission{}, domain.InvalidArgumentError{Reason: "version does not match the latest submission version for this program"}
	}
	return sub, nil
}

// saveOrDeleteEmpty stores sub, or deletes the stored submission when sub has
// no entities left.
func saveOrDeleteEmpty(tx domain.Transaction, sub domain.ActiveClinicalSubmission, version string) (domain.ActiveClinicalSubmission, error) {
	if len(sub.ClinicalEntities) > 0 {
		return tx.SaveClinicalSubmission(sub, version)
	}
	if version == "" {
		return domain.ActiveClinicalSubmission{}, nil
	}
	return domain.ActiveClinicalSubmission{}, tx.DeleteClinicalSubmission(sub.ProgramID, version)
}

func emptyResults(e domain.SavedClinicalEntity) domain.SavedClinicalEntity {
	e.SchemaErrors = []domain.SubmissionValidationError{}
	e.DataErrors = []domain.SubmissionValidationError{}
	e.DataWarnings = []domain.SubmissionValidationError{}
	e.DataUpdates = []domain.SubmissionValidationUpdate{}
	e.Stats = domain.ClinicalStats{New: []int{}, NoUpdate: []int{}, Updated: []int{}, ErrorsFound: []int{}}
	return e
}

func clearResults(entities map[domain.ClinicalEntity]domain.SavedClinicalEntity) map[domain.ClinicalEntity]domain.SavedClinicalEntity {
	out := make(map[domain.ClinicalEntity]domain.SavedClinicalEntity, len(entities))
	for k, v := range entities {
		out[k] = emptyResults(v)
	}
	return out
}

// recordsByDonor groups the staged rows of sub by donor submitter id. Each
// row carries its position in its batch as the index pseudo-field.
func recordsByDonor(sub domain.ActiveClinicalSubmission) validation.RecordsByDonor {
	out := validation.RecordsByDonor{}
	for entity, saved := range sub.ClinicalEntities {
		for i, rec := range saved.Records {
			info := domain.ClinicalInfo(rec.Clone())
			info[domain.IndexField] = i
			donorID := info.String(domain.FieldSubmitterDonorID)
			if out[donorID] == nil {
				out[donorID] = clinical.RecordsByEntity{}
			}
			out[donorID][entity] = append(out[donorID][entity], info)
		}
	}
	return out
}
