package submission

import (
	"context"
	"maps"
	"slices"

	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// RevalidateResult is the outcome of Revalidate.
type RevalidateResult struct {
	Submission domain.ActiveClinicalSubmission
	Successful bool
}

// Revalidate re-runs the schema checks of every staged entity of the
// program's submission against dict. Entities that fail keep their rows and
// carry the findings as schema errors, and the submission moves to
// INVALID_BY_MIGRATION. A dry run computes the outcome without storing it.
// Revalidate ignores the submission switch since migrations run with
// submissions disabled.
func (s *Service) Revalidate(ctx context.Context, programID string, dict dictionary.Dictionary, dryRun bool) (RevalidateResult, error) {
	var result RevalidateResult
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		sub, ok := tx.FindClinicalSubmission(programID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityClinicalSubmission, ID: programID}
		}
		version := sub.Version
		sub = sub.Clone()
		successful := true
		for _, entity := range slices.Sorted(maps.Keys(sub.ClinicalEntities)) {
			saved := sub.ClinicalEntities[entity]
			raws := make([]dictionary.Record, 0, len(saved.Records))
			for _, rec := range saved.Records {
				raws = append(raws, dictionary.ToRawRecord(domain.ClinicalInfo(rec).Without(domain.IndexField)))
			}
			_, errs, err := checkClinicalEntity(ctx, entity, raws, programID, dict)
			if err != nil {
				return err
			}
			if len(errs) > 0 {
				saved.SchemaErrors = errs
				sub.ClinicalEntities[entity] = saved
				successful = false
			}
		}
		if !successful {
			sub.State = domain.SubmissionInvalidByMigration
		}
		result = RevalidateResult{Submission: sub, Successful: successful}
		if dryRun {
			return nil
		}
		saved, err := tx.SaveClinicalSubmission(sub, version)
		result.Submission = saved
		return err
	})
	if err != nil {
		return RevalidateResult{}, err
	}
	s.log.Debug("clinical submission revalidated", "program", programID, "version", dict.Version, "successful", result.Successful, "dryRun", dryRun)
	return result, nil
}
