package submission

import (
	"context"
	"maps"
	"slices"

	"clinicalcore/internal/clinical"
	"clinicalcore/internal/completion"
	"clinicalcore/internal/validation"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// CommitResult is the outcome of CommitClinical. When PendingApproval is set
// the submission was parked for approval and Submission is its stored form;
// otherwise Submission is the committed, now deleted, submission.
type CommitResult struct {
	Submission      domain.ActiveClinicalSubmission
	PendingApproval bool
}

// CommitClinical commits a VALID submission into the donors. A submission
// that updates previously stored values is moved to PENDING_APPROVAL instead.
func (s *Service) CommitClinical(ctx context.Context, programID, version, updater string) (CommitResult, error) {
	dict, err := s.CurrentDictionary(ctx)
	if err != nil {
		return CommitResult{}, err
	}
	var result CommitResult
	var donorIDs []string
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		sub, err := modifiable(tx, programID, version)
		if err != nil {
			return err
		}
		if sub.State != domain.SubmissionValid {
			return domain.StateConflictError{Reason: "active submission does not have state VALID and cannot be committed"}
		}
		if hasUpdates(sub) {
			sub.State = domain.SubmissionPendingApproval
			sub.UpdatedBy = updater
			saved, err := tx.SaveClinicalSubmission(sub, version)
			result = CommitResult{Submission: saved, PendingApproval: true}
			return err
		}
		donorIDs, err = commitSubmission(tx, sub, *dict)
		result = CommitResult{Submission: sub}
		return err
	})
	if err != nil {
		return CommitResult{}, err
	}
	if result.PendingApproval {
		s.log.Info("clinical submission awaiting approval", "program", programID)
		return result, nil
	}
	s.log.Info("clinical submission committed", "program", programID, "donors", len(donorIDs))
	if submissionChangesProgram(result.Submission) {
		s.notify(ctx, programID, donorIDs)
	}
	return result, nil
}

// ApproveClinical commits a PENDING_APPROVAL submission.
func (s *Service) ApproveClinical(ctx context.Context, programID, version string) error {
	dict, err := s.CurrentDictionary(ctx)
	if err != nil {
		return err
	}
	var donorIDs []string
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := ensureEnabled(tx); err != nil {
			return err
		}
		sub, err := modifiable(tx, programID, version)
		if err != nil {
			return err
		}
		if sub.State != domain.SubmissionPendingApproval {
			return domain.StateConflictError{Reason: "active submission does not have state PENDING_APPROVAL and cannot be approved"}
		}
		donorIDs, err = commitSubmission(tx, sub, *dict)
		return err
	})
	if err != nil {
		return err
	}
	s.log.Info("clinical submission approved", "program", programID, "donors", len(donorIDs))
	s.notify(ctx, programID, donorIDs)
	return nil
}

// commitSubmission merges the staged rows into their donors, re-checks donors
// that were invalid against dict, recalculates completion stats and deletes
// the submission. It returns the store ids of the updated donors.
func commitSubmission(tx domain.Transaction, sub domain.ActiveClinicalSubmission, dict dictionary.Dictionary) ([]string, error) {
	byDonor := recordsByDonor(sub)
	var updated []string
	for _, submitterID := range slices.Sorted(maps.Keys(byDonor)) {
		donor, ok := tx.FindDonorBySubmitterID(sub.ProgramID, submitterID)
		if !ok {
			continue
		}
		merged := clinical.Merge(donor, byDonor[submitterID], clinical.MergeOptions{CreateMissingTreatment: false})
		if !merged.SchemaMetadata.IsValid {
			valid, err := validation.DonorIsValid(merged, dict)
			if err != nil {
				return nil, err
			}
			if valid {
				merged.SchemaMetadata.IsValid = true
				merged.SchemaMetadata.LastValidSchemaVersion = dict.Version
			}
		}
		merged = completion.RecalculateHoldOverridden(merged)
		if _, err := tx.UpdateDonor(donor.DonorID, func(d *domain.Donor) error {
			*d = merged
			return nil
		}); err != nil {
			return nil, err
		}
		updated = append(updated, donor.ID())
	}
	if len(updated) == 0 {
		return nil, domain.StateConflictError{Reason: "donors for this submission cannot be found in the clinical database"}
	}
	return updated, tx.DeleteClinicalSubmission(sub.ProgramID, sub.Version)
}

func hasUpdates(sub domain.ActiveClinicalSubmission) bool {
	for _, e := range sub.ClinicalEntities {
		if len(e.Stats.Updated) > 0 {
			return true
		}
	}
	return false
}

func submissionChangesProgram(sub domain.ActiveClinicalSubmission) bool {
	if sub.State == domain.SubmissionPendingApproval {
		return true
	}
	for _, e := range sub.ClinicalEntities {
		if len(e.Stats.New) > 0 || len(e.Stats.Updated) > 0 {
			return true
		}
	}
	return false
}
