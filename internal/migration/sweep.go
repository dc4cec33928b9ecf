package migration

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"clinicalcore/internal/completion"
	"clinicalcore/internal/validation"
	"clinicalcore/pkg/dictionary"
	"clinicalcore/pkg/domain"
)

// donorCheck is the outcome of re-checking one donor.
type donorCheck struct {
	donor  domain.Donor
	errors validation.DonorSchemaErrors
}

// sweepDonors re-checks, page by page, every donor not yet stamped with the
// migration id. A donor is only re-processed for the entities that changed
// in a breaking way since its last valid version. Pages are checked
// concurrently and applied in one transaction together with the migration
// checkpoint.
func (m *Manager) sweepDonors(ctx context.Context, mig domain.DictionaryMigration, name string, target dictionary.Dictionary) (domain.DictionaryMigration, error) {
	breaking := map[string][]domain.ClinicalEntity{}
	for {
		if err := ctx.Err(); err != nil {
			return domain.DictionaryMigration{}, err
		}
		var donors []domain.Donor
		if err := m.store.View(ctx, func(v domain.TransactionView) error {
			donors = v.ListDonorsPendingMigration(mig.ID, m.cfg.PageSize)
			return nil
		}); err != nil {
			return domain.DictionaryMigration{}, err
		}
		if len(donors) == 0 {
			return mig, nil
		}

		for _, d := range donors {
			key := versionsKey(lastValidVersion(d, mig), target.Version)
			if _, ok := breaking[key]; ok {
				continue
			}
			m.log.Debug("analysing dictionary changes", "versions", key)
			analysis, err := m.provider.Diff(ctx, name, lastValidVersion(d, mig), target.Version)
			if err != nil {
				return domain.DictionaryMigration{}, fmt.Errorf("analyse %s: %w", key, err)
			}
			breaking[key] = breakingEntities(analysis)
		}

		checks := make([]donorCheck, len(donors))
		var g errgroup.Group
		g.SetLimit(m.cfg.Workers)
		for i, d := range donors {
			entities := breaking[versionsKey(lastValidVersion(d, mig), target.Version)]
			g.Go(func() error {
				errs, err := validation.ValidateDonorEntities(d, target, entities)
				if err != nil {
					return fmt.Errorf("donor %d: %w", d.DonorID, err)
				}
				checks[i] = donorCheck{donor: d, errors: errs}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return domain.DictionaryMigration{}, err
		}

		next, err := m.applyPage(ctx, mig, target.Version, checks)
		if err != nil {
			return domain.DictionaryMigration{}, err
		}
		mig = next
		m.log.Info("migration donor page processed", "migration", mig.ID, "donors", len(donors),
			"processed", mig.Stats.TotalProcessed, "invalid", mig.Stats.InvalidDocumentsCount)
	}
}

// applyPage stores the outcome of one page of donor checks and the updated
// migration checkpoint atomically.
func (m *Manager) applyPage(ctx context.Context, mig domain.DictionaryMigration, version string, checks []donorCheck) (domain.DictionaryMigration, error) {
	next := mig.Clone()
	programs := map[string]struct{}{}
	for _, p := range next.ProgramsWithDonorUpdates {
		programs[p] = struct{}{}
	}
	var saved domain.DictionaryMigration
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, c := range checks {
			// Checks ran on an earlier read; the outcome goes onto the donor
			// as stored now.
			var before domain.Donor
			current, err := tx.UpdateDonor(c.donor.DonorID, func(d *domain.Donor) error {
				before = d.Clone()
				*d = migratedDonor(*d, c.errors, next.ID, version, next.DryRun)
				return nil
			})
			if err != nil {
				return err
			}
			if !next.DryRun && donorChanged(before, current) {
				programs[current.ProgramID] = struct{}{}
			}
			if len(c.errors) > 0 {
				next.InvalidDonorsErrors = append(next.InvalidDonorsErrors, domain.DonorMigrationError{
					DonorID:          c.donor.DonorID,
					SubmitterDonorID: c.donor.SubmitterID,
					ProgramID:        c.donor.ProgramID,
					Errors:           c.errors,
				})
				next.Stats.InvalidDocumentsCount++
			} else {
				next.Stats.ValidDocumentsCount++
			}
			next.Stats.TotalProcessed++
		}
		next.ProgramsWithDonorUpdates = sortedKeys(programs)
		var err error
		saved, err = tx.UpdateMigration(next.ID, func(d *domain.DictionaryMigration) error {
			d.Stats = next.Stats
			d.InvalidDonorsErrors = next.InvalidDonorsErrors
			d.ProgramsWithDonorUpdates = next.ProgramsWithDonorUpdates
			return nil
		})
		return err
	})
	return saved, err
}

// migratedDonor returns the donor as the migration leaves it. Dry runs only
// stamp the migration id.
func migratedDonor(donor domain.Donor, errs validation.DonorSchemaErrors, migrationID, version string, dryRun bool) domain.Donor {
	out := donor.Clone()
	switch {
	case dryRun:
	case len(errs) > 0:
		out = completion.SetInvalidEntitiesForMigration(out, errs.Entities())
		out.SchemaMetadata.IsValid = false
	default:
		if out.CompletionStats == nil || len(out.CompletionStats.CoreCompletion) == 0 || !out.SchemaMetadata.IsValid {
			out = completion.RecalculateHoldOverridden(out)
		}
		out.SchemaMetadata.IsValid = true
		out.SchemaMetadata.LastValidSchemaVersion = version
	}
	out.SchemaMetadata.LastMigrationID = migrationID
	return out
}

func donorChanged(before, after domain.Donor) bool {
	return before.SchemaMetadata.IsValid != after.SchemaMetadata.IsValid ||
		!reflect.DeepEqual(before.CompletionStats, after.CompletionStats)
}

// sweepSubmissions revalidates every open submission not yet checked by the
// migration. Submissions already INVALID or INVALID_BY_MIGRATION are left
// alone.
func (m *Manager) sweepSubmissions(ctx context.Context, mig domain.DictionaryMigration, target dictionary.Dictionary) (domain.DictionaryMigration, error) {
	subs, err := m.submissions.ListClinicalSubmissions(ctx)
	if err != nil {
		return domain.DictionaryMigration{}, err
	}
	slices.SortFunc(subs, func(a, b domain.ActiveClinicalSubmission) int { return strings.Compare(a.ProgramID, b.ProgramID) })
	for _, sub := range subs {
		if sub.State == domain.SubmissionInvalid || sub.State == domain.SubmissionInvalidByMigration {
			continue
		}
		ref := domain.SubmissionRef{ProgramID: sub.ProgramID, ID: sub.ID}
		if mig.HasChecked(ref) {
			continue
		}
		res, err := m.submissions.Revalidate(ctx, sub.ProgramID, target, mig.DryRun)
		if err != nil && !domain.IsNotFound(err) {
			return domain.DictionaryMigration{}, fmt.Errorf("revalidate submission of %s: %w", sub.ProgramID, err)
		}
		invalid := err == nil && res.Submission.State == domain.SubmissionInvalidByMigration
		mig, err = m.updateMigration(ctx, mig.ID, func(d *domain.DictionaryMigration) {
			d.CheckedSubmissions = append(d.CheckedSubmissions, ref)
			if invalid {
				d.InvalidSubmissions = append(d.InvalidSubmissions, ref)
			}
		})
		if err != nil {
			return domain.DictionaryMigration{}, err
		}
	}
	return mig, nil
}

func lastValidVersion(d domain.Donor, mig domain.DictionaryMigration) string {
	if d.SchemaMetadata.LastValidSchemaVersion == "" {
		return mig.FromVersion
	}
	return d.SchemaMetadata.LastValidSchemaVersion
}

func versionsKey(from, to string) string {
	return from + "->" + to
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
