// Package completion derives per-donor core completion stats from the
// clinical content of the donor.
package completion

import (
	"errors"
	"fmt"
	"time"

	"clinicalcore/internal/clinical"
	"clinicalcore/pkg/domain"
)

// Flags force recalculation past the normal guards.
type Flags struct {
	// RecalcEvenIfComplete recalculates entities already at 1.
	RecalcEvenIfComplete bool
	// RecalcEvenIfOverridden recalculates manually overridden entities.
	RecalcEvenIfOverridden bool
}

// ErrInvalidOverride is returned for override maps with unknown entities or
// values outside [0,1].
var ErrInvalidOverride = errors.New("invalid core completion override")

var nowFn = func() time.Time { return time.Now().UTC() }

var coreSources = map[domain.CoreEntity]domain.ClinicalEntity{
	domain.CoreDonor:            domain.ClinicalDonor,
	domain.CoreSpecimens:        domain.ClinicalSpecimen,
	domain.CorePrimaryDiagnosis: domain.ClinicalPrimaryDiagnosis,
	domain.CoreFollowUps:        domain.ClinicalFollowUp,
	domain.CoreTreatments:       domain.ClinicalTreatment,
}

func emptyStats() *domain.CompletionStats {
	stats := &domain.CompletionStats{CoreCompletion: make(map[domain.CoreEntity]float64, len(domain.CoreEntities))}
	for _, e := range domain.CoreEntities {
		stats.CoreCompletion[e] = 0
	}
	return stats
}

// Recalculate updates the stat of one core entity on donor in place and
// refreshes the percentage and completion date. Guards: an overridden entity
// is kept unless flags.RecalcEvenIfOverridden; an entity already at 1 is
// kept unless flags.RecalcEvenIfComplete, except specimens whose ratio drops
// when specimens are added.
func Recalculate(donor *domain.Donor, entity domain.CoreEntity, flags Flags) {
	if donor.CompletionStats == nil {
		donor.CompletionStats = emptyStats()
	}
	if donor.CompletionStats.CoreCompletion == nil {
		donor.CompletionStats.CoreCompletion = emptyStats().CoreCompletion
	}
	if !skip(donor.CompletionStats, entity, flags) {
		donor.CompletionStats.CoreCompletion[entity] = entityCompletion(*donor, entity)
	}
	refreshTotals(donor)
}

func skip(stats *domain.CompletionStats, entity domain.CoreEntity, flags Flags) bool {
	if stats.IsOverridden(entity) {
		return !flags.RecalcEvenIfOverridden
	}
	if entity == domain.CoreSpecimens {
		return false
	}
	return !flags.RecalcEvenIfComplete && stats.CoreCompletion[entity] == 1
}

func entityCompletion(donor domain.Donor, entity domain.CoreEntity) float64 {
	if entity == domain.CoreSpecimens {
		return SpecimenCompletion(donor.Specimens)
	}
	if len(clinical.ClinicalInfoOf(donor, coreSources[entity])) > 0 {
		return 1
	}
	return 0
}

// SpecimenCompletion is the share of specimens with clinical info. It is 0
// unless at least one Normal and one Tumour specimen are registered.
func SpecimenCompletion(specimens []domain.Specimen) float64 {
	var normal, tumour bool
	submitted := 0
	for _, sp := range specimens {
		switch sp.TumourNormalDesignation {
		case domain.DesignationNormal:
			normal = true
		case domain.DesignationTumour:
			tumour = true
		}
		if !sp.ClinicalInfo.IsEmpty() {
			submitted++
		}
	}
	if !normal || !tumour {
		return 0
	}
	return float64(submitted) / float64(len(specimens))
}

// CoreCompletionPercentage is the mean of the core entity stats.
func CoreCompletionPercentage(stats map[domain.CoreEntity]float64) float64 {
	if len(stats) == 0 {
		return 0
	}
	var sum float64
	for _, v := range stats {
		sum += v
	}
	return sum / float64(len(stats))
}

// CoreCompletionDate keeps the first completion date while the donor stays
// complete and clears it otherwise.
func CoreCompletionDate(donor domain.Donor, percentage float64) *time.Time {
	if percentage != 1 {
		return nil
	}
	if donor.CompletionStats != nil && donor.CompletionStats.CoreCompletionDate != nil {
		date := *donor.CompletionStats.CoreCompletionDate
		return &date
	}
	date := donor.UpdatedAt
	if date.IsZero() {
		date = nowFn()
	}
	return &date
}

func refreshTotals(donor *domain.Donor) {
	pct := CoreCompletionPercentage(donor.CompletionStats.CoreCompletion)
	donor.CompletionStats.CoreCompletionDate = CoreCompletionDate(*donor, pct)
	donor.CompletionStats.CoreCompletionPercentage = pct
}

func recalculateAll(donor domain.Donor, flags Flags) domain.Donor {
	out := donor.Clone()
	for _, e := range domain.CoreEntities {
		Recalculate(&out, e, flags)
	}
	return out
}

// RecalculateHoldOverridden recomputes every entity except overridden ones.
func RecalculateHoldOverridden(donor domain.Donor) domain.Donor {
	return recalculateAll(donor, Flags{RecalcEvenIfComplete: true})
}

// UpdateFromRegistrationCommit recomputes stats after new specimens were
// registered. Donors without stats have no clinical data and are returned
// unchanged.
func UpdateFromRegistrationCommit(donor domain.Donor) domain.Donor {
	if donor.CompletionStats == nil {
		return donor
	}
	return recalculateAll(donor, Flags{RecalcEvenIfComplete: true})
}

// UpdateFromSubmissionCommit recomputes stats after clinical records of the
// given entities were merged. Non core entities do not affect stats.
func UpdateFromSubmissionCommit(donor domain.Donor, entities []domain.ClinicalEntity) domain.Donor {
	out := donor.Clone()
	for _, e := range entities {
		core, ok := domain.CoreEntityFor(e)
		if !ok {
			continue
		}
		Recalculate(&out, core, Flags{})
	}
	return out
}

// ForceOverride recalculates every entity and then applies the caller's
// values, recording which entities were overridden.
func ForceOverride(donor domain.Donor, override map[domain.CoreEntity]float64) (domain.Donor, error) {
	for k, v := range override {
		if !domain.IsCoreEntity(k) {
			return domain.Donor{}, fmt.Errorf("%w: unknown entity %q", ErrInvalidOverride, k)
		}
		if v < 0 || v > 1 {
			return domain.Donor{}, fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidOverride, k, v)
		}
	}
	out := recalculateAll(donor, Flags{RecalcEvenIfComplete: true, RecalcEvenIfOverridden: true})
	overridden := make([]domain.CoreEntity, 0, len(override))
	for _, e := range domain.CoreEntities {
		if v, ok := override[e]; ok {
			out.CompletionStats.CoreCompletion[e] = v
			overridden = append(overridden, e)
		}
	}
	out.CompletionStats.OverriddenCoreCompletion = overridden
	refreshTotals(&out)
	return out, nil
}

// SetInvalidEntitiesForMigration zeroes the stats of core entities that a
// migration found invalid. Overridden entities keep their value.
func SetInvalidEntitiesForMigration(donor domain.Donor, invalid []domain.ClinicalEntity) domain.Donor {
	out := donor.Clone()
	if out.CompletionStats == nil {
		out.CompletionStats = emptyStats()
	}
	if out.CompletionStats.CoreCompletion == nil {
		out.CompletionStats.CoreCompletion = emptyStats().CoreCompletion
	}
	for _, e := range invalid {
		core, ok := domain.CoreEntityFor(e)
		if !ok || out.CompletionStats.IsOverridden(core) {
			continue
		}
		out.CompletionStats.CoreCompletion[core] = 0
	}
	refreshTotals(&out)
	return out
}
