package core

import (
	"context"
	"fmt"

	"clinicalcore/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in integrity
// rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewDonorIdentityRule())
	engine.Register(NewSpecimenSampleIdentityRule())
	engine.Register(NewSingleOpenMigrationRule())
	return engine
}

// NewDonorIdentityRule blocks two donors of one program sharing a submitter
// id.
func NewDonorIdentityRule() domain.Rule { return donorIdentityRule{} }

type donorIdentityRule struct{}

func (donorIdentityRule) Name() string { return "donor_identity" }

func (donorIdentityRule) Entities() []domain.EntityType { return []domain.EntityType{domain.EntityDonor} }

func (r donorIdentityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	var res domain.Result
	seen := map[string]int{}
	for _, d := range view.ListDonors("") {
		key := d.ProgramID + "/" + d.SubmitterID
		if other, ok := seen[key]; ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("donor %s of program %s already stored as donor %d", d.SubmitterID, d.ProgramID, other),
				Entity:   domain.EntityDonor,
				EntityID: d.ID(),
			})
			continue
		}
		seen[key] = d.DonorID
	}
	return res, nil
}

// NewSpecimenSampleIdentityRule blocks a specimen or sample submitter id
// registered under two donors, or two specimens, of the same program.
func NewSpecimenSampleIdentityRule() domain.Rule { return specimenSampleIdentityRule{} }

type specimenSampleIdentityRule struct{}

func (specimenSampleIdentityRule) Name() string { return "specimen_sample_identity" }

func (specimenSampleIdentityRule) Entities() []domain.EntityType {
	return []domain.EntityType{domain.EntityDonor}
}

func (r specimenSampleIdentityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	var res domain.Result
	block := func(d domain.Donor, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   domain.EntityDonor,
			EntityID: d.ID(),
		})
	}
	specimens := map[string]string{}
	samples := map[string]string{}
	for _, d := range view.ListDonors("") {
		for _, sp := range d.Specimens {
			key := d.ProgramID + "/" + sp.SubmitterID
			if owner, ok := specimens[key]; ok {
				block(d, fmt.Sprintf("specimen %s of program %s is already registered to donor %s", sp.SubmitterID, d.ProgramID, owner))
			} else {
				specimens[key] = d.SubmitterID
			}
			for _, sa := range sp.Samples {
				key := d.ProgramID + "/" + sa.SubmitterID
				if owner, ok := samples[key]; ok {
					block(d, fmt.Sprintf("sample %s of program %s is already registered to specimen %s", sa.SubmitterID, d.ProgramID, owner))
					continue
				}
				samples[key] = sp.SubmitterID
			}
		}
	}
	return res, nil
}

// NewSingleOpenMigrationRule blocks a second OPEN dictionary migration.
func NewSingleOpenMigrationRule() domain.Rule { return singleOpenMigrationRule{} }

type singleOpenMigrationRule struct{}

func (singleOpenMigrationRule) Name() string { return "single_open_migration" }

func (singleOpenMigrationRule) Entities() []domain.EntityType {
	return []domain.EntityType{domain.EntityMigration}
}

func (r singleOpenMigrationRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	var res domain.Result
	var open []string
	for _, m := range view.ListMigrations() {
		if m.IsOpen() {
			open = append(open, m.ID)
		}
	}
	if len(open) > 1 {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("only one migration may be open, found %v", open),
			Entity:   domain.EntityMigration,
			EntityID: open[len(open)-1],
		})
	}
	return res, nil
}
