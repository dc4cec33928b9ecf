package domain

import (
	"context"
	"fmt"
	"slices"
)

// RuleView is the post-transaction state a rule inspects.
type RuleView = TransactionView

// Rule checks a persisted invariant before a transaction commits. Blocking
// violations abort the commit.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// ScopedRule is a Rule that only needs to run when one of its entity types
// changed.
type ScopedRule interface {
	Rule
	Entities() []EntityType
}

// RulesEngine runs the registered rules in registration order.
type RulesEngine struct {
	rules []Rule
}

func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register adds rule; names must be unique within an engine.
func (e *RulesEngine) Register(rule Rule) {
	if slices.Contains(e.Rules(), rule.Name()) {
		panic(fmt.Sprintf("rule %q registered twice", rule.Name()))
	}
	e.rules = append(e.rules, rule)
}

// Rules lists the rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate merges the results of every rule in scope for changes.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		if scoped, ok := rule.(ScopedRule); ok && !changesAny(changes, scoped.Entities()) {
			continue
		}
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}

func changesAny(changes []Change, entities []EntityType) bool {
	return slices.ContainsFunc(changes, func(c Change) bool {
		return slices.Contains(entities, c.Entity)
	})
}
