package ruleengine

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxDependencySize limits the ids a single dependency list may hold.
	// Larger lists belong in a category, not in a rule.
	MaxDependencySize = 10_000
)

// compiledSets holds O(1) lookup sets built from a rule's dependency lists.
type compiledSets struct {
	products   map[int64]struct{}
	categories map[int64]struct{}
	users      map[int64]struct{}
}

// CompileRules normalises and validates rules in place.
// It must run once when rules are loaded from storage, before evaluation.
// Every invalid rule is reported; callers decide whether to skip or reject them.
func CompileRules(rules []Rule) error {
	var errs []error
	for i := range rules {
		if err := CompileRule(&rules[i]); err != nil {
			errs = append(errs, fmt.Errorf("failed to compile rule %d: %w", rules[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// CompileRule normalises a single rule and builds its lookup sets.
func CompileRule(rule *Rule) error {
	if rule.ID <= 0 {
		return fmt.Errorf("rule id must be positive, got %d", rule.ID)
	}

	subtotalOp, err := ParseOperator(string(rule.SubtotalOperator))
	if err != nil {
		return fmt.Errorf("invalid subtotal condition: %w", err)
	}
	rule.SubtotalOperator = subtotalOp

	qtyOp, err := ParseOperator(string(rule.QtyOperator))
	if err != nil {
		return fmt.Errorf("invalid quantity condition: %w", err)
	}
	rule.QtyOperator = qtyOp

	for name, deps := range map[string][]int64{
		"product":  rule.ProductDependency,
		"category": rule.CategoryDependency,
		"user":     rule.UserDependency,
	} {
		if len(deps) > MaxDependencySize {
			return fmt.Errorf("%s dependency exceeds maximum size: %d > %d", name, len(deps), MaxDependencySize)
		}
	}

	// A limit of zero means "no limit".
	if rule.LimitPerRule != nil && *rule.LimitPerRule <= 0 {
		rule.LimitPerRule = nil
	}
	if rule.LimitPerUser != nil && *rule.LimitPerUser <= 0 {
		rule.LimitPerUser = nil
	}

	if rule.GiftQuantity < 1 {
		rule.GiftQuantity = 1
	}

	rule.DateFrom = normalizeBound(rule.DateFrom)
	rule.DateTo = normalizeBound(rule.DateTo)
	if rule.DateFrom != nil && rule.DateTo != nil && rule.DateTo.Before(*rule.DateFrom) {
		return fmt.Errorf("date_to %s is before date_from %s", rule.DateTo.Format(time.RFC3339), rule.DateFrom.Format(time.RFC3339))
	}

	switch rule.DisplayLocation {
	case DisplayCart, DisplayCheckout:
	case "":
		rule.DisplayLocation = DisplayCart
	default:
		return fmt.Errorf("unknown display location %q", rule.DisplayLocation)
	}

	if rule.ItemsPerRow == 0 {
		rule.ItemsPerRow = DefaultItemsPerRow
	}
	if rule.ItemsPerRow < MinItemsPerRow || rule.ItemsPerRow > MaxItemsPerRow {
		return fmt.Errorf("items_per_row must be between %d and %d, got %d", MinItemsPerRow, MaxItemsPerRow, rule.ItemsPerRow)
	}

	rule.compiled = buildSets(rule)
	return nil
}

// IsUnsetBound reports whether a date bound carries no constraint.
// Nil, the zero time and the Unix epoch all mean "unbounded".
func IsUnsetBound(t *time.Time) bool {
	return t == nil || t.IsZero() || t.Unix() == 0
}

func normalizeBound(t *time.Time) *time.Time {
	if IsUnsetBound(t) {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func buildSets(rule *Rule) *compiledSets {
	return &compiledSets{
		products:   toSet(rule.ProductDependency),
		categories: toSet(rule.CategoryDependency),
		users:      toSet(rule.UserDependency),
	}
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// sets returns the compiled lookup sets, building a private copy when the rule
// reached the engine without going through CompileRule (e.g. decoded from a session cache).
func (r *Rule) sets() *compiledSets {
	if r.compiled != nil {
		return r.compiled
	}
	return buildSets(r)
}
