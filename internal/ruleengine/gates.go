package ruleengine

import (
	"time"

	"github.com/shopspring/decimal"
)

type statusGate struct{}

func (statusGate) Reason() Reason { return ReasonInactive }

func (statusGate) Allow(rule *Rule, _ EvaluationInput) bool {
	return rule.Enabled
}

// dateWindowGate re-checks the schedule because cached rule sets may outlive a bound.
type dateWindowGate struct{}

func (dateWindowGate) Reason() Reason { return ReasonDateWindow }

func (dateWindowGate) Allow(rule *Rule, input EvaluationInput) bool {
	now := input.Now.UTC()
	if !IsUnsetBound(rule.DateFrom) && now.Before(*rule.DateFrom) {
		return false
	}
	if !IsUnsetBound(rule.DateTo) && now.After(*rule.DateTo) {
		return false
	}
	return true
}

// NextBoundary returns the earliest instant after now at which the date window of any
// rule opens or closes, or the zero time when no rule has a future bound. An
// eligibility computed at now holds, as far as dates go, until that instant.
func NextBoundary(rules []Rule, now time.Time) time.Time {
	now = now.UTC()
	var next time.Time
	consider := func(t time.Time) {
		if t.After(now) && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	for i := range rules {
		if !IsUnsetBound(rules[i].DateFrom) {
			consider(*rules[i].DateFrom)
		}
		if !IsUnsetBound(rules[i].DateTo) {
			// DateTo is inclusive, so the rule closes one tick later.
			consider(rules[i].DateTo.Add(time.Nanosecond))
		}
	}
	return next
}

type userOnlyGate struct{}

func (userOnlyGate) Reason() Reason { return ReasonUserOnly }

func (userOnlyGate) Allow(rule *Rule, input EvaluationInput) bool {
	return !rule.UserOnly || input.User.Authenticated()
}

type ruleLimitGate struct{}

func (ruleLimitGate) Reason() Reason { return ReasonLimitPerRule }

func (ruleLimitGate) Allow(rule *Rule, input EvaluationInput) bool {
	if rule.LimitPerRule == nil || *rule.LimitPerRule <= 0 || input.Usage == nil {
		return true
	}
	return input.Usage.Total(rule.ID) < *rule.LimitPerRule
}

// userLimitGate only applies to logged-in shoppers; guests share user id 0.
type userLimitGate struct{}

func (userLimitGate) Reason() Reason { return ReasonLimitPerUser }

func (userLimitGate) Allow(rule *Rule, input EvaluationInput) bool {
	if rule.LimitPerUser == nil || *rule.LimitPerUser <= 0 || input.Usage == nil {
		return true
	}
	if !input.User.Authenticated() {
		return true
	}
	return input.Usage.ForUser(rule.ID, input.User.ID) < *rule.LimitPerUser
}

type couponGate struct{}

func (couponGate) Reason() Reason { return ReasonCouponPresent }

func (couponGate) Allow(rule *Rule, input EvaluationInput) bool {
	return !rule.DisableWithCoupon || len(input.Cart.AppliedCoupons) == 0
}

type subtotalGate struct{}

func (subtotalGate) Reason() Reason { return ReasonSubtotal }

func (subtotalGate) Allow(rule *Rule, input EvaluationInput) bool {
	if rule.SubtotalOperator == OpNone || rule.SubtotalAmount == nil {
		return true
	}
	return rule.SubtotalOperator.Compare(input.Cart.Subtotal, *rule.SubtotalAmount)
}

type quantityGate struct{}

func (quantityGate) Reason() Reason { return ReasonQuantity }

func (quantityGate) Allow(rule *Rule, input EvaluationInput) bool {
	if rule.QtyOperator == OpNone || rule.QtyAmount == nil {
		return true
	}
	qty := decimal.NewFromInt(int64(input.Cart.TotalQuantity()))
	return rule.QtyOperator.Compare(qty, decimal.NewFromInt(int64(*rule.QtyAmount)))
}

// productDependencyGate matches a line by its product id or its variation id.
type productDependencyGate struct{}

func (productDependencyGate) Reason() Reason { return ReasonProductDependency }

func (productDependencyGate) Allow(rule *Rule, input EvaluationInput) bool {
	deps := rule.sets().products
	if len(deps) == 0 {
		return true
	}
	for _, item := range input.Cart.Items {
		if _, ok := deps[item.ProductID]; ok && item.ProductID != 0 {
			return true
		}
		if _, ok := deps[item.VariationID]; ok && item.VariationID != 0 {
			return true
		}
	}
	return false
}

type categoryDependencyGate struct{}

func (categoryDependencyGate) Reason() Reason { return ReasonCategoryDependency }

func (categoryDependencyGate) Allow(rule *Rule, input EvaluationInput) bool {
	deps := rule.sets().categories
	if len(deps) == 0 {
		return true
	}
	for _, item := range input.Cart.Items {
		for _, categoryID := range input.Cart.Categories[item.ProductID] {
			if _, ok := deps[categoryID]; ok {
				return true
			}
		}
	}
	return false
}

type userDependencyGate struct{}

func (userDependencyGate) Reason() Reason { return ReasonUserDependency }

func (userDependencyGate) Allow(rule *Rule, input EvaluationInput) bool {
	deps := rule.sets().users
	if len(deps) == 0 {
		return true
	}
	if !input.User.Authenticated() {
		return false
	}
	_, ok := deps[input.User.ID]
	return ok
}

type giftsGate struct{}

func (giftsGate) Reason() Reason { return ReasonNoGifts }

func (giftsGate) Allow(rule *Rule, _ EvaluationInput) bool {
	return len(rule.Gifts) > 0
}
