package ruleengine

// Reason names the gate that rejected a rule.
// The values are stable: they appear in logs, metrics and observer callbacks.
type Reason string

const (
	ReasonEligible           Reason = ""
	ReasonInactive           Reason = "inactive"
	ReasonDateWindow         Reason = "date_window"
	ReasonUserOnly           Reason = "user_only"
	ReasonLimitPerRule       Reason = "limit_per_rule"
	ReasonLimitPerUser       Reason = "limit_per_user"
	ReasonCouponPresent      Reason = "coupon_present"
	ReasonSubtotal           Reason = "subtotal"
	ReasonQuantity           Reason = "qty"
	ReasonProductDependency  Reason = "product_dependency"
	ReasonCategoryDependency Reason = "category_dependency"
	ReasonUserDependency     Reason = "user_dependency"
	ReasonNoGifts            Reason = "no_gifts"
)

// Gate is a single eligibility condition.
// Gates are stateless and evaluated in a fixed order; the first one that
// does not allow the rule ends its evaluation.
type Gate interface {
	// Reason is reported when the gate rejects a rule.
	Reason() Reason

	// Allow reports whether the rule passes this condition for the given input.
	Allow(rule *Rule, input EvaluationInput) bool
}

// DefaultGates returns the production gate chain in evaluation order.
func DefaultGates() []Gate {
	return []Gate{
		statusGate{},
		dateWindowGate{},
		userOnlyGate{},
		ruleLimitGate{},
		userLimitGate{},
		couponGate{},
		subtotalGate{},
		quantityGate{},
		productDependencyGate{},
		categoryDependencyGate{},
		userDependencyGate{},
		giftsGate{},
	}
}

// Observer receives one callback per evaluated rule.
// It is a diagnostic hook and cannot influence the result.
type Observer interface {
	RuleEvaluated(ruleID int64, eligible bool, reason Reason)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ruleID int64, eligible bool, reason Reason)

// RuleEvaluated implements Observer.
func (f ObserverFunc) RuleEvaluated(ruleID int64, eligible bool, reason Reason) {
	f(ruleID, eligible, reason)
}
