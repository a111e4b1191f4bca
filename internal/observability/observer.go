package observability

import (
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Compile-time check to verify that EngineObserver implements ruleengine.Observer.
var _ ruleengine.Observer = EngineObserver{}

// EngineObserver feeds per-rule decisions into EngineRuleDecisions.
type EngineObserver struct{}

// RuleEvaluated implements ruleengine.Observer.
func (EngineObserver) RuleEvaluated(_ int64, eligible bool, reason ruleengine.Reason) {
	if eligible {
		EngineRuleDecisions.WithLabelValues("eligible", "").Inc()
		return
	}
	EngineRuleDecisions.WithLabelValues("rejected", string(reason)).Inc()
}
