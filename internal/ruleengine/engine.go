package ruleengine

import (
	"log/slog"
	"slices"
)

// Engine is the orchestrator for gift eligibility evaluation.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	gates    []Gate
	observer Observer
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers a diagnostic hook called once per evaluated rule.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithGates replaces the gate chain. Mostly useful in tests.
func WithGates(gates ...Gate) Option {
	return func(e *Engine) {
		e.gates = gates
	}
}

// New creates a new Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		gates:  DefaultGates(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule through the gate chain and returns the offers of
// the rules that passed. The result depends only on the arguments.
func (e *Engine) Evaluate(rules []Rule, input EvaluationInput) Eligibility {
	eligible := make(Eligibility, len(rules))

	for i := range rules {
		// Work on a copy so the caller's rule slice is never touched.
		rule := rules[i]
		if rule.ID <= 0 {
			e.logger.Warn("skipping rule with invalid id", slog.Int64("rule_id", rule.ID))
			continue
		}
		if rule.compiled == nil {
			rule.compiled = buildSets(&rule)
		}

		if reason := e.firstRejection(&rule, input); reason != ReasonEligible {
			e.logger.Debug("rule not eligible",
				slog.Int64("rule_id", rule.ID),
				slog.String("reason", string(reason)),
			)
			e.notify(rule.ID, false, reason)
			continue
		}

		eligible[rule.ID] = Offer{
			Rule:    rule,
			Gifts:   slices.Clone(rule.Gifts),
			Allowed: max(1, rule.GiftQuantity),
		}
		e.notify(rule.ID, true, ReasonEligible)
	}

	return eligible
}

func (e *Engine) firstRejection(rule *Rule, input EvaluationInput) Reason {
	for _, gate := range e.gates {
		if !gate.Allow(rule, input) {
			return gate.Reason()
		}
	}
	return ReasonEligible
}

func (e *Engine) notify(ruleID int64, eligible bool, reason Reason) {
	if e.observer == nil {
		return
	}
	e.observer.RuleEvaluated(ruleID, eligible, reason)
}
