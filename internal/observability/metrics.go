package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., giftrules_...).
const namespace = "giftrules"

// lowLatencyBuckets resolves in-process work (rule evaluation, cache reads).
// Standard buckets start at 5ms, which is too coarse for a pure function.
// Range: 50µs to 250ms.
var lowLatencyBuckets = []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .010, .025, .050, .250}

var (
	// -------------------------------------------------------------------------
	// HTTP API
	// -------------------------------------------------------------------------

	// APIReqDuration measures the latency of HTTP requests.
	// Metric: giftrules_api_http_handling_seconds
	APIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// APIReqTotal counts the total number of HTTP requests.
	// Metric: giftrules_api_http_requests_total
	APIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// RULE ENGINE
	// -------------------------------------------------------------------------

	// EngineEvaluationDuration measures one full evaluation of a cart against the active rules.
	EngineEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "evaluation_duration_seconds",
		Help:      "Time taken to evaluate a cart against all active rules",
		Buckets:   lowLatencyBuckets,
	})

	// EngineRuleDecisions counts per-rule outcomes. reason is empty for eligible rules.
	EngineRuleDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rule_decisions_total",
		Help:      "Rule evaluation outcomes by result and rejection reason",
	}, []string{"result", "reason"})

	// -------------------------------------------------------------------------
	// GIFT CART
	// -------------------------------------------------------------------------

	// GiftOperationsTotal counts gift mutations. result is "ok" or the error kind.
	GiftOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gifts",
		Name:      "operations_total",
		Help:      "Gift add/remove/checkout operations by result",
	}, []string{"operation", "result"})

	// GiftRedemptionsTotal counts gifts recorded against usage limits.
	GiftRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gifts",
		Name:      "redemptions_total",
		Help:      "Total gifts redeemed through completed orders",
	})

	// GiftLinesAdjustedTotal counts lines fixed by recalculation (repriced, requantified, pruned).
	GiftLinesAdjustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gifts",
		Name:      "lines_adjusted_total",
		Help:      "Gift lines corrected during cart recalculation",
	}, []string{"adjustment"})

	// -------------------------------------------------------------------------
	// RULES CACHE (L1, otter)
	// -------------------------------------------------------------------------

	RulesCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "cache_hits_total",
		Help:      "Total active-rules cache hits (in-memory)",
	})

	RulesCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "cache_misses_total",
		Help:      "Total active-rules cache misses",
	})

	RulesCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "cache_invalidations_total",
		Help:      "Total explicit invalidations triggered by rule writes",
	})

	// RulesSkipped counts stored rules that failed to compile and were left out of evaluation.
	RulesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "skipped_total",
		Help:      "Total invalid rules skipped while loading the active set",
	})

	// RulesActive reports the size of the last loaded active set.
	RulesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "active_count",
		Help:      "Number of active rules in the last loaded set",
	})

	// -------------------------------------------------------------------------
	// SCHEDULER
	// -------------------------------------------------------------------------

	// SchedulerEventsTotal counts trigger events by how they were served
	// (cached, evaluated, stale, cleared, failed).
	SchedulerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "events_total",
		Help:      "Trigger events handled by the evaluation scheduler",
	}, []string{"event", "outcome"})

	// -------------------------------------------------------------------------
	// INFRASTRUCTURE
	// -------------------------------------------------------------------------

	// DependencyUp is 1 when the last readiness check of a component passed.
	DependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "readiness",
		Name:      "dependency_up",
		Help:      "Result of the last readiness check per dependency (1 up, 0 down)",
	}, []string{"component"})

	// DatabasePoolConnections reports pgxpool connection states (total, idle, in_use, max).
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "PostgreSQL pool connections by state",
	}, []string{"state"})

	// The pgxpool counters are cumulative; the monitor mirrors them into gauges.
	DatabasePoolAcquireCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Cumulative successful connection acquisitions",
	})

	DatabasePoolAcquireDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections",
	})

	DatabasePoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Cumulative acquisitions that had to wait for a free connection",
	})

	// RedisPoolConnections reports go-redis connection states (total, idle, stale).
	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Redis pool connections by state",
	}, []string{"state"})

	RedisPoolHits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_hits_total",
		Help:      "Cumulative times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_misses_total",
		Help:      "Cumulative times a new connection had to be dialed",
	})

	RedisPoolTimeouts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_timeouts_total",
		Help:      "Cumulative times a connection could not be obtained within PoolTimeout",
	})
)
