// Package cache holds the caching layers of the gift engine: the in-memory
// active-rules cache (otter), and the Redis structures shared by every node
// (rules revision counter, per-session eligibility).
package cache

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// activeKey is the single entry the active set lives under.
const activeKey = "active"

// ActiveSet is a compiled snapshot of the rules eligible for evaluation.
// Rules is shared between readers and must be treated as read-only.
type ActiveSet struct {
	Rules    []ruleengine.Rule
	Revision int64
	LoadedAt time.Time
}

// RuleCache acts as the L1 caching layer for the active rule set, using the
// contention-free S3-FIFO algorithm provided by the 'otter' library.
type RuleCache struct {
	store otter.Cache[string, *ActiveSet]
}

// NewRuleCache initializes the in-memory cache.
// capacity: Max number of entries (Hard Cap to prevent OOM).
// ttl: Time-To-Live, the upper bound on staleness when an invalidation is missed.
func NewRuleCache(capacity int, ttl time.Duration) (*RuleCache, error) {
	cache, err := otter.MustBuilder[string, *ActiveSet](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &RuleCache{store: cache}, nil
}

// Active returns the cached active set, recording a hit or a miss.
func (c *RuleCache) Active() (*ActiveSet, bool) {
	set, ok := c.store.Get(activeKey)
	if ok {
		observability.RulesCacheHits.Inc()
	} else {
		observability.RulesCacheMisses.Inc()
	}
	return set, ok
}

// SetActive replaces the cached active set.
func (c *RuleCache) SetActive(set *ActiveSet) {
	c.store.Set(activeKey, set)
	observability.RulesActive.Set(float64(len(set.Rules)))
}

// Invalidate drops the active set so the next read reloads it.
func (c *RuleCache) Invalidate() {
	c.store.Delete(activeKey)
	observability.RulesCacheInvalidations.Inc()
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *RuleCache) Close() {
	c.store.Close()
}
