package config

import (
	"fmt"
	"time"
)

const (
	minRulesCacheTTL = time.Second
	maxRulesCacheTTL = 10 * time.Minute
)

// RulesConfig tunes the in-memory cache of active gift rules.
type RulesConfig struct {
	// CacheTTL bounds how long a node may serve rules it has not reloaded.
	// Writes through the admin API invalidate the cache immediately.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"45s"`

	// CacheCapacity is the otter hard cap (entries, not bytes).
	CacheCapacity int `envconfig:"CACHE_CAPACITY" default:"64" validate:"min=1"`

	// WarmInterval is how often the active set is reloaded in the background.
	// Zero disables the warmer.
	WarmInterval time.Duration `envconfig:"WARM_INTERVAL" default:"30s"`
}

// Validate checks the cache TTL window and keeps the warmer ahead of expiry.
func (c *RulesConfig) Validate() error {
	if c.CacheTTL < minRulesCacheTTL || c.CacheTTL > maxRulesCacheTTL {
		return fmt.Errorf("rules cache TTL must be between %s and %s, got %s", minRulesCacheTTL, maxRulesCacheTTL, c.CacheTTL)
	}
	if c.WarmInterval < 0 {
		return fmt.Errorf("rules warm interval cannot be negative, got %s", c.WarmInterval)
	}
	if c.WarmInterval > 0 && c.WarmInterval < minRulesCacheTTL {
		return fmt.Errorf("rules warm interval must be at least %s, got %s", minRulesCacheTTL, c.WarmInterval)
	}
	// A warmer slower than the TTL lets the cache expire between runs.
	if c.WarmInterval >= c.CacheTTL {
		return fmt.Errorf("rules warm interval (%s) must be shorter than the cache TTL (%s)", c.WarmInterval, c.CacheTTL)
	}
	return nil
}
