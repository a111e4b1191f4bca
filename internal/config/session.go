package config

import (
	"fmt"
	"strings"
	"time"
)

// SessionConfig configures the Redis-backed shopper session (cart and cached eligibility).
type SessionConfig struct {
	// TTL is refreshed on every write. It is a storage bound, not an invalidation mechanism.
	TTL time.Duration `envconfig:"TTL" default:"48h" validate:"min=1m"`

	// KeyPrefix namespaces every session key in Redis.
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"giftrules"`

	// ServeStale returns the last cached eligibility when rules cannot be loaded.
	ServeStale bool `envconfig:"SERVE_STALE" default:"true"`

	// MaxTxRetries bounds optimistic transaction retries on concurrent cart writes.
	MaxTxRetries int `envconfig:"MAX_TX_RETRIES" default:"5" validate:"min=1,max=50"`
}

// Validate checks the key prefix is usable as a Redis key segment.
func (c *SessionConfig) Validate() error {
	if err := validateNoWhitespace(c.KeyPrefix, "session key prefix"); err != nil {
		return err
	}
	if strings.Contains(c.KeyPrefix, ":") {
		return fmt.Errorf("session key prefix cannot contain ':'")
	}
	return nil
}
