package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// HealthChecker reports Redis as ready when it answers and the rules revision
// counter that every session cache depends on is readable.
type HealthChecker struct {
	client    *redis.Client
	revisions *RevisionCounter
}

func NewHealthChecker(client *redis.Client, keyPrefix string) *HealthChecker {
	if client == nil {
		return &HealthChecker{}
	}
	return &HealthChecker{client: client, revisions: NewRevisionCounter(client, keyPrefix)}
}

func (h *HealthChecker) Name() string {
	return "redis"
}

// Check fails when the revision key holds something other than an integer,
// since every storefront request would then miss the session cache.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errors.New("redis client is nil")
	}
	if err := h.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if _, err := h.revisions.Current(ctx); err != nil {
		return fmt.Errorf("rules revision unusable: %w", err)
	}
	return nil
}
