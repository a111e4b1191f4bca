package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RevisionCounter is a cluster-wide generation number kept in Redis. Cached session
// eligibility records the revisions it was computed at and is stale once either moves.
type RevisionCounter struct {
	client redis.Cmdable
	key    string
	name   string
}

// NewRevisionCounter creates the rules revision, stored at "<prefix>:rules:revision".
// Every rule write bumps it.
func NewRevisionCounter(client redis.Cmdable, prefix string) *RevisionCounter {
	return newRevisionCounter(client, prefix+":rules:revision", "rules")
}

// NewUsageRevisionCounter creates the usage revision, stored at "<prefix>:usage:revision".
// Every order that records gift redemptions bumps it, since usage limits may now be reached.
func NewUsageRevisionCounter(client redis.Cmdable, prefix string) *RevisionCounter {
	return newRevisionCounter(client, prefix+":usage:revision", "usage")
}

func newRevisionCounter(client redis.Cmdable, key, name string) *RevisionCounter {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RevisionCounter{client: client, key: key, name: name}
}

// Current returns the revision, or 0 when it was never bumped.
func (r *RevisionCounter) Current(ctx context.Context) (int64, error) {
	rev, err := r.client.Get(ctx, r.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s revision: %w", r.name, err)
	}
	return rev, nil
}

// Bump increments the revision atomically and returns the new value.
func (r *RevisionCounter) Bump(ctx context.Context) (int64, error) {
	rev, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump %s revision: %w", r.name, err)
	}
	return rev, nil
}
