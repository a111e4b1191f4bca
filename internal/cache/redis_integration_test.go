//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/giftrules/internal/cache"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/testsupport"
)

func TestRedisStructures_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	client := redisCtr.Client

	// 2. Scenarios

	t.Run("Should start the rules revision at zero and bump it atomically", func(t *testing.T) {
		rev := cache.NewRevisionCounter(client, "rev-test")

		current, err := rev.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), current)

		next, err := rev.Bump(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), next)

		current, err = rev.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), current)
	})

	t.Run("Should keep the usage revision apart from the rules revision", func(t *testing.T) {
		usage := cache.NewUsageRevisionCounter(client, "rev-test")

		_, err := usage.Bump(ctx)
		require.NoError(t, err)
		got, err := usage.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)

		rules, err := cache.NewRevisionCounter(client, "rev-test").Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rules, "bumping usage should not move the rules revision")

		exists, err := client.Exists(ctx, "rev-test:usage:revision").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
	})

	sessions := cache.NewSessionStore(client, "giftrules", time.Hour)

	t.Run("Should report a miss for an unknown session", func(t *testing.T) {
		_, found, err := sessions.Load(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Should round trip a session entry under stable field names", func(t *testing.T) {
		entry := cache.SessionEntry{
			Eligibility: ruleengine.Eligibility{
				7: {Rule: ruleengine.Rule{ID: 7, Name: "Welcome"}, Gifts: []int64{101, 102}, Allowed: 2},
			},
			RulesRevision:   4,
			UsageRevision:   9,
			CartFingerprint: "abc123",
			ValidUntil:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}

		require.NoError(t, sessions.Save(ctx, "s1", entry))

		got, found, err := sessions.Load(ctx, "s1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(4), got.RulesRevision)
		assert.Equal(t, int64(9), got.UsageRevision)
		assert.Equal(t, "abc123", got.CartFingerprint)
		assert.True(t, entry.ValidUntil.Equal(got.ValidUntil))
		assert.False(t, got.Expired(entry.ValidUntil.Add(-time.Nanosecond)))
		assert.True(t, got.Expired(entry.ValidUntil))
		require.Contains(t, got.Eligibility, int64(7))
		assert.Equal(t, []int64{101, 102}, got.Eligibility[7].Gifts)
		assert.Equal(t, 2, got.Eligibility[7].Allowed)

		fields, err := client.HKeys(ctx, "giftrules:session:s1").Result()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"available_gifts", "rules_rev", "usage_rev", "cart_fp", "valid_until"}, fields)

		ttl, err := client.TTL(ctx, "giftrules:session:s1").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 59*time.Minute)
	})

	t.Run("Should store an empty eligibility as an empty object", func(t *testing.T) {
		require.NoError(t, sessions.Save(ctx, "s2", cache.SessionEntry{RulesRevision: 1}))

		raw, err := client.HGet(ctx, "giftrules:session:s2", "available_gifts").Result()
		require.NoError(t, err)
		assert.Equal(t, "{}", raw)

		got, found, err := sessions.Load(ctx, "s2")
		require.NoError(t, err)
		require.True(t, found)
		assert.NotNil(t, got.Eligibility)
		assert.Empty(t, got.Eligibility)
		assert.True(t, got.ValidUntil.IsZero(), "no date boundary should never expire")
		assert.False(t, got.Expired(time.Now().Add(24*time.Hour)))
	})

	t.Run("Should surface corrupted entries as errors", func(t *testing.T) {
		require.NoError(t, client.HSet(ctx, "giftrules:session:bad", "available_gifts", "{not json").Err())

		_, found, err := sessions.Load(ctx, "bad")
		assert.Error(t, err)
		assert.False(t, found)
	})

	t.Run("Should clear a session", func(t *testing.T) {
		require.NoError(t, sessions.Clear(ctx, "s1"))

		_, found, err := sessions.Load(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, found)
	})
}
