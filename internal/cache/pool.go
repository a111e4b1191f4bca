package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/giftrules/internal/observability"
)

// RunPoolMonitor mirrors go-redis pool statistics into Prometheus gauges every interval.
// It blocks until ctx is cancelled.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats := client.PoolStats()

		observability.RedisPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns))
		observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns))
		observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(stats.StaleConns))
		observability.RedisPoolHits.Set(float64(stats.Hits))
		observability.RedisPoolMisses.Set(float64(stats.Misses))
		observability.RedisPoolTimeouts.Set(float64(stats.Timeouts))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
