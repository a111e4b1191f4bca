// Package database provides the PostgreSQL connection factory.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/giftrules/internal/config"
	"github.com/rafaeljc/giftrules/internal/logger"
	"github.com/rafaeljc/giftrules/internal/observability"
)

// NewPostgresPool initializes a PostgreSQL connection pool from the given configuration.
// It returns the pool directly, allowing the caller to manage the lifecycle via Dependency Injection.
// The first ping is retried with exponential backoff so the service tolerates a database
// that starts after it.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	// 1. Parse the connection string
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 2. Pool tuning
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	poolCfg.ConnConfig.ConnectTimeout = connectTimeout
	for k, v := range cfg.RuntimeParams() {
		poolCfg.ConnConfig.RuntimeParams[k] = v
	}

	// 3. Create the pool. pgxpool connects lazily, so this only fails on bad config.
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// 4. Verify connectivity with retries
	maxRetries := max(1, cfg.PingMaxRetries)
	backoff := cfg.PingBackoff
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("connected to postgres", slog.Int("attempt", attempt))
			return pool, nil
		}

		log.Warn("postgres ping failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.String("error", lastErr.Error()),
		)

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, fmt.Errorf("database connection aborted: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, lastErr)
}

// RunPoolMonitor mirrors pgxpool statistics into Prometheus gauges every interval.
// It blocks until ctx is cancelled and is meant to run as a sidecar goroutine.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		recordPoolStats(pool.Stat())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordPoolStats(stat *pgxpool.Stat) {
	observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
	observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
	observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

	observability.DatabasePoolAcquireCount.Set(float64(stat.AcquireCount()))
	observability.DatabasePoolAcquireDuration.Set(stat.AcquireDuration().Seconds())
	observability.DatabasePoolWaitCount.Set(float64(stat.EmptyAcquireCount()))
}
