//go:build integration

package observability_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/giftrules/internal/cache"
	"github.com/rafaeljc/giftrules/internal/config"
	"github.com/rafaeljc/giftrules/internal/database"
	"github.com/rafaeljc/giftrules/internal/logger"
	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/testsupport"
)

type readiness struct {
	Status     string `json:"status"`
	Components map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"components"`
}

func TestObservabilityServer_Integration(t *testing.T) {
	ctx := context.Background()

	// 1. Infrastructure
	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	dbPool, err := pgxpool.New(ctx, pgContainer.ConnectionString)
	require.NoError(t, err)
	defer dbPool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: redisContainer.Addr})
	defer redisClient.Close()

	// 2. Server on non-default paths, so hardcoded routes would fail
	port, err := getFreePort()
	require.NoError(t, err)

	obsCfg := &config.ObservabilityConfig{
		Port:          fmt.Sprintf("%d", port),
		Timeout:       time.Second,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
	}
	log := logger.New(&config.AppConfig{
		Name:        "giftrules-test",
		Version:     "v0.0.0-test",
		Environment: "development",
		LogLevel:    "debug",
		LogFormat:   "text",
	})

	server := observability.NewServer(log, obsCfg,
		database.NewHealthChecker(dbPool),
		cache.NewHealthChecker(redisClient, "itest"),
	)
	server.Start()
	defer func() { _ = server.Shutdown(ctx) }()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + obsCfg.LivenessPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond, "server failed to start")

	getReadiness := func(t *testing.T) (int, readiness) {
		t.Helper()
		resp, err := http.Get(baseURL + obsCfg.ReadinessPath)
		require.NoError(t, err)
		defer resp.Body.Close()

		var body readiness
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	// 3. Assertions, ordered from healthy to broken
	t.Run("Should expose metrics on the configured path", func(t *testing.T) {
		resp, err := http.Get(baseURL + obsCfg.MetricsPath)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "go_goroutines")
		assert.Contains(t, string(body), "giftrules_")
	})

	t.Run("Should be ready with a migrated schema and a clean revision key", func(t *testing.T) {
		code, body := getReadiness(t)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, "up", body.Components["postgres"].Status)
		assert.Equal(t, "up", body.Components["redis"].Status)
	})

	t.Run("Should stay ready after the rules revision was bumped", func(t *testing.T) {
		_, err := cache.NewRevisionCounter(redisClient, "itest").Bump(ctx)
		require.NoError(t, err)

		code, _ := getReadiness(t)
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("Should report redis down when the revision key is corrupted", func(t *testing.T) {
		require.NoError(t, redisClient.Set(ctx, "itest:rules:revision", "not-a-number", 0).Err())
		defer redisClient.Del(ctx, "itest:rules:revision")

		code, body := getReadiness(t)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "down", body.Components["redis"].Status)
		assert.Contains(t, body.Components["redis"].Error, "rules revision")
		assert.Equal(t, "up", body.Components["postgres"].Status)
	})

	t.Run("Should report postgres down when a table is missing", func(t *testing.T) {
		_, err := dbPool.Exec(ctx, `ALTER TABLE products RENAME TO products_old`)
		require.NoError(t, err)
		defer dbPool.Exec(ctx, `ALTER TABLE products_old RENAME TO products`)

		code, body := getReadiness(t)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "not_ready", body.Status)
		assert.Contains(t, body.Components["postgres"].Error, "products")
	})

	t.Run("Should report redis down when the server stops", func(t *testing.T) {
		require.NoError(t, redisContainer.Container.Stop(ctx, nil))

		code, body := getReadiness(t)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "down", body.Components["redis"].Status)
	})
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
