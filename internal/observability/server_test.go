package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/giftrules/internal/config"
)

type stubChecker struct {
	name string
	err  error
}

func (c stubChecker) Name() string                  { return c.name }
func (c stubChecker) Check(_ context.Context) error { return c.err }

// slowChecker blocks until the probe context expires.
type slowChecker struct{}

func (slowChecker) Name() string { return "slow" }
func (slowChecker) Check(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func testObservabilityConfig() *config.ObservabilityConfig {
	return &config.ObservabilityConfig{
		Port:          "0",
		Timeout:       50 * time.Millisecond,
		LivenessPath:  "/healthz",
		ReadinessPath: "/readyz",
		MetricsPath:   "/metrics",
	}
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name        string
		checkers    []Checker
		wantStatus  int
		wantReady   string
		wantUp      map[string]string
		wantErrText map[string]string
	}{
		{
			name:       "Should be ready when every dependency is up",
			checkers:   []Checker{stubChecker{name: "postgres"}, stubChecker{name: "redis"}},
			wantStatus: http.StatusOK,
			wantReady:  "ready",
			wantUp:     map[string]string{"postgres": "up", "redis": "up"},
		},
		{
			name:        "Should report 503 when one dependency is down",
			checkers:    []Checker{stubChecker{name: "postgres"}, stubChecker{name: "redis", err: errors.New("connection refused")}},
			wantStatus:  http.StatusServiceUnavailable,
			wantReady:   "not_ready",
			wantUp:      map[string]string{"postgres": "up", "redis": "down"},
			wantErrText: map[string]string{"redis": "connection refused"},
		},
		{
			name:        "Should honour the probe timeout",
			checkers:    []Checker{slowChecker{}},
			wantStatus:  http.StatusServiceUnavailable,
			wantReady:   "not_ready",
			wantUp:      map[string]string{"slow": "down"},
			wantErrText: map[string]string{"slow": "context deadline exceeded"},
		},
		{
			name: "Should accept plain check functions",
			checkers: []Checker{CheckFunc{Component: "catalog", Fn: func(context.Context) error {
				return errors.New("schema not migrated")
			}}},
			wantStatus:  http.StatusServiceUnavailable,
			wantReady:   "not_ready",
			wantUp:      map[string]string{"catalog": "down"},
			wantErrText: map[string]string{"catalog": "schema not migrated"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := NewServer(quiet, testObservabilityConfig(), tt.checkers...)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body readinessResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantReady, body.Status)

			got := make(map[string]string, len(body.Components))
			for name, c := range body.Components {
				got[name] = c.Status
			}
			assert.Equal(t, tt.wantUp, got)

			for name, text := range tt.wantErrText {
				assert.Contains(t, body.Components[name].Error, text)
			}
		})
	}

	t.Run("Should answer liveness without touching dependencies", func(t *testing.T) {
		t.Parallel()

		srv := NewServer(quiet, testObservabilityConfig(), stubChecker{name: "redis", err: errors.New("down")})
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("Should expose prometheus metrics", func(t *testing.T) {
		t.Parallel()

		EngineObserver{}.RuleEvaluated(1, false, "subtotal")

		srv := NewServer(quiet, testObservabilityConfig())
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `giftrules_engine_rule_decisions_total{reason="subtotal",result="rejected"}`)
	})
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, testObservabilityConfig())
	assert.NoError(t, srv.Shutdown(context.Background()))
}
