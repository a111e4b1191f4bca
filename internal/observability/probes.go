package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
)

// componentStatus is one dependency's entry in the readiness body.
type componentStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// readinessResponse is "ready" only when every component is "up".
type readinessResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components"`
}

// liveness only proves the process serves HTTP. It never touches dependencies,
// so a Postgres outage does not get the pod restarted.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel under the probe timeout.
// Any failure answers 503 so the storefront stops routing carts here.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	results := make([]componentStatus, len(s.checkers))

	var wg sync.WaitGroup
	for i, checker := range s.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.probe(ctx, checker)
		}()
	}
	wg.Wait()

	resp := readinessResponse{Status: "ready", Components: make(map[string]componentStatus, len(results))}
	for i, checker := range s.checkers {
		resp.Components[checker.Name()] = results[i]
		if results[i].Status != "up" {
			resp.Status = "not_ready"
		}
	}

	if resp.Status != "ready" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

func (s *Server) probe(ctx context.Context, c Checker) componentStatus {
	start := time.Now()
	err := c.Check(ctx)
	st := componentStatus{Status: "up", LatencyMS: time.Since(start).Milliseconds()}

	if err != nil {
		// Warn, not error: the orchestrator retries and an outage would flood the logs.
		s.logger.Warn("readiness check failed",
			slog.String("component", c.Name()),
			slog.String("error", err.Error()),
		)
		st.Status = "down"
		st.Error = err.Error()
		DependencyUp.WithLabelValues(c.Name()).Set(0)
		return st
	}

	DependencyUp.WithLabelValues(c.Name()).Set(1)
	return st
}
