package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/giftrules/internal/logger"
	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

const (
	// HeaderAPIKey carries the admin API key.
	HeaderAPIKey = "X-API-Key"

	// HeaderUserID identifies an authenticated shopper. Absent means guest.
	HeaderUserID = "X-User-ID"
)

// routeUnmatched labels requests that hit no route, so scanners cannot blow up metric cardinality.
const routeUnmatched = "unmatched"

// RequestLogger creates a middleware that logs the end of each request.
// It also stores a request-scoped logger (tagged with the request id) in the context.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Get RequestID set by Chi's RequestID middleware
		reqID := middleware.GetReqID(r.Context())
		log := slog.Default().With(slog.String("request_id", reqID))
		r = r.WithContext(logger.WithContext(r.Context(), log))

		// Wrap the ResponseWriter to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Info for success, Warn for 4xx, Error for 5xx
		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		log.Log(r.Context(), level, "HTTP request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", time.Since(start).String()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// RequestMetrics records request totals and latency labelled by route pattern.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// The pattern is only complete once routing has finished.
		route := routeUnmatched
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = strings.TrimSuffix(pattern, "/")
				if route == "" {
					route = "/"
				}
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.APIReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		observability.APIReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// authenticateAPIKey compares the SHA-256 of the X-API-Key header with the configured hash.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(HeaderAPIKey)
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{Code: "ERR_UNAUTHORIZED", Message: "Missing API key"})
			return
		}

		sum := sha256.Sum256([]byte(key))
		got := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(a.apiKeyHash))) != 1 {
			logger.FromContext(r.Context()).Warn("rejected invalid API key")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{Code: "ERR_UNAUTHORIZED", Message: "Invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

type shopperKey struct{}

// shopperContext resolves the shopper from X-User-ID and tags the request logger with the session.
func (a *API) shopperContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := ruleengine.UserContext{ID: ruleengine.GuestUserID}

		if raw := strings.TrimSpace(r.Header.Get(HeaderUserID)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id < 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_USER", Message: "X-User-ID must be a non-negative integer"})
				return
			}
			user.ID = id
		}

		ctx := context.WithValue(r.Context(), shopperKey{}, user)
		ctx = logger.With(ctx,
			slog.String("session_id", chi.URLParam(r, "session")),
			slog.Int64("user_id", user.ID),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func shopperFrom(ctx context.Context) ruleengine.UserContext {
	user, _ := ctx.Value(shopperKey{}).(ruleengine.UserContext)
	return user
}
