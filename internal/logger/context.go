package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// WithContext stores a request-scoped logger. The API middleware calls it once per request.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext never returns nil: outside a request it yields slog.Default(),
// so store and cache code can log without checking.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With enriches the context's logger with attrs and stores it back.
// Handlers use it to tag every line of a request with the shopper session.
func With(ctx context.Context, attrs ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(attrs...))
}
