// Package logger builds the service's slog logger: JSON for machines, text for
// people, with the service identity on every line and secrets never printed.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rafaeljc/giftrules/internal/config"
)

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"api_key":        {},
	"api_key_hash":   {},
	"authorization":  {},
	"database_url":   {},
	"password":       {},
	"redis_password": {},
}

// New writes to stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds the logger on w. Unknown formats fall back to JSON and
// unknown levels to INFO, so a typo in the environment never silences the service.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.LogLevel),
		AddSource:   cfg.Environment != config.EnvironmentProduction,
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// replaceAttr hides secrets and prints durations as "45s" rather than nanoseconds,
// since TTLs and intervals are what operators read in these logs.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindDuration {
		return slog.String(a.Key, a.Value.Duration().String())
	}
	return a
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
