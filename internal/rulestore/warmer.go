package rulestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/rafaeljc/giftrules/internal/cache"
)

// Refresher reloads the active set unconditionally. *Service satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (*cache.ActiveSet, error)
}

// Warmer reloads the active rule set on a fixed interval, shorter than the
// cache TTL, so storefront requests never find the set expired.
type Warmer struct {
	source   Refresher
	logger   *slog.Logger
	interval time.Duration
}

// NewWarmer creates a Warmer. Intervals below one second fall back to 30s.
func NewWarmer(logger *slog.Logger, source Refresher, interval time.Duration) *Warmer {
	if source == nil {
		panic("rulestore: refresher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval < time.Second {
		interval = 30 * time.Second
	}

	return &Warmer{
		source:   source,
		logger:   logger,
		interval: interval,
	}
}

// Run warms the cache once immediately and then on every tick.
// It blocks until ctx is cancelled. Failures are logged and retried on the next tick.
func (w *Warmer) Run(ctx context.Context) {
	w.logger.Info("starting rules warmer", slog.String("interval", w.interval.String()))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if err := w.warm(ctx); err != nil {
		w.logger.Error("initial rules warm-up failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rules warmer stopping")
			return
		case <-ticker.C:
			if err := w.warm(ctx); err != nil {
				w.logger.Warn("rules warm-up failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Warmer) warm(ctx context.Context) error {
	start := time.Now()

	set, err := w.source.Refresh(ctx)
	if err != nil {
		return err
	}

	w.logger.Debug("rules warmed",
		slog.Int("active_rules", len(set.Rules)),
		slog.Int64("revision", set.Revision),
		slog.String("duration", time.Since(start).String()),
	)
	return nil
}
