// Package main initializes and runs the gift rules API.
//
// It acts as the composition root: it loads configuration, connects to
// Postgres and Redis, wires the rule store, cart store, scheduler and gift
// controller into the HTTP API, and handles the server lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaeljc/giftrules/internal/api"
	"github.com/rafaeljc/giftrules/internal/cache"
	"github.com/rafaeljc/giftrules/internal/cart"
	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/config"
	"github.com/rafaeljc/giftrules/internal/database"
	"github.com/rafaeljc/giftrules/internal/giftcart"
	"github.com/rafaeljc/giftrules/internal/logger"
	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/rulestore"
	"github.com/rafaeljc/giftrules/internal/scheduler"
	"github.com/rafaeljc/giftrules/internal/store"
)

// poolMonitorInterval is how often connection pool statistics are exported.
const poolMonitorInterval = 15 * time.Second

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)
	go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)

	ruleCache, err := cache.NewRuleCache(cfg.Rules.CacheCapacity, cfg.Rules.CacheTTL)
	if err != nil {
		return fmt.Errorf("failed to create rules cache: %w", err)
	}
	defer ruleCache.Close()

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	repo := store.NewPostgresStore(pool)
	products := catalog.NewPostgresCatalog(pool)
	revisions := cache.NewRevisionCounter(redisClient, cfg.Session.KeyPrefix)
	usageRevisions := cache.NewUsageRevisionCounter(redisClient, cfg.Session.KeyPrefix)
	sessions := cache.NewSessionStore(redisClient, cfg.Session.KeyPrefix, cfg.Session.TTL)

	rules := rulestore.New(log, repo, ruleCache, revisions)
	if cfg.Rules.WarmInterval > 0 {
		go rulestore.NewWarmer(log, rules, cfg.Rules.WarmInterval).Run(ctx)
	}
	carts := cart.NewStore(log, redisClient, &cfg.Session, &cfg.Cart)
	engine := ruleengine.New(log, ruleengine.WithObserver(observability.EngineObserver{}))

	sched := scheduler.New(log, scheduler.Dependencies{
		Rules:          rules,
		Usage:          repo,
		Categories:     products,
		Revisions:      revisions,
		UsageRevisions: usageRevisions,
		Sessions:       sessions,
		Engine:         engine,
	}, scheduler.WithServeStale(cfg.Session.ServeStale))

	gifts := giftcart.New(log, products, repo,
		giftcart.WithPruneIneligible(cfg.Cart.PruneIneligibleGifts),
		giftcart.WithUsageRevisions(usageRevisions),
	)

	deps := api.Dependencies{
		Rules: rules,
		Carts: func(sessionID string, user ruleengine.UserContext) api.Cart {
			return carts.Session(sessionID, user)
		},
		Scheduler: sched,
		Gifts:     gifts,
		Products:  products,
	}

	// Admin auth is only optional outside production (config validation enforces the hash there).
	skipAuth := cfg.Server.APIKeyHash == ""
	if skipAuth {
		log.Warn("admin API key not configured, rule endpoints are unauthenticated")
	}
	handler := api.NewWithConfig(deps, cfg.Server.APIKeyHash, skipAuth,
		api.WithRequestTimeout(cfg.Server.RequestTimeout),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithMaxQuantity(cfg.Cart.MaxLineQuantity),
	)

	// -------------------------------------------------------------------------
	// 4. Servers
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient, cfg.Session.KeyPrefix),
	)
	obsServer.Start()

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting api server",
			slog.String("addr", srv.Addr),
			slog.Bool("tls", cfg.Server.TLSEnabled),
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("api server failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop api server", slog.String("error", err.Error()))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop observability server", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("service exited successfully")
	return nil
}
