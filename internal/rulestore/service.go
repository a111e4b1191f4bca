// Package rulestore is the cached facade over the rule repository.
// Reads of the active set go through an in-memory cache that is checked against
// the cluster-wide rules revision; writes invalidate the cache and bump the revision.
package rulestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rafaeljc/giftrules/internal/cache"
	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/store"
)

// loadTimeout bounds a shared load of the active set. The load runs detached from
// the request that started it, so it needs its own deadline.
const loadTimeout = 10 * time.Second

// Revisions reads and advances the rules revision.
type Revisions interface {
	Current(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
}

// Service serves active rules to the storefront and rule CRUD to the admin API.
type Service struct {
	repo      store.RuleRepository
	cache     *cache.RuleCache
	revisions Revisions
	logger    *slog.Logger
	now       func() time.Time
	loads     singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used to filter expired rules.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates the facade. If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, repo store.RuleRepository, ruleCache *cache.RuleCache, revisions Revisions, opts ...Option) *Service {
	if repo == nil {
		panic("rulestore: repository cannot be nil")
	}
	if ruleCache == nil {
		panic("rulestore: rule cache cannot be nil")
	}
	if revisions == nil {
		panic("rulestore: revisions cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		repo:      repo,
		cache:     ruleCache,
		revisions: revisions,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns the compiled active rule set.
// A cached set older than the current revision is reloaded, so a write on any
// node is visible everywhere on the next read. If the revision cannot be read,
// the cached set is served until its TTL expires.
func (s *Service) Active(ctx context.Context) (*cache.ActiveSet, error) {
	rev, revErr := s.revisions.Current(ctx)
	if revErr != nil {
		s.logger.Warn("failed to read rules revision", slog.String("error", revErr.Error()))
	}

	if set, ok := s.cache.Active(); ok && (revErr != nil || set.Revision >= rev) {
		return set, nil
	}
	return s.sharedLoad(ctx, rev)
}

// Refresh reloads the active set whatever the cache holds, so its TTL restarts.
// The background warmer calls it ahead of expiry. If the revision cannot be read,
// the cached set keeps its revision.
func (s *Service) Refresh(ctx context.Context) (*cache.ActiveSet, error) {
	rev, err := s.revisions.Current(ctx)
	if err != nil {
		s.logger.Warn("failed to read rules revision", slog.String("error", err.Error()))
		rev = 0
		if set, ok := s.cache.Active(); ok {
			rev = set.Revision
		}
	}
	return s.sharedLoad(ctx, rev)
}

// sharedLoad collapses concurrent loads into one database round trip. The load
// does not inherit the caller's cancellation: a caller that gives up returns
// its own error while the other waiters still get the result.
func (s *Service) sharedLoad(ctx context.Context, rev int64) (*cache.ActiveSet, error) {
	ch := s.loads.DoChan("active", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.load(loadCtx, rev)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for active rules: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cache.ActiveSet), nil
	}
}

// load reads, compiles and caches the active set. Invalid rules are skipped, never fatal.
func (s *Service) load(ctx context.Context, rev int64) (*cache.ActiveSet, error) {
	now := s.now()

	rules, err := s.repo.ListActiveRules(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	valid := make([]ruleengine.Rule, 0, len(rules))
	for i := range rules {
		if err := ruleengine.CompileRule(&rules[i]); err != nil {
			observability.RulesSkipped.Inc()
			s.logger.Warn("skipping invalid rule",
				slog.Int64("rule_id", rules[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		valid = append(valid, rules[i])
	}

	set := &cache.ActiveSet{Rules: valid, Revision: rev, LoadedAt: now}
	s.cache.SetActive(set)

	s.logger.Debug("active rules loaded",
		slog.Int("rules", len(valid)),
		slog.Int64("revision", rev),
	)
	return set, nil
}

// --- Admin operations ---

// List returns a page of rules and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*ruleengine.Rule, int64, error) {
	return s.repo.ListRules(ctx, limit, offset)
}

// Get returns a single rule.
func (s *Service) Get(ctx context.Context, id int64) (*ruleengine.Rule, error) {
	return s.repo.GetRule(ctx, id)
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, r *ruleengine.Rule) error {
	if err := validate(r); err != nil {
		return err
	}
	if err := s.repo.CreateRule(ctx, r); err != nil {
		return err
	}
	s.changed(ctx, "created", r.ID)
	return nil
}

// Update validates and replaces an existing rule.
func (s *Service) Update(ctx context.Context, r *ruleengine.Rule) error {
	if err := validate(r); err != nil {
		return err
	}
	if err := s.repo.UpdateRule(ctx, r); err != nil {
		return err
	}
	s.changed(ctx, "updated", r.ID)
	return nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, "deleted", id)
	return nil
}

// SetStatus enables or disables a rule.
func (s *Service) SetStatus(ctx context.Context, id int64, enabled bool) error {
	if err := s.repo.SetRuleStatus(ctx, id, enabled); err != nil {
		return err
	}
	s.changed(ctx, "status_changed", id)
	return nil
}

// changed invalidates the local cache and bumps the revision. The write already
// committed, so a failed bump is logged rather than returned: other nodes then
// converge within the cache TTL.
func (s *Service) changed(ctx context.Context, action string, ruleID int64) {
	s.cache.Invalidate()

	rev, err := s.revisions.Bump(ctx)
	if err != nil {
		s.logger.Error("failed to bump rules revision",
			slog.String("action", action),
			slog.Int64("rule_id", ruleID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("rule "+action,
		slog.Int64("rule_id", ruleID),
		slog.Int64("revision", rev),
	)
}

// validate normalises r in place and rejects values the engine cannot evaluate.
// The id is not known yet on create, so a placeholder is used for compilation.
func validate(r *ruleengine.Rule) error {
	probe := *r
	if probe.ID <= 0 {
		probe.ID = 1
	}
	if err := ruleengine.CompileRule(&probe); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidRule, err)
	}

	id := r.ID
	*r = probe
	r.ID = id
	return nil
}
