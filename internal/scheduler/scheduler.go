// Package scheduler decides when a session's gift eligibility is re-evaluated.
// Storefront events map to an action: serve the cached eligibility, evaluate
// the cart again, or clear the cache. Cached results are keyed to the rules and
// usage revisions and a fingerprint of the cart, so any rule write, recorded
// redemption or cart change invalidates them without an explicit purge. They
// also expire at the next rule date boundary.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rafaeljc/giftrules/internal/cache"
	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Event is a storefront trigger.
type Event string

const (
	// EventPageView is a cart or checkout view. A fresh cached result is reused.
	EventPageView Event = "page_view"
	// EventCartLoaded fires when a cart is restored from a persisted session.
	EventCartLoaded Event = "cart_loaded"
	// EventCartUpdated fires after any line or coupon change.
	EventCartUpdated Event = "cart_updated"
	// EventCartEmptied fires after the cart was emptied.
	EventCartEmptied Event = "cart_emptied"
	// EventOrderCompleted fires once the order of the session was placed.
	EventOrderCompleted Event = "order_completed"
)

// ErrUnknownEvent is returned for events outside the documented list.
var ErrUnknownEvent = errors.New("unknown scheduler event")

// Outcome describes how an event was served.
type Outcome string

const (
	OutcomeCached    Outcome = "cached"
	OutcomeEvaluated Outcome = "evaluated"
	OutcomeStale     Outcome = "stale"
	OutcomeCleared   Outcome = "cleared"
	OutcomeFailed    Outcome = "failed"
)

// Session is the cart being evaluated. *cart.Session satisfies it.
type Session interface {
	ID() string
	User() ruleengine.UserContext
	Snapshot(ctx context.Context) (ruleengine.CartSnapshot, error)
}

// RuleSource provides the compiled active rules. *rulestore.Service satisfies it.
type RuleSource interface {
	Active(ctx context.Context) (*cache.ActiveSet, error)
}

// UsageSource loads redemption counters. *store.PostgresStore satisfies it.
type UsageSource interface {
	UsageSnapshot(ctx context.Context, ruleIDs []int64, userID int64) (ruleengine.UsageSnapshot, error)
}

// CategorySource resolves product categories. catalog.Reader satisfies it.
type CategorySource interface {
	CategoryIDs(ctx context.Context, productIDs []int64) (map[int64][]int64, error)
}

// Revisions reads a current revision. *cache.RevisionCounter satisfies it.
type Revisions interface {
	Current(ctx context.Context) (int64, error)
}

// SessionCache persists the last eligibility of a session. *cache.SessionStore satisfies it.
type SessionCache interface {
	Load(ctx context.Context, sessionID string) (*cache.SessionEntry, bool, error)
	Save(ctx context.Context, sessionID string, entry cache.SessionEntry) error
	Clear(ctx context.Context, sessionID string) error
}

// Evaluator is the pure eligibility function. *ruleengine.Engine satisfies it.
type Evaluator interface {
	Evaluate(rules []ruleengine.Rule, input ruleengine.EvaluationInput) ruleengine.Eligibility
}

// Dependencies groups the collaborators of a Scheduler.
type Dependencies struct {
	Rules      RuleSource
	Usage      UsageSource
	Categories CategorySource
	Revisions  Revisions
	// UsageRevisions moves whenever redemptions are recorded.
	UsageRevisions Revisions
	Sessions       SessionCache
	Engine         Evaluator
}

// Result is the eligibility produced for an event, with the cart it was computed from.
type Result struct {
	Eligibility ruleengine.Eligibility
	Outcome     Outcome
	// Cart is the snapshot read for the event. It is empty for clearing events.
	Cart ruleengine.CartSnapshot
}

// Scheduler routes storefront events to the evaluator and the session cache.
type Scheduler struct {
	deps       Dependencies
	logger     *slog.Logger
	now        func() time.Time
	serveStale bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithServeStale returns the last cached eligibility when rules or usage cannot be loaded.
func WithServeStale(enabled bool) Option {
	return func(s *Scheduler) {
		s.serveStale = enabled
	}
}

// New creates a Scheduler. If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, deps Dependencies, opts ...Option) *Scheduler {
	switch {
	case deps.Rules == nil:
		panic("scheduler: rule source cannot be nil")
	case deps.Usage == nil:
		panic("scheduler: usage source cannot be nil")
	case deps.Categories == nil:
		panic("scheduler: category source cannot be nil")
	case deps.Revisions == nil:
		panic("scheduler: revisions cannot be nil")
	case deps.UsageRevisions == nil:
		panic("scheduler: usage revisions cannot be nil")
	case deps.Sessions == nil:
		panic("scheduler: session cache cannot be nil")
	case deps.Engine == nil:
		panic("scheduler: evaluator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle reacts to ev for the given session.
// It never returns a nil Eligibility: on failure the result holds an empty map
// (or the stale cached one) together with the error.
func (s *Scheduler) Handle(ctx context.Context, ev Event, sess Session) (Result, error) {
	log := s.logger.With(
		slog.String("event", string(ev)),
		slog.String("session_id", sess.ID()),
	)

	res, err := s.handle(ctx, ev, sess, log)
	if res.Eligibility == nil {
		res.Eligibility = ruleengine.Eligibility{}
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		log.Error("failed to handle scheduler event", slog.String("error", err.Error()))
	}
	observability.SchedulerEventsTotal.WithLabelValues(string(ev), string(res.Outcome)).Inc()
	return res, err
}

func (s *Scheduler) handle(ctx context.Context, ev Event, sess Session, log *slog.Logger) (Result, error) {
	switch ev {
	case EventCartEmptied, EventOrderCompleted:
		if err := s.deps.Sessions.Clear(ctx, sess.ID()); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeCleared}, nil
	case EventPageView, EventCartLoaded, EventCartUpdated:
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}

	// 1. Read the live cart
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read cart: %w", err)
	}
	user := sess.User()
	fp := Fingerprint(snap, user)

	// 2. Reuse a fresh cached result on page views
	var cached *cache.SessionEntry
	if ev == EventPageView {
		cached = s.loadCached(ctx, sess.ID(), log)
		if cached != nil && s.fresh(ctx, cached, fp, log) {
			return Result{Eligibility: cached.Eligibility, Outcome: OutcomeCached, Cart: snap}, nil
		}
	}

	// 3. Evaluate
	entry, err := s.evaluate(ctx, snap, user)
	if err != nil {
		if !s.serveStale {
			return Result{Cart: snap}, err
		}
		if cached == nil {
			cached = s.loadCached(ctx, sess.ID(), log)
		}
		if cached == nil {
			return Result{Cart: snap}, err
		}
		log.Warn("serving stale eligibility", slog.String("error", err.Error()))
		return Result{Eligibility: cached.Eligibility, Outcome: OutcomeStale, Cart: snap}, nil
	}

	// 4. Cache the result for the next page view
	entry.CartFingerprint = fp
	if err := s.deps.Sessions.Save(ctx, sess.ID(), entry); err != nil {
		log.Warn("failed to cache eligibility", slog.String("error", err.Error()))
	}

	log.Debug("eligibility evaluated",
		slog.Int("eligible_rules", len(entry.Eligibility)),
		slog.Int64("rules_revision", entry.RulesRevision),
		slog.Int64("usage_revision", entry.UsageRevision),
	)
	return Result{Eligibility: entry.Eligibility, Outcome: OutcomeEvaluated, Cart: snap}, nil
}

// evaluate loads every input and runs the engine. The returned entry carries the
// revisions the inputs were read at and the next date boundary of the rules.
func (s *Scheduler) evaluate(ctx context.Context, snap ruleengine.CartSnapshot, user ruleengine.UserContext) (cache.SessionEntry, error) {
	// Read before the counters: a redemption landing mid-evaluation leaves the entry stale.
	usageRev, err := s.deps.UsageRevisions.Current(ctx)
	if err != nil {
		return cache.SessionEntry{}, fmt.Errorf("failed to read usage revision: %w", err)
	}

	set, err := s.deps.Rules.Active(ctx)
	if err != nil {
		return cache.SessionEntry{}, fmt.Errorf("failed to load active rules: %w", err)
	}

	ruleIDs := make([]int64, len(set.Rules))
	for i := range set.Rules {
		ruleIDs[i] = set.Rules[i].ID
	}

	// Usage and categories are independent; fetch them concurrently.
	var (
		usage      ruleengine.UsageSnapshot
		categories map[int64][]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		usage, err = s.deps.Usage.UsageSnapshot(gctx, ruleIDs, user.ID)
		if err != nil {
			return fmt.Errorf("failed to load usage: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		categories, err = s.deps.Categories.CategoryIDs(gctx, productIDs(snap.Items))
		if err != nil {
			return fmt.Errorf("failed to resolve categories: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return cache.SessionEntry{}, err
	}
	snap.Categories = categories

	now := s.now()
	start := time.Now()
	eligibility := s.deps.Engine.Evaluate(set.Rules, ruleengine.EvaluationInput{
		Cart:  snap,
		User:  user,
		Usage: usage,
		Now:   now,
	})
	observability.EngineEvaluationDuration.Observe(time.Since(start).Seconds())

	return cache.SessionEntry{
		Eligibility:   eligibility,
		RulesRevision: set.Revision,
		UsageRevision: usageRev,
		ValidUntil:    ruleengine.NextBoundary(set.Rules, now),
	}, nil
}

// fresh reports whether a cached entry still describes the live cart: same cart,
// no rule write, no recorded redemption and no date boundary crossed since.
func (s *Scheduler) fresh(ctx context.Context, entry *cache.SessionEntry, fp string, log *slog.Logger) bool {
	if entry.CartFingerprint != fp || entry.Expired(s.now()) {
		return false
	}
	return s.revisionMatches(ctx, s.deps.Revisions, entry.RulesRevision, log) &&
		s.revisionMatches(ctx, s.deps.UsageRevisions, entry.UsageRevision, log)
}

// loadCached returns the cached entry, or nil when there is none or it cannot be read.
func (s *Scheduler) loadCached(ctx context.Context, sessionID string, log *slog.Logger) *cache.SessionEntry {
	entry, found, err := s.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		log.Warn("ignoring unreadable cached eligibility", slog.String("error", err.Error()))
		return nil
	}
	if !found {
		return nil
	}
	return entry
}

// revisionMatches reports whether rev is still the current revision of counter.
// An unreadable revision counts as a mismatch.
func (s *Scheduler) revisionMatches(ctx context.Context, counter Revisions, rev int64, log *slog.Logger) bool {
	current, err := counter.Current(ctx)
	if err != nil {
		log.Warn("failed to read revision", slog.String("error", err.Error()))
		return false
	}
	return current == rev
}

// productIDs lists every product and variation id in the cart, for category resolution.
func productIDs(items []ruleengine.LineItem) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, item := range items {
		add(item.ProductID)
		add(item.VariationID)
	}
	return ids
}
