package api_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafaeljc/giftrules/internal/api"
	"github.com/rafaeljc/giftrules/internal/cart"
	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/scheduler"
	"github.com/rafaeljc/giftrules/internal/store"
)

// --- Rules ---

type fakeRules struct {
	mu     sync.Mutex
	rules  map[int64]*ruleengine.Rule
	nextID int64
}

func newFakeRules() *fakeRules {
	return &fakeRules{rules: make(map[int64]*ruleengine.Rule)}
}

func (f *fakeRules) List(_ context.Context, limit, offset int) ([]*ruleengine.Rule, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, 0, len(f.rules))
	for id := range f.rules {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []*ruleengine.Rule
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, f.rules[ids[i]])
	}
	return out, int64(len(ids)), nil
}

func (f *fakeRules) Get(_ context.Context, id int64) (*ruleengine.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, store.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRules) Create(_ context.Context, r *ruleengine.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r.ID = f.nextID
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	f.rules[r.ID] = &cp
	return nil
}

func (f *fakeRules) Update(_ context.Context, r *ruleengine.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[r.ID]; !ok {
		return store.ErrRuleNotFound
	}
	cp := *r
	f.rules[r.ID] = &cp
	return nil
}

func (f *fakeRules) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[id]; !ok {
		return store.ErrRuleNotFound
	}
	delete(f.rules, id)
	return nil
}

func (f *fakeRules) SetStatus(_ context.Context, id int64, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return store.ErrRuleNotFound
	}
	r.Enabled = enabled
	return nil
}

// --- Carts ---

// memCart is an in-memory cart with the same line key and merge rules as the Redis store.
type memCart struct {
	mu      sync.Mutex
	id      string
	user    ruleengine.UserContext
	items   []ruleengine.LineItem
	coupons []string
}

var _ api.Cart = (*memCart)(nil)

func (c *memCart) ID() string                   { return c.id }
func (c *memCart) User() ruleengine.UserContext { return c.user }

func (c *memCart) Items(context.Context) ([]ruleengine.LineItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items), nil
}

func (c *memCart) Add(_ context.Context, item ruleengine.LineItem) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item.Quantity < 1 {
		return "", cart.ErrInvalidQuantity
	}
	item.Key = cart.LineKey(item)
	for i := range c.items {
		if c.items[i].Key == item.Key {
			c.items[i].Quantity += item.Quantity
			return item.Key, nil
		}
	}
	c.items = append(c.items, item)
	return item.Key, nil
}

func (c *memCart) Remove(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].Key == key {
			c.items = slices.Delete(c.items, i, i+1)
			return true, nil
		}
	}
	return false, nil
}

func (c *memCart) SetQuantity(_ context.Context, key string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].Key == key {
			c.items[i].Quantity = qty
			return nil
		}
	}
	return cart.ErrLineNotFound
}

func (c *memCart) SetPrice(_ context.Context, key string, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].Key == key {
			c.items[i].Price = price
			c.items[i].SalePrice = decimal.NewNullDecimal(price)
			if price.IsZero() {
				c.items[i].Tax = decimal.Zero
			}
			return nil
		}
	}
	return cart.ErrLineNotFound
}

func (c *memCart) ApplyCoupon(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	code = strings.ToLower(strings.TrimSpace(code))
	if !slices.Contains(c.coupons, code) {
		c.coupons = append(c.coupons, code)
	}
	return nil
}

func (c *memCart) RemoveCoupon(_ context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code = strings.ToLower(strings.TrimSpace(code))
	i := slices.Index(c.coupons, code)
	if i < 0 {
		return false, nil
	}
	c.coupons = slices.Delete(c.coupons, i, i+1)
	return true, nil
}

func (c *memCart) Empty(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.coupons = nil
	return nil
}

func (c *memCart) Snapshot(context.Context) (ruleengine.CartSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := ruleengine.CartSnapshot{
		Items:          slices.Clone(c.items),
		Subtotal:       decimal.Zero,
		AppliedCoupons: slices.Clone(c.coupons),
	}
	for _, item := range c.items {
		price := item.Price
		if item.SalePrice.Valid {
			price = item.SalePrice.Decimal
		}
		snap.Subtotal = snap.Subtotal.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return snap, nil
}

type cartRegistry struct {
	mu    sync.Mutex
	carts map[string]*memCart
}

func (r *cartRegistry) open(sessionID string, user ruleengine.UserContext) api.Cart {
	return r.get(sessionID, user)
}

func (r *cartRegistry) get(sessionID string, user ruleengine.UserContext) *memCart {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[sessionID]
	if !ok {
		c = &memCart{id: sessionID}
		r.carts[sessionID] = c
	}
	c.user = user
	return c
}

// --- Scheduler ---

type fakeScheduler struct {
	mu          sync.Mutex
	eligibility ruleengine.Eligibility
	outcome     scheduler.Outcome
	err         error
	events      []scheduler.Event
	// byEvent overrides the eligibility returned for specific events.
	byEvent map[scheduler.Event]ruleengine.Eligibility
}

func (s *fakeScheduler) set(elig ruleengine.Eligibility, outcome scheduler.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eligibility, s.outcome, s.err = elig, outcome, err
}

func (s *fakeScheduler) setFor(ev scheduler.Event, elig ruleengine.Eligibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byEvent == nil {
		s.byEvent = make(map[scheduler.Event]ruleengine.Eligibility)
	}
	s.byEvent[ev] = elig
}

func (s *fakeScheduler) seen() []scheduler.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *fakeScheduler) Handle(ctx context.Context, ev scheduler.Event, sess scheduler.Session) (scheduler.Result, error) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	elig, outcome, err := s.eligibility, s.outcome, s.err
	if override, ok := s.byEvent[ev]; ok {
		elig = override
	}
	s.mu.Unlock()

	if ev == scheduler.EventCartEmptied || ev == scheduler.EventOrderCompleted {
		return scheduler.Result{Eligibility: ruleengine.Eligibility{}, Outcome: scheduler.OutcomeCleared}, nil
	}

	snap, snapErr := sess.Snapshot(ctx)
	if snapErr != nil {
		return scheduler.Result{Eligibility: ruleengine.Eligibility{}, Outcome: scheduler.OutcomeFailed}, snapErr
	}
	if err != nil {
		return scheduler.Result{Eligibility: ruleengine.Eligibility{}, Outcome: scheduler.OutcomeFailed, Cart: snap}, err
	}
	if outcome == "" {
		outcome = scheduler.OutcomeEvaluated
	}
	if elig == nil {
		elig = ruleengine.Eligibility{}
	}
	return scheduler.Result{Eligibility: elig, Outcome: outcome, Cart: snap}, nil
}

// --- Catalogue & ledger ---

type fakeProducts map[int64]*catalog.Product

func (f fakeProducts) Product(_ context.Context, id int64) (*catalog.Product, error) {
	p, ok := f[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func (f fakeProducts) CategoryIDs(context.Context, []int64) (map[int64][]int64, error) {
	return map[int64][]int64{}, nil
}

type fakeLedger struct {
	mu     sync.Mutex
	orders map[string]map[int64]int
}

func (l *fakeLedger) RecordRedemptions(_ context.Context, orderID string, _ int64, counts map[int64]int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.orders[orderID]; done {
		return false, nil
	}
	l.orders[orderID] = counts
	return true, nil
}
