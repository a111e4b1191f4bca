package cart

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/rafaeljc/giftrules/internal/giftcart"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Compile-time check to verify that Session implements giftcart.Cart.
var _ giftcart.Cart = (*Session)(nil)

// Session is the cart of one shopper session.
type Session struct {
	store *Store
	id    string
	user  ruleengine.UserContext
}

// Session binds a cart to a session id and the shopper browsing it.
func (s *Store) Session(sessionID string, user ruleengine.UserContext) *Session {
	return &Session{store: s, id: sessionID, user: user}
}

// ID returns the session id.
func (c *Session) ID() string { return c.id }

// User returns the shopper of the session. User id 0 is a guest.
func (c *Session) User() ruleengine.UserContext { return c.user }

func (c *Session) Items(ctx context.Context) ([]ruleengine.LineItem, error) {
	doc, err := c.store.load(ctx, c.store.client, c.id)
	if err != nil {
		return nil, err
	}
	return doc.Items, nil
}

// Add stores the line and returns its key. A regular line matching an existing
// one is merged into it by adding quantities.
func (c *Session) Add(ctx context.Context, item ruleengine.LineItem) (string, error) {
	if item.Quantity < 1 {
		return "", ErrInvalidQuantity
	}
	item.Key = LineKey(item)

	err := c.store.update(ctx, c.id, func(doc *document) error {
		if i := doc.index(item.Key); i >= 0 {
			doc.Items[i].Quantity += item.Quantity
			return nil
		}
		if len(doc.Items) >= c.store.maxItems {
			return ErrCartFull
		}
		doc.Items = append(doc.Items, item)
		return nil
	})
	if err != nil {
		return "", err
	}
	return item.Key, nil
}

func (c *Session) Remove(ctx context.Context, key string) (bool, error) {
	var removed bool
	err := c.store.update(ctx, c.id, func(doc *document) error {
		removed = false
		if i := doc.index(key); i >= 0 {
			doc.Items = slices.Delete(doc.Items, i, i+1)
			removed = true
		}
		return nil
	})
	return removed, err
}

func (c *Session) SetQuantity(ctx context.Context, key string, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return c.store.update(ctx, c.id, func(doc *document) error {
		i := doc.index(key)
		if i < 0 {
			return ErrLineNotFound
		}
		doc.Items[i].Quantity = qty
		return nil
	})
}

func (c *Session) SetPrice(ctx context.Context, key string, price decimal.Decimal) error {
	return c.store.update(ctx, c.id, func(doc *document) error {
		i := doc.index(key)
		if i < 0 {
			return ErrLineNotFound
		}
		doc.Items[i] = repriced(doc.Items[i], price)
		return nil
	})
}

// ApplyCoupon records a discount code. Applying the same code twice is a no-op.
func (c *Session) ApplyCoupon(ctx context.Context, code string) error {
	code = normalizeCoupon(code)
	return c.store.update(ctx, c.id, func(doc *document) error {
		if !slices.Contains(doc.Coupons, code) {
			doc.Coupons = append(doc.Coupons, code)
		}
		return nil
	})
}

// RemoveCoupon drops a discount code. It reports false when the code was not applied.
func (c *Session) RemoveCoupon(ctx context.Context, code string) (bool, error) {
	code = normalizeCoupon(code)
	var removed bool
	err := c.store.update(ctx, c.id, func(doc *document) error {
		removed = false
		if i := slices.Index(doc.Coupons, code); i >= 0 {
			doc.Coupons = slices.Delete(doc.Coupons, i, i+1)
			removed = true
		}
		return nil
	})
	return removed, err
}

// Empty removes every line and coupon.
func (c *Session) Empty(ctx context.Context) error {
	return c.store.delete(ctx, c.id)
}

// Snapshot reads the cart as the evaluator sees it. Categories are left for the caller to resolve.
func (c *Session) Snapshot(ctx context.Context) (ruleengine.CartSnapshot, error) {
	doc, err := c.store.load(ctx, c.store.client, c.id)
	if err != nil {
		return ruleengine.CartSnapshot{}, err
	}
	return ruleengine.CartSnapshot{
		Items:          doc.Items,
		Subtotal:       subtotal(doc.Items, c.store.includeTax),
		AppliedCoupons: doc.Coupons,
	}, nil
}
