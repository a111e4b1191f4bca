// Package giftcart authorizes gift selections against the shopper's eligibility
// and keeps gift lines in the cart free and single-quantity.
package giftcart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Cart is the line storage the controller mutates.
// Items must be returned in insertion order.
type Cart interface {
	Items(ctx context.Context) ([]ruleengine.LineItem, error)

	// Add stores a new line and returns its key. An implementation that fails
	// after the line became visible returns the key together with the error.
	Add(ctx context.Context, item ruleengine.LineItem) (string, error)

	// Remove deletes a line. It reports false when the key does not exist.
	Remove(ctx context.Context, key string) (bool, error)

	SetQuantity(ctx context.Context, key string, qty int) error

	// SetPrice sets the unit price of a line, its sale price and its tax.
	SetPrice(ctx context.Context, key string, price decimal.Decimal) error
}

// ProductLookup resolves gift products. catalog.Reader satisfies it.
type ProductLookup interface {
	Product(ctx context.Context, id int64) (*catalog.Product, error)
}

// RedemptionLedger records gift usage when an order completes.
type RedemptionLedger interface {
	// RecordRedemptions adds counts (rule id -> gifts) for the order.
	// It reports false when the order had already been recorded.
	RecordRedemptions(ctx context.Context, orderID string, userID int64, counts map[int64]int) (bool, error)
}

// UsageRevisions is bumped after redemptions were recorded, so cached eligibility
// computed against the old counters is re-evaluated. *cache.RevisionCounter satisfies it.
type UsageRevisions interface {
	Bump(ctx context.Context) (int64, error)
}

// AddGiftRequest identifies the gift a shopper selected.
type AddGiftRequest struct {
	RuleID    int64
	ProductID int64
}

// Controller implements the gift cart operations.
type Controller struct {
	products        ProductLookup
	ledger          RedemptionLedger
	logger          *slog.Logger
	usageRevisions  UsageRevisions
	pruneIneligible bool
	newInstanceID   func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithPruneIneligible removes gift lines whose rule is no longer eligible
// (or that exceed the rule's allowance) during Recalculate.
func WithPruneIneligible(enabled bool) Option {
	return func(c *Controller) {
		c.pruneIneligible = enabled
	}
}

// WithUsageRevisions bumps r whenever CompleteOrder records redemptions.
func WithUsageRevisions(r UsageRevisions) Option {
	return func(c *Controller) {
		c.usageRevisions = r
	}
}

// WithInstanceIDs overrides the gift instance id generator.
func WithInstanceIDs(gen func() string) Option {
	return func(c *Controller) {
		c.newInstanceID = gen
	}
}

// New creates a Controller. If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, products ProductLookup, ledger RedemptionLedger, opts ...Option) *Controller {
	if products == nil {
		panic("giftcart: product lookup cannot be nil")
	}
	if ledger == nil {
		panic("giftcart: redemption ledger cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		products:      products,
		ledger:        ledger,
		logger:        logger,
		newInstanceID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddGift adds the selected gift as a zero-priced line tagged with the rule.
// On any failure the cart is left exactly as it was.
func (c *Controller) AddGift(ctx context.Context, cart Cart, eligibility ruleengine.Eligibility, user ruleengine.UserContext, req AddGiftRequest) (ruleengine.LineItem, error) {
	log := c.logger.With(
		slog.Int64("rule_id", req.RuleID),
		slog.Int64("product_id", req.ProductID),
		slog.Int64("user_id", user.ID),
	)

	// 1. Parameters
	if req.RuleID <= 0 || req.ProductID <= 0 {
		return ruleengine.LineItem{}, newError(KindMissingParameters, nil)
	}

	// 2. Authorization against the current eligibility
	offer, ok := eligibility.Lookup(req.RuleID, req.ProductID)
	if !ok {
		log.Info("gift not available for shopper")
		return ruleengine.LineItem{}, newError(KindGiftNotAvailable, nil)
	}

	// 3. Per-rule allowance
	items, err := cart.Items(ctx)
	if err != nil {
		return ruleengine.LineItem{}, newError(KindCouldNotAdd, fmt.Errorf("failed to read cart: %w", err))
	}
	if selected := countGiftSelections(items)[req.RuleID]; selected >= offer.Allowed {
		return ruleengine.LineItem{}, &Error{Kind: KindLimitReached, Allowed: offer.Allowed}
	}

	// 4. Catalogue checks
	product, err := c.products.Product(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return ruleengine.LineItem{}, newError(KindProductUnavailable, nil)
		}
		return ruleengine.LineItem{}, newError(KindProductUnavailable, err)
	}
	if !product.Published() {
		return ruleengine.LineItem{}, newError(KindProductUnavailable, nil)
	}
	if !product.InStock {
		return ruleengine.LineItem{}, newError(KindOutOfStock, nil)
	}

	// 5. Build the line. Variations are added against their parent.
	line := ruleengine.LineItem{
		ProductID: product.ID,
		Quantity:  1,
		Price:     decimal.Zero,
		SalePrice: decimal.NewNullDecimal(decimal.Zero),
		Tax:       decimal.Zero,
		Gift: &ruleengine.GiftTag{
			RuleID:     req.RuleID,
			InstanceID: c.newInstanceID(),
		},
	}
	if product.IsVariation() {
		line.ProductID = product.ParentID
		line.VariationID = product.ID
		line.Attributes = product.Attributes
	}

	// 6. Persist, rolling back a line that became visible before the failure.
	key, err := cart.Add(ctx, line)
	if err != nil {
		if key != "" {
			if _, rbErr := cart.Remove(ctx, key); rbErr != nil {
				log.Error("failed to roll back partially added gift",
					slog.String("line_key", key),
					slog.String("error", rbErr.Error()),
				)
			}
		}
		return ruleengine.LineItem{}, newError(KindCouldNotAdd, err)
	}
	line.Key = key

	log.Info("gift added to cart", slog.String("line_key", key))
	return line, nil
}

// RemoveGift deletes a gift line. Regular lines are not reachable through this operation.
func (c *Controller) RemoveGift(ctx context.Context, cart Cart, lineKey string) error {
	if lineKey == "" {
		return newError(KindMissingParameters, nil)
	}

	items, err := cart.Items(ctx)
	if err != nil {
		return newError(KindCouldNotRemove, fmt.Errorf("failed to read cart: %w", err))
	}
	line, ok := findLine(items, lineKey)
	if !ok || !line.IsGift() {
		return newError(KindNotFound, nil)
	}

	removed, err := cart.Remove(ctx, lineKey)
	if err != nil {
		return newError(KindCouldNotRemove, err)
	}
	if !removed {
		return newError(KindNotFound, nil)
	}

	c.logger.Info("gift removed from cart",
		slog.String("line_key", lineKey),
		slog.Int64("rule_id", line.Gift.RuleID),
	)
	return nil
}

// ValidateQuantityUpdate rejects any quantity other than 1 for gift lines.
// Regular lines are always accepted.
func (c *Controller) ValidateQuantityUpdate(ctx context.Context, cart Cart, lineKey string, qty int) error {
	items, err := cart.Items(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cart: %w", err)
	}
	line, ok := findLine(items, lineKey)
	if !ok {
		return newError(KindNotFound, nil)
	}
	if line.IsGift() && qty != 1 {
		return newError(KindQuantityLocked, nil)
	}
	return nil
}

// CompleteOrder records one redemption per gift line of the order's cart.
// Completing the same order twice records nothing the second time.
func (c *Controller) CompleteOrder(ctx context.Context, cart Cart, user ruleengine.UserContext, orderID string) (map[int64]int, error) {
	if orderID == "" {
		return nil, newError(KindMissingParameters, nil)
	}

	items, err := cart.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	counts := countGiftSelections(items)
	if len(counts) == 0 {
		return counts, nil
	}

	recorded, err := c.ledger.RecordRedemptions(ctx, orderID, user.ID, counts)
	if err != nil {
		return nil, fmt.Errorf("failed to record redemptions for order %s: %w", orderID, err)
	}
	if !recorded {
		c.logger.Warn("order redemptions already recorded", slog.String("order_id", orderID))
		return map[int64]int{}, nil
	}

	c.logger.Info("gift redemptions recorded",
		slog.String("order_id", orderID),
		slog.Int64("user_id", user.ID),
		slog.Int("rules", len(counts)),
	)

	// The redemptions are durable at this point; a failed bump only delays
	// re-evaluation of other sessions until their cart or the rules change.
	if c.usageRevisions != nil {
		if _, err := c.usageRevisions.Bump(ctx); err != nil {
			c.logger.Warn("failed to bump usage revision",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return counts, nil
}

// countGiftSelections counts gift lines per rule id. Each line is one selection
// whatever its quantity; Recalculate brings quantities back to 1.
func countGiftSelections(items []ruleengine.LineItem) map[int64]int {
	counts := make(map[int64]int)
	for _, item := range items {
		if item.IsGift() {
			counts[item.Gift.RuleID]++
		}
	}
	return counts
}

func findLine(items []ruleengine.LineItem, key string) (ruleengine.LineItem, bool) {
	for _, item := range items {
		if item.Key == key {
			return item, true
		}
	}
	return ruleengine.LineItem{}, false
}
