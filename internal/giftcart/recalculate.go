package giftcart

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Adjustments lists the line keys touched by Recalculate.
type Adjustments struct {
	Repriced     []string `json:"repriced,omitempty"`
	Requantified []string `json:"requantified,omitempty"`
	Pruned       []string `json:"pruned,omitempty"`
}

// Changed reports whether Recalculate modified the cart.
func (a Adjustments) Changed() bool {
	return len(a.Repriced) > 0 || len(a.Requantified) > 0 || len(a.Pruned) > 0
}

// Recalculate enforces the gift line invariants before totals are computed:
// every gift line is free and holds quantity 1. With pruning enabled and a
// known eligibility, gift lines no longer backed by an offer are removed.
// Running it twice in a row changes nothing the second time.
func (c *Controller) Recalculate(ctx context.Context, cart Cart, eligibility ruleengine.Eligibility) (Adjustments, error) {
	var adj Adjustments

	items, err := cart.Items(ctx)
	if err != nil {
		return adj, fmt.Errorf("failed to read cart: %w", err)
	}

	kept := make(map[int64]int)
	for _, item := range items {
		if !item.IsGift() {
			continue
		}

		if c.pruneIneligible && eligibility != nil && !c.backedByOffer(item, eligibility, kept) {
			if _, err := cart.Remove(ctx, item.Key); err != nil {
				return adj, fmt.Errorf("failed to prune gift line %s: %w", item.Key, err)
			}
			adj.Pruned = append(adj.Pruned, item.Key)
			continue
		}

		if item.Quantity != 1 {
			if err := cart.SetQuantity(ctx, item.Key, 1); err != nil {
				return adj, fmt.Errorf("failed to reset gift quantity on %s: %w", item.Key, err)
			}
			adj.Requantified = append(adj.Requantified, item.Key)
		}

		if !isFree(item) {
			if err := cart.SetPrice(ctx, item.Key, decimal.Zero); err != nil {
				return adj, fmt.Errorf("failed to zero gift price on %s: %w", item.Key, err)
			}
			adj.Repriced = append(adj.Repriced, item.Key)
		}
	}

	if adj.Changed() {
		c.logger.Info("gift lines adjusted",
			slog.Int("repriced", len(adj.Repriced)),
			slog.Int("requantified", len(adj.Requantified)),
			slog.Int("pruned", len(adj.Pruned)),
		)
	}
	return adj, nil
}

// backedByOffer reports whether a gift line still has a slot in its rule's offer.
// kept counts the slots already used by earlier lines of the same rule.
func (c *Controller) backedByOffer(item ruleengine.LineItem, eligibility ruleengine.Eligibility, kept map[int64]int) bool {
	productID := item.ProductID
	if item.VariationID != 0 {
		productID = item.VariationID
	}

	offer, ok := eligibility.Lookup(item.Gift.RuleID, productID)
	if !ok || kept[item.Gift.RuleID] >= offer.Allowed {
		return false
	}
	kept[item.Gift.RuleID]++
	return true
}

func isFree(item ruleengine.LineItem) bool {
	if !item.Price.IsZero() || !item.Tax.IsZero() {
		return false
	}
	return !item.SalePrice.Valid || item.SalePrice.Decimal.IsZero()
}
