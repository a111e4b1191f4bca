package giftcart

import (
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// GiftOption is one selectable reward of an offer.
type GiftOption struct {
	ProductID int64 `json:"product_id"`
	Selected  bool  `json:"selected"`

	// LineKey points at the cart line holding this gift, when selected.
	LineKey string `json:"line_key,omitempty"`
}

// RuleAvailability is the presentation state of one eligible rule.
type RuleAvailability struct {
	RuleID          int64                      `json:"rule_id"`
	Name            string                     `json:"name"`
	Description     string                     `json:"description,omitempty"`
	Allowed         int                        `json:"allowed"`
	Selected        int                        `json:"selected"`
	Disabled        bool                       `json:"disabled"`
	DisplayLocation ruleengine.DisplayLocation `json:"display_location"`
	ItemsPerRow     int                        `json:"items_per_row"`
	Gifts           []GiftOption               `json:"gifts"`
}

// GiftsInCart maps rule id -> gift product id -> line key.
// Variation gifts are keyed by their variation id.
func GiftsInCart(items []ruleengine.LineItem) map[int64]map[int64]string {
	mapped := make(map[int64]map[int64]string)
	for _, item := range items {
		if !item.IsGift() {
			continue
		}
		productID := item.ProductID
		if item.VariationID != 0 {
			productID = item.VariationID
		}
		if mapped[item.Gift.RuleID] == nil {
			mapped[item.Gift.RuleID] = make(map[int64]string)
		}
		if _, exists := mapped[item.Gift.RuleID][productID]; !exists {
			mapped[item.Gift.RuleID][productID] = item.Key
		}
	}
	return mapped
}

// Availability combines eligibility with the gifts already in the cart.
// A rule is disabled once its allowance is used up. Rules are ordered by id,
// gifts keep the rule's configured order.
func Availability(eligibility ruleengine.Eligibility, items []ruleengine.LineItem) []RuleAvailability {
	inCart := GiftsInCart(items)
	selected := countGiftSelections(items)

	result := make([]RuleAvailability, 0, len(eligibility))
	for _, offer := range eligibility.Offers() {
		ruleID := offer.Rule.ID
		view := RuleAvailability{
			RuleID:          ruleID,
			Name:            offer.Rule.Name,
			Description:     offer.Rule.Description,
			Allowed:         offer.Allowed,
			Selected:        selected[ruleID],
			Disabled:        selected[ruleID] >= offer.Allowed,
			DisplayLocation: offer.Rule.DisplayLocation,
			ItemsPerRow:     offer.Rule.ItemsPerRow,
			Gifts:           make([]GiftOption, 0, len(offer.Gifts)),
		}
		for _, productID := range offer.Gifts {
			key, ok := inCart[ruleID][productID]
			view.Gifts = append(view.Gifts, GiftOption{ProductID: productID, Selected: ok, LineKey: key})
		}
		result = append(result, view)
	}
	return result
}
