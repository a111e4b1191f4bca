package ruleengine

import (
	"slices"
)

// Offer is what an eligible rule grants the shopper.
type Offer struct {
	Rule    Rule    `json:"rule"`
	Gifts   []int64 `json:"gifts"`
	Allowed int     `json:"allowed"`
}

// HasGift reports whether productID is one of the offer's rewards.
func (o Offer) HasGift(productID int64) bool {
	return slices.Contains(o.Gifts, productID)
}

// Eligibility maps rule id to the offer of every rule that passed evaluation.
// A rule that failed any gate is absent.
type Eligibility map[int64]Offer

// RuleIDs returns the eligible rule ids in ascending order.
func (e Eligibility) RuleIDs() []int64 {
	ids := make([]int64, 0, len(e))
	for id := range e {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Offers returns the offers ordered by rule id.
func (e Eligibility) Offers() []Offer {
	offers := make([]Offer, 0, len(e))
	for _, id := range e.RuleIDs() {
		offers = append(offers, e[id])
	}
	return offers
}

// Lookup returns the offer of ruleID if productID is among its gifts.
func (e Eligibility) Lookup(ruleID, productID int64) (Offer, bool) {
	offer, ok := e[ruleID]
	if !ok || !offer.HasGift(productID) {
		return Offer{}, false
	}
	return offer, true
}
