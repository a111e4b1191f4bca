package scheduler

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Fingerprint hashes every cart attribute the evaluator reads: lines in order,
// coupons, subtotal and the shopper. Equal fingerprints mean an evaluation would
// see the same cart.
func Fingerprint(snap ruleengine.CartSnapshot, user ruleengine.UserContext) string {
	h := murmur3.New128()

	// Write never returns an error on a hash.
	_, _ = fmt.Fprintf(h, "u=%d;s=%s;", user.ID, snap.Subtotal.String())

	for _, code := range slices.Sorted(slices.Values(snap.AppliedCoupons)) {
		_, _ = fmt.Fprintf(h, "c=%s;", code)
	}

	for _, item := range snap.Items {
		_, _ = fmt.Fprintf(h, "l=%s,%d,%d,%d", item.Key, item.ProductID, item.VariationID, item.Quantity)
		for _, name := range slices.Sorted(maps.Keys(item.Attributes)) {
			_, _ = fmt.Fprintf(h, ",%s=%s", name, item.Attributes[name])
		}
		if item.IsGift() {
			_, _ = fmt.Fprintf(h, ",g=%d", item.Gift.RuleID)
		}
		_, _ = fmt.Fprint(h, ";")
	}

	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}
