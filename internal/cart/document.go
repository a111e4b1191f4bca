package cart

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// document is the JSON value stored per session. Items keep insertion order.
type document struct {
	Items     []ruleengine.LineItem `json:"items"`
	Coupons   []string              `json:"coupons,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

func (d *document) index(key string) int {
	return slices.IndexFunc(d.Items, func(l ruleengine.LineItem) bool { return l.Key == key })
}

// LineKey derives the deterministic key of a line.
// Regular lines with the same product, variation and attributes share a key and
// therefore merge; gift lines also hash their rule and instance id so every
// selection stays a distinct line.
func LineKey(item ruleengine.LineItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d", item.ProductID, item.VariationID)

	for _, name := range slices.Sorted(maps.Keys(item.Attributes)) {
		fmt.Fprintf(&b, "|%s=%s", name, item.Attributes[name])
	}
	if item.IsGift() {
		fmt.Fprintf(&b, "#gift:%d:%s", item.Gift.RuleID, item.Gift.InstanceID)
	}

	h1, h2 := murmur3.Sum128([]byte(b.String()))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// NewLine builds a regular line for a catalogue product.
// Variations are stored against their parent with the variation signature.
func NewLine(product *catalog.Product, qty int) ruleengine.LineItem {
	line := ruleengine.LineItem{
		ProductID: product.ID,
		Quantity:  qty,
		Price:     product.Price,
		Tax:       product.Price.Mul(product.TaxRate).Round(4),
	}
	if product.IsVariation() {
		line.ProductID = product.ParentID
		line.VariationID = product.ID
		line.Attributes = product.Attributes
	}
	return line
}

// unitPrice is the price a shopper pays for one unit: the sale price when set.
func unitPrice(item ruleengine.LineItem) decimal.Decimal {
	if item.SalePrice.Valid {
		return item.SalePrice.Decimal
	}
	return item.Price
}

// subtotal sums the contents, adding per-unit tax when prices are shown with tax.
func subtotal(items []ruleengine.LineItem, includeTax bool) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		unit := unitPrice(item)
		if includeTax {
			unit = unit.Add(item.Tax)
		}
		total = total.Add(unit.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// normalizeCoupon trims and lowercases a discount code. Codes are case-insensitive.
func normalizeCoupon(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// repriced returns the line with a new unit price. Tax follows the price proportionally,
// so a zero price always carries zero tax.
func repriced(item ruleengine.LineItem, price decimal.Decimal) ruleengine.LineItem {
	switch {
	case price.IsZero():
		item.Tax = decimal.Zero
	case !item.Price.IsZero():
		item.Tax = item.Tax.Mul(price).Div(item.Price).Round(4)
	}
	item.Price = price
	item.SalePrice = decimal.NewNullDecimal(price)
	return item
}
