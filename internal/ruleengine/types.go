// Package ruleengine provides the core logic for free-gift eligibility.
// It evaluates a cart snapshot against the active gift rules through an ordered
// chain of gates and reports which rewards the shopper may choose.
package ruleengine

import (
	"time"

	"github.com/shopspring/decimal"
)

// GuestUserID is the identity of a shopper who is not logged in.
const GuestUserID int64 = 0

// DisplayLocation tells the storefront where a rule's gift picker is rendered.
type DisplayLocation string

const (
	DisplayCart     DisplayLocation = "cart"
	DisplayCheckout DisplayLocation = "checkout"
)

const (
	// DefaultItemsPerRow is the gift grid width used when a rule does not set one.
	DefaultItemsPerRow = 4
	MinItemsPerRow     = 1
	MaxItemsPerRow     = 6
)

// Rule is a store owner's gift rule.
// Rules are immutable input to the engine: evaluation never mutates them.
type Rule struct {
	ID          int64  `json:"id"`
	Enabled     bool   `json:"enabled"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Gifts is the ordered list of reward product ids. Order is preserved in offers.
	Gifts []int64 `json:"gifts"`

	// GiftQuantity is how many gift selections the rule grants. Normalised to >= 1.
	GiftQuantity int `json:"gift_quantity"`

	ProductDependency  []int64 `json:"product_dependency,omitempty"`
	CategoryDependency []int64 `json:"category_dependency,omitempty"`
	UserDependency     []int64 `json:"user_dependency,omitempty"`

	UserOnly          bool `json:"user_only"`
	DisableWithCoupon bool `json:"disable_with_coupon"`

	SubtotalOperator Operator         `json:"subtotal_operator,omitempty"`
	SubtotalAmount   *decimal.Decimal `json:"subtotal_amount,omitempty"`
	QtyOperator      Operator         `json:"qty_operator,omitempty"`
	QtyAmount        *int             `json:"qty_amount,omitempty"`

	LimitPerRule *int `json:"limit_per_rule,omitempty"`
	LimitPerUser *int `json:"limit_per_user,omitempty"`

	// DateFrom and DateTo are inclusive bounds. Nil means unbounded.
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	DisplayLocation DisplayLocation `json:"display_location"`
	ItemsPerRow     int             `json:"items_per_row"`

	UpdatedAt time.Time `json:"updated_at"`

	// compiled holds the lookup sets built by CompileRules. It is never serialised.
	compiled *compiledSets
}

// GiftTag marks a cart line as a free gift granted by a rule.
type GiftTag struct {
	RuleID int64 `json:"rule_id"`

	// InstanceID is unique per selection so identical gifts never merge into one line.
	InstanceID string `json:"instance_id"`
}

// LineItem is a single line of the shopper's cart.
type LineItem struct {
	Key         string            `json:"key"`
	ProductID   int64             `json:"product_id"`
	VariationID int64             `json:"variation_id,omitempty"`
	Quantity    int               `json:"quantity"`
	Attributes  map[string]string `json:"attributes,omitempty"`

	// Price is the unit price. SalePrice is set when the line carries a sale price.
	Price     decimal.Decimal     `json:"price"`
	SalePrice decimal.NullDecimal `json:"sale_price"`

	// Tax is the unit tax amount.
	Tax decimal.Decimal `json:"tax"`

	Gift *GiftTag `json:"gift,omitempty"`
}

// IsGift reports whether the line was injected by a gift rule.
func (l LineItem) IsGift() bool {
	return l.Gift != nil
}

// CartSnapshot is the read-only view of the cart used for evaluation.
type CartSnapshot struct {
	Items []LineItem `json:"items"`

	// Subtotal is the contents total, tax included when the store displays tax-inclusive prices.
	Subtotal decimal.Decimal `json:"subtotal"`

	AppliedCoupons []string `json:"applied_coupons,omitempty"`

	// Categories maps a line's product id to its category ids.
	// Variations resolve to their parent product's categories.
	Categories map[int64][]int64 `json:"categories,omitempty"`
}

// TotalQuantity sums the quantity of every line, gift lines included.
func (c CartSnapshot) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// UserContext identifies the shopper being evaluated.
type UserContext struct {
	ID int64 `json:"id"`
}

// Authenticated reports whether the shopper is logged in.
func (u UserContext) Authenticated() bool {
	return u.ID != GuestUserID
}

// UsageReader exposes redemption counters already loaded for an evaluation.
type UsageReader interface {
	// Total is the sum of redemptions of a rule across all users.
	Total(ruleID int64) int
	// ForUser is the number of redemptions of a rule by one user.
	ForUser(ruleID, userID int64) int
}

// UsageSnapshot is an in-memory UsageReader filled by the usage ledger.
type UsageSnapshot struct {
	Totals  map[int64]int
	PerUser map[int64]int
	UserID  int64
}

// Total implements UsageReader.
func (s UsageSnapshot) Total(ruleID int64) int {
	return s.Totals[ruleID]
}

// ForUser implements UsageReader. Counters are only known for the snapshot's user.
func (s UsageSnapshot) ForUser(ruleID, userID int64) int {
	if userID != s.UserID {
		return 0
	}
	return s.PerUser[ruleID]
}

// EvaluationInput aggregates everything an evaluation depends on.
// Now is passed in so results are reproducible.
type EvaluationInput struct {
	Cart  CartSnapshot
	User  UserContext
	Usage UsageReader
	Now   time.Time
}
