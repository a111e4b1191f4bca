package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rafaeljc/giftrules/internal/giftcart"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// legacyZeroDate is the unset date sentinel older rule exports carry.
const legacyZeroDate = "0000-00-00 00:00:00"

// dateLayouts are accepted for rule date bounds, in order.
var dateLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

// -----------------------------------------------------------------------------
// Rules (admin)
// -----------------------------------------------------------------------------

// Rule represents the gift rule resource.
type Rule struct {
	ID                 int64                      `json:"id"`
	Name               string                     `json:"name"`
	Description        string                     `json:"description"`
	Enabled            bool                       `json:"enabled"`
	Gifts              []int64                    `json:"gifts"`
	GiftQuantity       int                        `json:"gift_quantity"`
	ProductDependency  []int64                    `json:"product_dependency"`
	CategoryDependency []int64                    `json:"category_dependency"`
	UserDependency     []int64                    `json:"user_dependency"`
	UserOnly           bool                       `json:"user_only"`
	DisableWithCoupon  bool                       `json:"disable_with_coupon"`
	SubtotalOperator   string                     `json:"subtotal_operator,omitempty"`
	SubtotalAmount     *string                    `json:"subtotal_amount,omitempty"`
	QtyOperator        string                     `json:"qty_operator,omitempty"`
	QtyAmount          *int                       `json:"qty_amount,omitempty"`
	LimitPerRule       *int                       `json:"limit_per_rule,omitempty"`
	LimitPerUser       *int                       `json:"limit_per_user,omitempty"`
	DateFrom           *time.Time                 `json:"date_from,omitempty"`
	DateTo             *time.Time                 `json:"date_to,omitempty"`
	DisplayLocation    ruleengine.DisplayLocation `json:"display_location"`
	ItemsPerRow        int                        `json:"items_per_row"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// RuleRequest is the payload of POST /rules and PUT /rules/{id}.
// PUT replaces every field, so omitted fields reset to their defaults.
type RuleRequest struct {
	Name               string  `json:"name" validate:"required,max=255"`
	Description        string  `json:"description" validate:"max=2000"`
	Enabled            bool    `json:"enabled"`
	Gifts              []int64 `json:"gifts" validate:"required,min=1,dive,gt=0"`
	GiftQuantity       int     `json:"gift_quantity" validate:"omitempty,min=1,max=100"`
	ProductDependency  []int64 `json:"product_dependency" validate:"max=10000,dive,gt=0"`
	CategoryDependency []int64 `json:"category_dependency" validate:"max=10000,dive,gt=0"`
	UserDependency     []int64 `json:"user_dependency" validate:"max=10000,dive,gt=0"`
	UserOnly           bool    `json:"user_only"`
	DisableWithCoupon  bool    `json:"disable_with_coupon"`

	SubtotalOperator string  `json:"subtotal_operator" validate:"omitempty,oneof=< > <= >= == ="`
	SubtotalAmount   *string `json:"subtotal_amount" validate:"omitempty,numeric"`
	QtyOperator      string  `json:"qty_operator" validate:"omitempty,oneof=< > <= >= == ="`
	QtyAmount        *int    `json:"qty_amount" validate:"omitempty,min=0"`

	LimitPerRule *int `json:"limit_per_rule" validate:"omitempty,min=0"`
	LimitPerUser *int `json:"limit_per_user" validate:"omitempty,min=0"`

	// DateFrom and DateTo accept RFC 3339, "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD".
	// Empty strings and the legacy zero date mean unbounded.
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`

	DisplayLocation string `json:"display_location" validate:"omitempty,oneof=cart checkout"`
	ItemsPerRow     int    `json:"items_per_row" validate:"omitempty,min=1,max=6"`
}

// Sanitize trims free-text fields.
func (r *RuleRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.SubtotalOperator = strings.TrimSpace(r.SubtotalOperator)
	r.QtyOperator = strings.TrimSpace(r.QtyOperator)
	r.DisplayLocation = strings.ToLower(strings.TrimSpace(r.DisplayLocation))
	if r.SubtotalAmount != nil {
		trimmed := strings.TrimSpace(*r.SubtotalAmount)
		r.SubtotalAmount = &trimmed
	}
}

// Validate checks field constraints and returns a structured error on failure.
func (r *RuleRequest) Validate() *ErrorResponse {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	if _, err := parseDateBound(r.DateFrom, false); err != nil {
		return invalidInput("date_from", err.Error())
	}
	if _, err := parseDateBound(r.DateTo, true); err != nil {
		return invalidInput("date_to", err.Error())
	}
	return nil
}

// ToRule maps the request onto the domain model. Validate must have passed.
func (r *RuleRequest) ToRule(id int64) (*ruleengine.Rule, error) {
	rule := &ruleengine.Rule{
		ID:                 id,
		Name:               r.Name,
		Description:        r.Description,
		Enabled:            r.Enabled,
		Gifts:              r.Gifts,
		GiftQuantity:       max(1, r.GiftQuantity),
		ProductDependency:  r.ProductDependency,
		CategoryDependency: r.CategoryDependency,
		UserDependency:     r.UserDependency,
		UserOnly:           r.UserOnly,
		DisableWithCoupon:  r.DisableWithCoupon,
		SubtotalOperator:   ruleengine.Operator(r.SubtotalOperator),
		QtyOperator:        ruleengine.Operator(r.QtyOperator),
		QtyAmount:          r.QtyAmount,
		LimitPerRule:       r.LimitPerRule,
		LimitPerUser:       r.LimitPerUser,
		DisplayLocation:    ruleengine.DisplayLocation(r.DisplayLocation),
		ItemsPerRow:        r.ItemsPerRow,
	}

	if r.SubtotalAmount != nil && *r.SubtotalAmount != "" {
		amount, err := decimal.NewFromString(*r.SubtotalAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid subtotal_amount: %w", err)
		}
		rule.SubtotalAmount = &amount
	}

	var err error
	if rule.DateFrom, err = parseDateBound(r.DateFrom, false); err != nil {
		return nil, err
	}
	if rule.DateTo, err = parseDateBound(r.DateTo, true); err != nil {
		return nil, err
	}
	return rule, nil
}

// StatusRequest is the payload of PATCH /rules/{id}/status.
type StatusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// lastInstant is the final instant of a day that a TIMESTAMPTZ column keeps exactly.
const lastInstant = time.Microsecond

// parseDateBound returns nil for unset bounds. A date-only end bound covers the whole
// day, up to the last microsecond before the next midnight.
func parseDateBound(s string, end bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == legacyZeroDate {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if ruleengine.IsUnsetBound(&t) {
			return nil, nil
		}
		if end && layout == time.DateOnly {
			t = t.AddDate(0, 0, 1).Add(-lastInstant)
		}
		utc := t.UTC()
		return &utc, nil
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}

func mapRuleToResponse(r *ruleengine.Rule) Rule {
	resp := Rule{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		Enabled:            r.Enabled,
		Gifts:              nonNil(r.Gifts),
		GiftQuantity:       r.GiftQuantity,
		ProductDependency:  nonNil(r.ProductDependency),
		CategoryDependency: nonNil(r.CategoryDependency),
		UserDependency:     nonNil(r.UserDependency),
		UserOnly:           r.UserOnly,
		DisableWithCoupon:  r.DisableWithCoupon,
		SubtotalOperator:   string(r.SubtotalOperator),
		QtyOperator:        string(r.QtyOperator),
		QtyAmount:          r.QtyAmount,
		LimitPerRule:       r.LimitPerRule,
		LimitPerUser:       r.LimitPerUser,
		DateFrom:           r.DateFrom,
		DateTo:             r.DateTo,
		DisplayLocation:    r.DisplayLocation,
		ItemsPerRow:        r.ItemsPerRow,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.SubtotalAmount != nil {
		amount := r.SubtotalAmount.StringFixed(2)
		resp.SubtotalAmount = &amount
	}
	return resp
}

// nonNil renders empty lists as [] instead of null.
func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// -----------------------------------------------------------------------------
// Storefront
// -----------------------------------------------------------------------------

// AddItemRequest is the payload of POST /carts/{session}/items.
type AddItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	// Quantity defaults to 1.
	Quantity int `json:"quantity" validate:"omitempty,min=1"`
}

// UpdateItemRequest is the payload of PATCH /carts/{session}/items/{key}.
// Quantity 0 removes the line.
type UpdateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0"`
}

// CouponRequest is the payload of POST /carts/{session}/coupons.
type CouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// AddGiftRequest is the payload of POST /carts/{session}/gifts.
type AddGiftRequest struct {
	RuleID    int64 `json:"rule_id"`
	ProductID int64 `json:"product_id"`
}

// CheckoutRequest is the payload of POST /carts/{session}/checkout.
type CheckoutRequest struct {
	OrderID string `json:"order_id"`
}

// LineItem is a cart line as shown to the shopper.
type LineItem struct {
	Key         string            `json:"key"`
	ProductID   int64             `json:"product_id"`
	VariationID int64             `json:"variation_id,omitempty"`
	Quantity    int               `json:"quantity"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Price       string            `json:"price"`
	Tax         string            `json:"tax"`
	Gift        bool              `json:"gift"`
	RuleID      int64             `json:"rule_id,omitempty"`
}

// CartResponse is the cart with the gifts the shopper can still choose.
type CartResponse struct {
	Session  string                      `json:"session"`
	UserID   int64                       `json:"user_id"`
	Items    []LineItem                  `json:"items"`
	Coupons  []string                    `json:"coupons"`
	Subtotal string                      `json:"subtotal"`
	Gifts    []giftcart.RuleAvailability `json:"gifts"`

	// Stale is set when eligibility came from the cache because rules could not be loaded.
	Stale bool `json:"stale,omitempty"`

	Adjustments *giftcart.Adjustments `json:"adjustments,omitempty"`
}

// GiftsResponse is the body of GET /carts/{session}/gifts.
type GiftsResponse struct {
	Gifts []giftcart.RuleAvailability `json:"gifts"`
	Stale bool                        `json:"stale,omitempty"`
}

// CheckoutResponse reports the redemptions recorded for the order.
type CheckoutResponse struct {
	OrderID     string        `json:"order_id"`
	Redemptions map[int64]int `json:"redemptions"`
}

func mapLine(item ruleengine.LineItem) LineItem {
	line := LineItem{
		Key:         item.Key,
		ProductID:   item.ProductID,
		VariationID: item.VariationID,
		Quantity:    item.Quantity,
		Attributes:  item.Attributes,
		Price:       item.Price.StringFixed(2),
		Tax:         item.Tax.StringFixed(2),
		Gift:        item.IsGift(),
	}
	if item.SalePrice.Valid {
		line.Price = item.SalePrice.Decimal.StringFixed(2)
	}
	if item.IsGift() {
		line.RuleID = item.Gift.RuleID
	}
	return line
}

// -----------------------------------------------------------------------------
// Shared
// -----------------------------------------------------------------------------

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func invalidInput(field, issue string) *ErrorResponse {
	return &ErrorResponse{
		Code:    "ERR_INVALID_INPUT",
		Message: "Invalid " + field,
		Details: []ErrorDetail{{Field: field, Issue: issue}},
	}
}

// validationError turns validator failures into one detail per field.
func validationError(err error) *ErrorResponse {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()}
	}

	resp := &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Request validation failed"}
	for _, fe := range verrs {
		issue := fe.Tag()
		if fe.Param() != "" {
			issue += "=" + fe.Param()
		}
		resp.Details = append(resp.Details, ErrorDetail{Field: fe.Field(), Issue: issue})
	}
	return resp
}
