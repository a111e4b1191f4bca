package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/giftrules/internal/cart"
	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/giftcart"
	"github.com/rafaeljc/giftrules/internal/logger"
	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/scheduler"
)

// view is the cart state a storefront response is rendered from.
type view struct {
	snapshot    ruleengine.CartSnapshot
	eligibility ruleengine.Eligibility
	stale       bool
	adjustments giftcart.Adjustments
}

// openCart binds the session in the URL to the shopper resolved by shopperContext.
func (a *API) openCart(r *http.Request) Cart {
	return a.carts(chi.URLParam(r, "session"), shopperFrom(r.Context()))
}

// refresh runs ev through the scheduler and enforces the gift line invariants.
//
// Steps:
// 1. Evaluate eligibility (cached, fresh or stale).
// 2. Recalculate gift lines. Without a trusted eligibility nothing is pruned.
// 3. If the cart changed, evaluate once more so the response matches the stored cart.
func (a *API) refresh(ctx context.Context, c Cart, ev scheduler.Event) (view, error) {
	log := logger.FromContext(ctx)

	// 1. Evaluate
	res, evalErr := a.scheduler.Handle(ctx, ev, c)
	v := view{
		snapshot:    res.Cart,
		eligibility: res.Eligibility,
		stale:       res.Outcome == scheduler.OutcomeStale,
	}

	trusted := v.eligibility
	if evalErr != nil {
		// The cart stays usable; the shopper just sees no gifts this time.
		log.Warn("eligibility unavailable, rendering cart without gifts", slog.String("error", evalErr.Error()))
		trusted = nil
	}

	// 2. Recalculate
	adj, err := a.gifts.Recalculate(ctx, c, trusted)
	if err != nil {
		return view{}, fmt.Errorf("failed to recalculate cart: %w", err)
	}
	recordAdjustments(adj)
	v.adjustments = adj

	if evalErr != nil || ev == scheduler.EventCartEmptied || ev == scheduler.EventOrderCompleted {
		// Clearing events and failed evaluations carry no usable snapshot.
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return view{}, fmt.Errorf("failed to read cart: %w", err)
		}
		v.snapshot = snap
		return v, nil
	}
	if !adj.Changed() {
		return v, nil
	}

	// 3. Re-evaluate the adjusted cart
	res, err = a.scheduler.Handle(ctx, scheduler.EventCartUpdated, c)
	if err != nil {
		log.Warn("failed to re-evaluate adjusted cart", slog.String("error", err.Error()))
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return view{}, fmt.Errorf("failed to read cart: %w", err)
		}
		v.snapshot = snap
		return v, nil
	}
	v.snapshot = res.Cart
	v.eligibility = res.Eligibility
	v.stale = res.Outcome == scheduler.OutcomeStale
	return v, nil
}

// respondWithCart refreshes the cart for ev and renders it with the given status.
func (a *API) respondWithCart(w http.ResponseWriter, r *http.Request, c Cart, ev scheduler.Event, status int) {
	v, err := a.refresh(r.Context(), c, ev)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to refresh cart", slog.String("error", err.Error()))
		writeInternal(w, r, "Failed to load cart")
		return
	}

	render.Status(r, status)
	render.JSON(w, r, newCartResponse(c, v))
}

func newCartResponse(c Cart, v view) CartResponse {
	resp := CartResponse{
		Session:  c.ID(),
		UserID:   c.User().ID,
		Items:    make([]LineItem, 0, len(v.snapshot.Items)),
		Coupons:  v.snapshot.AppliedCoupons,
		Subtotal: v.snapshot.Subtotal.StringFixed(2),
		Gifts:    giftcart.Availability(v.eligibility, v.snapshot.Items),
		Stale:    v.stale,
	}
	for _, item := range v.snapshot.Items {
		resp.Items = append(resp.Items, mapLine(item))
	}
	if resp.Coupons == nil {
		resp.Coupons = []string{}
	}
	if v.adjustments.Changed() {
		adj := v.adjustments
		resp.Adjustments = &adj
	}
	return resp
}

func recordAdjustments(adj giftcart.Adjustments) {
	observability.GiftLinesAdjustedTotal.WithLabelValues("repriced").Add(float64(len(adj.Repriced)))
	observability.GiftLinesAdjustedTotal.WithLabelValues("requantified").Add(float64(len(adj.Requantified)))
	observability.GiftLinesAdjustedTotal.WithLabelValues("pruned").Add(float64(len(adj.Pruned)))
}

// writeCartError maps cart store errors. Unknown errors are logged and reported as internal.
func writeCartError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, cart.ErrLineNotFound):
		writeError(w, r, http.StatusNotFound, "ERR_LINE_NOT_FOUND", "Cart line not found")
	case errors.Is(err, cart.ErrCartFull):
		writeError(w, r, http.StatusConflict, "ERR_CART_FULL", "The cart cannot hold more lines")
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_QUANTITY", "Quantity must be at least 1")
	case errors.Is(err, cart.ErrConflict):
		writeError(w, r, http.StatusConflict, "ERR_CONFLICT", "The cart was modified concurrently, please retry")
	default:
		logger.FromContext(r.Context()).Error(message, slog.String("error", err.Error()))
		writeInternal(w, r, message)
	}
}

// handleGetCart processes GET /api/v1/carts/{session}.
// A storefront restoring a persisted session passes ?restored=true, which always re-evaluates.
func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	ev := scheduler.EventPageView
	if r.URL.Query().Get("restored") == "true" {
		ev = scheduler.EventCartLoaded
	}
	a.respondWithCart(w, r, a.openCart(r), ev, http.StatusOK)
}

// handleEmptyCart processes DELETE /api/v1/carts/{session}.
func (a *API) handleEmptyCart(w http.ResponseWriter, r *http.Request) {
	c := a.openCart(r)
	if err := c.Empty(r.Context()); err != nil {
		writeCartError(w, r, err, "Failed to empty cart")
		return
	}
	a.respondWithCart(w, r, c, scheduler.EventCartEmptied, http.StatusOK)
}

// handleAddItem processes POST /api/v1/carts/{session}/items.
//
// Responsibilities:
// 1. Decodes and validates the payload.
// 2. Resolves the product and checks it can be sold.
// 3. Adds (or merges) the line.
// 4. Re-evaluates gifts and returns the cart.
func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	// 1. Decode & Validate
	var req AddItemRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationError(err))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity > a.maxQuantity {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidInput("quantity", fmt.Sprintf("max=%d", a.maxQuantity)))
		return
	}

	// 2. Resolve Product
	product, err := a.products.Product(r.Context(), req.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			writeError(w, r, http.StatusNotFound, "ERR_PRODUCT_NOT_FOUND", "Product not found")
			return
		}
		logger.FromContext(r.Context()).Error("failed to load product", slog.String("error", err.Error()))
		writeInternal(w, r, "Failed to load product")
		return
	}
	if !product.Published() {
		writeError(w, r, http.StatusUnprocessableEntity, "ERR_PRODUCT_UNAVAILABLE", "Product is not available")
		return
	}
	if !product.InStock {
		writeError(w, r, http.StatusUnprocessableEntity, "ERR_OUT_OF_STOCK", "Product is out of stock")
		return
	}

	// 3. Add Line
	c := a.openCart(r)
	if _, err := c.Add(r.Context(), cart.NewLine(product, req.Quantity)); err != nil {
		writeCartError(w, r, err, "Failed to add item")
		return
	}

	// 4. Respond
	a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusCreated)
}

// handleUpdateItem processes PATCH /api/v1/carts/{session}/items/{key}.
// Quantity 0 removes the line. Gift lines only accept quantity 1.
func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationError(err))
		return
	}
	qty := *req.Quantity
	if qty > a.maxQuantity {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidInput("quantity", fmt.Sprintf("max=%d", a.maxQuantity)))
		return
	}

	c := a.openCart(r)
	key := chi.URLParam(r, "key")

	// Quantity 0 is a removal, allowed for gift lines too.
	if qty == 0 {
		removed, err := c.Remove(r.Context(), key)
		if err != nil {
			writeCartError(w, r, err, "Failed to remove item")
			return
		}
		if !removed {
			writeCartError(w, r, cart.ErrLineNotFound, "")
			return
		}
		a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusOK)
		return
	}

	if err := a.gifts.ValidateQuantityUpdate(r.Context(), c, key, qty); err != nil {
		if !writeGiftError(w, r, err) {
			logger.FromContext(r.Context()).Error("failed to validate quantity", slog.String("error", err.Error()))
			writeInternal(w, r, "Failed to update item")
		}
		return
	}
	if err := c.SetQuantity(r.Context(), key, qty); err != nil {
		writeCartError(w, r, err, "Failed to update item")
		return
	}

	a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusOK)
}

// handleRemoveItem processes DELETE /api/v1/carts/{session}/items/{key}.
func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	c := a.openCart(r)

	removed, err := c.Remove(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeCartError(w, r, err, "Failed to remove item")
		return
	}
	if !removed {
		writeCartError(w, r, cart.ErrLineNotFound, "")
		return
	}

	a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusOK)
}

// handleApplyCoupon processes POST /api/v1/carts/{session}/coupons.
// Coupon validity is the storefront's concern; the code only feeds rule conditions.
func (a *API) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationError(err))
		return
	}

	c := a.openCart(r)
	if err := c.ApplyCoupon(r.Context(), req.Code); err != nil {
		writeCartError(w, r, err, "Failed to apply coupon")
		return
	}

	a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusOK)
}

// handleRemoveCoupon processes DELETE /api/v1/carts/{session}/coupons/{code}.
func (a *API) handleRemoveCoupon(w http.ResponseWriter, r *http.Request) {
	c := a.openCart(r)

	removed, err := c.RemoveCoupon(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeCartError(w, r, err, "Failed to remove coupon")
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, "ERR_COUPON_NOT_FOUND", "Coupon is not applied to this cart")
		return
	}

	a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusOK)
}
