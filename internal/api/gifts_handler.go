package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/giftrules/internal/giftcart"
	"github.com/rafaeljc/giftrules/internal/logger"
	"github.com/rafaeljc/giftrules/internal/observability"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/scheduler"
)

// handleListGifts processes GET /api/v1/carts/{session}/gifts.
// The optional location query (cart or checkout) keeps only the rules shown there.
func (a *API) handleListGifts(w http.ResponseWriter, r *http.Request) {
	location := ruleengine.DisplayLocation(strings.ToLower(r.URL.Query().Get("location")))
	switch location {
	case "", ruleengine.DisplayCart, ruleengine.DisplayCheckout:
	default:
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidInput("location", "oneof=cart checkout"))
		return
	}

	res, err := a.scheduler.Handle(r.Context(), scheduler.EventPageView, a.openCart(r))
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "ERR_ELIGIBILITY_UNAVAILABLE", "Gift eligibility is temporarily unavailable")
		return
	}

	gifts := giftcart.Availability(res.Eligibility, res.Cart.Items)
	if location != "" {
		filtered := gifts[:0]
		for _, g := range gifts {
			if g.DisplayLocation == location {
				filtered = append(filtered, g)
			}
		}
		gifts = filtered
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, GiftsResponse{Gifts: gifts, Stale: res.Outcome == scheduler.OutcomeStale})
}

// handleAddGift processes POST /api/v1/carts/{session}/gifts.
//
// Responsibilities:
// 1. Decodes the selection (the controller rejects missing ids).
// 2. Evaluates the cart again. A cached page view may predate an expired window
//    or a limit used up by other orders.
// 3. Adds the gift line through the controller.
// 4. Returns the refreshed cart with a 201 Created status.
func (a *API) handleAddGift(w http.ResponseWriter, r *http.Request) {
	// 1. Decode Request
	var req AddGiftRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}

	// 2. Resolve Eligibility
	c := a.openCart(r)
	res, err := a.scheduler.Handle(r.Context(), scheduler.EventCartUpdated, c)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "ERR_ELIGIBILITY_UNAVAILABLE", "Gift eligibility is temporarily unavailable")
		return
	}

	// 3. Add Gift
	_, err = a.gifts.AddGift(r.Context(), c, res.Eligibility, shopperFrom(r.Context()), giftcart.AddGiftRequest{
		RuleID:    req.RuleID,
		ProductID: req.ProductID,
	})
	observability.GiftOperationsTotal.WithLabelValues("add", giftResult(err)).Inc()
	if err != nil {
		if !writeGiftError(w, r, err) {
			logger.FromContext(r.Context()).Error("failed to add gift", slog.String("error", err.Error()))
			writeInternal(w, r, "Failed to add gift")
		}
		return
	}

	// 4. Respond
	a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusCreated)
}

// handleRemoveGift processes DELETE /api/v1/carts/{session}/gifts/{key}.
func (a *API) handleRemoveGift(w http.ResponseWriter, r *http.Request) {
	c := a.openCart(r)

	err := a.gifts.RemoveGift(r.Context(), c, chi.URLParam(r, "key"))
	observability.GiftOperationsTotal.WithLabelValues("remove", giftResult(err)).Inc()
	if err != nil {
		if !writeGiftError(w, r, err) {
			logger.FromContext(r.Context()).Error("failed to remove gift", slog.String("error", err.Error()))
			writeInternal(w, r, "Failed to remove gift")
		}
		return
	}

	a.respondWithCart(w, r, c, scheduler.EventCartUpdated, http.StatusOK)
}

// handleCheckout processes POST /api/v1/carts/{session}/checkout.
// It records gift usage for the order and drops the session's cached eligibility.
// Repeating the call for the same order records nothing new.
func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CheckoutRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)

	c := a.openCart(r)
	counts, err := a.gifts.CompleteOrder(r.Context(), c, shopperFrom(r.Context()), req.OrderID)
	observability.GiftOperationsTotal.WithLabelValues("checkout", giftResult(err)).Inc()
	if err != nil {
		if !writeGiftError(w, r, err) {
			log.Error("failed to complete order", slog.String("error", err.Error()))
			writeInternal(w, r, "Failed to record gift usage")
		}
		return
	}

	redeemed := 0
	for _, n := range counts {
		redeemed += n
	}
	observability.GiftRedemptionsTotal.Add(float64(redeemed))

	if _, err := a.scheduler.Handle(r.Context(), scheduler.EventOrderCompleted, c); err != nil {
		log.Warn("failed to clear cached eligibility", slog.String("error", err.Error()))
	}

	if counts == nil {
		counts = map[int64]int{}
	}
	log.Info("order completed", slog.String("order_id", req.OrderID), slog.Int("gifts_redeemed", redeemed))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, CheckoutResponse{OrderID: req.OrderID, Redemptions: counts})
}
