package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/giftrules/internal/api"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/testsupport"
)

// Metrics live in the global Prometheus registry, so this test is not parallel.
func TestMetrics(t *testing.T) {
	h := newHarness(t)

	t.Run("Should record successful requests by route pattern", func(t *testing.T) {
		counterLabels := map[string]string{"method": "GET", "route": "/health", "code": "200"}

		testsupport.AssertMetricDelta(t, "giftrules_api_http_requests_total", counterLabels, 1, func() {
			require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", nil).Code)
		})
		testsupport.AssertHistogramRecorded(t, "giftrules_api_http_handling_seconds",
			map[string]string{"method": "GET", "route": "/health"})
	})

	t.Run("Should label sessions by pattern, not by id", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "/api/v1/carts/{session}", "code": "200"}

		testsupport.AssertMetricDelta(t, "giftrules_api_http_requests_total", labels, 2, func() {
			h.do(t, http.MethodGet, "/api/v1/carts/session-a", nil)
			h.do(t, http.MethodGet, "/api/v1/carts/session-b", nil)
		})
	})

	t.Run("Should keep the pattern on business 404s", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "/api/v1/rules/{id}", "code": "404"}

		testsupport.AssertMetricDelta(t, "giftrules_api_http_requests_total", labels, 1, func() {
			require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/rules/31337", nil).Code)
		})
	})

	t.Run("Should collapse unknown paths", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "unmatched", "code": "404"}

		testsupport.AssertMetricDelta(t, "giftrules_api_http_requests_total", labels, 1, func() {
			require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/wp-login.php", nil).Code)
		})
	})

	t.Run("Should count gift operations by result", func(t *testing.T) {
		ok := map[string]string{"operation": "add", "result": "ok"}
		limited := map[string]string{"operation": "add", "result": "limit_reached"}
		req := api.AddGiftRequest{RuleID: 7, ProductID: giftMug}

		testsupport.AssertMetricDelta(t, "giftrules_gifts_operations_total", ok, 1, func() {
			h.do(t, http.MethodPost, "/api/v1/carts/metrics/gifts", req)
		})
		testsupport.AssertMetricDelta(t, "giftrules_gifts_operations_total", limited, 1, func() {
			h.do(t, http.MethodPost, "/api/v1/carts/metrics/gifts", req)
		})
	})

	t.Run("Should count redemptions once per order", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "giftrules_gifts_redemptions_total", nil, 1, func() {
			h.do(t, http.MethodPost, "/api/v1/carts/metrics/checkout", api.CheckoutRequest{OrderID: "M-1"})
			h.do(t, http.MethodPost, "/api/v1/carts/metrics/checkout", api.CheckoutRequest{OrderID: "M-1"})
		})
	})

	t.Run("Should count every corrected gift line", func(t *testing.T) {
		c := h.carts.get("adjusted", ruleengine.UserContext{})
		_, err := c.Add(context.Background(), ruleengine.LineItem{
			ProductID: giftMug,
			Quantity:  3,
			Price:     decimal.RequireFromString("4.00"),
			Gift:      &ruleengine.GiftTag{RuleID: 7, InstanceID: "m"},
		})
		require.NoError(t, err)

		// One line, repriced and requantified.
		testsupport.AssertSumDelta(t, "giftrules_gifts_lines_adjusted_total", nil, 2, func() {
			require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/carts/adjusted", nil).Code)
		})
	})
}
