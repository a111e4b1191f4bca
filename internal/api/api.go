// Package api implements the REST surface of the gift engine: storefront cart
// and gift endpoints, and the admin endpoints that manage rules.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/giftcart"
	"github.com/rafaeljc/giftrules/internal/ruleengine"
	"github.com/rafaeljc/giftrules/internal/scheduler"
)

// RuleService is the admin side of the rule store. *rulestore.Service satisfies it.
type RuleService interface {
	List(ctx context.Context, limit, offset int) ([]*ruleengine.Rule, int64, error)
	Get(ctx context.Context, id int64) (*ruleengine.Rule, error)
	Create(ctx context.Context, r *ruleengine.Rule) error
	Update(ctx context.Context, r *ruleengine.Rule) error
	Delete(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, enabled bool) error
}

// Cart is a shopper's cart as the storefront handlers use it. *cart.Session satisfies it.
type Cart interface {
	giftcart.Cart
	scheduler.Session
	ApplyCoupon(ctx context.Context, code string) error
	RemoveCoupon(ctx context.Context, code string) (bool, error)
	Empty(ctx context.Context) error
}

// CartOpener binds a cart to a session id and shopper.
type CartOpener func(sessionID string, user ruleengine.UserContext) Cart

// EventHandler re-evaluates eligibility on storefront events. *scheduler.Scheduler satisfies it.
type EventHandler interface {
	Handle(ctx context.Context, ev scheduler.Event, sess scheduler.Session) (scheduler.Result, error)
}

// GiftController applies the gift line rules. *giftcart.Controller satisfies it.
type GiftController interface {
	AddGift(ctx context.Context, cart giftcart.Cart, eligibility ruleengine.Eligibility, user ruleengine.UserContext, req giftcart.AddGiftRequest) (ruleengine.LineItem, error)
	RemoveGift(ctx context.Context, cart giftcart.Cart, lineKey string) error
	ValidateQuantityUpdate(ctx context.Context, cart giftcart.Cart, lineKey string, qty int) error
	Recalculate(ctx context.Context, cart giftcart.Cart, eligibility ruleengine.Eligibility) (giftcart.Adjustments, error)
	CompleteOrder(ctx context.Context, cart giftcart.Cart, user ruleengine.UserContext, orderID string) (map[int64]int, error)
}

// Dependencies groups the collaborators of the API.
type Dependencies struct {
	Rules     RuleService
	Carts     CartOpener
	Scheduler EventHandler
	Gifts     GiftController
	Products  catalog.Reader
}

// API is the main struct that holds dependencies and the router.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	rules     RuleService
	carts     CartOpener
	scheduler EventHandler
	gifts     GiftController
	products  catalog.Reader

	// apiKeyHash is the SHA-256 hash of the admin API key.
	apiKeyHash string

	// skipAuth disables admin authentication (test/dev environments only).
	skipAuth bool

	// requestTimeout bounds each request; zero disables the limit.
	requestTimeout time.Duration

	// maxQuantity caps the quantity of a single regular line.
	maxQuantity int

	// maxBodyBytes caps request bodies; zero disables the limit.
	maxBodyBytes int64
}

// Option configures an API.
type Option func(*API)

// WithRequestTimeout bounds the handling time of every request.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) {
		a.requestTimeout = d
	}
}

// WithMaxQuantity caps the quantity of a regular cart line. Values below 1 are ignored.
func WithMaxQuantity(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.maxQuantity = n
		}
	}
}

// WithMaxBodyBytes rejects request bodies larger than n bytes.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		a.maxBodyBytes = n
	}
}

// New creates an API with admin authentication enabled.
// Panics if apiKeyHash is empty, as authentication cannot be disabled with this constructor.
func New(deps Dependencies, apiKeyHash string, opts ...Option) *API {
	return NewWithConfig(deps, apiKeyHash, false, opts...)
}

// NewWithConfig creates an API with explicit control over admin authentication.
// skipAuth must only be used in tests and local development.
func NewWithConfig(deps Dependencies, apiKeyHash string, skipAuth bool, opts ...Option) *API {
	switch {
	case deps.Rules == nil:
		panic("api: rule service cannot be nil")
	case deps.Carts == nil:
		panic("api: cart opener cannot be nil")
	case deps.Scheduler == nil:
		panic("api: scheduler cannot be nil")
	case deps.Gifts == nil:
		panic("api: gift controller cannot be nil")
	case deps.Products == nil:
		panic("api: product catalog cannot be nil")
	}

	if !skipAuth && apiKeyHash == "" {
		panic("api: apiKeyHash cannot be empty when authentication is enabled")
	}

	a := &API{
		Router:      chi.NewRouter(),
		rules:       deps.Rules,
		carts:       deps.Carts,
		scheduler:   deps.Scheduler,
		gifts:       deps.Gifts,
		products:    deps.Products,
		apiKeyHash:  apiKeyHash,
		skipAuth:    skipAuth,
		maxQuantity: 999,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.configureRoutes()
	return a
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(RequestMetrics)
	a.Router.Use(middleware.Recoverer)
	if a.requestTimeout > 0 {
		a.Router.Use(middleware.Timeout(a.requestTimeout))
	}
	if a.maxBodyBytes > 0 {
		a.Router.Use(middleware.RequestSize(a.maxBodyBytes))
	}
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes
	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		// 3. Admin Routes (API key)
		r.Route("/rules", func(r chi.Router) {
			r.Use(a.authenticateAPIKey)

			r.Post("/", a.handleCreateRule)
			r.Get("/", a.handleListRules)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetRule)
				r.Put("/", a.handleUpdateRule)
				r.Delete("/", a.handleDeleteRule)
				r.Patch("/status", a.handleSetRuleStatus)
			})
		})

		// 4. Storefront Routes (shopper identified by X-User-ID)
		r.Route("/carts/{session}", func(r chi.Router) {
			r.Use(a.shopperContext)

			r.Get("/", a.handleGetCart)
			r.Delete("/", a.handleEmptyCart)

			r.Post("/items", a.handleAddItem)
			r.Patch("/items/{key}", a.handleUpdateItem)
			r.Delete("/items/{key}", a.handleRemoveItem)

			r.Post("/coupons", a.handleApplyCoupon)
			r.Delete("/coupons/{code}", a.handleRemoveCoupon)

			r.Get("/gifts", a.handleListGifts)
			r.Post("/gifts", a.handleAddGift)
			r.Delete("/gifts/{key}", a.handleRemoveGift)

			r.Post("/checkout", a.handleCheckout)
		})
	})
}

// handleHealthCheck reports that the HTTP server is serving.
// Deep checks live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
