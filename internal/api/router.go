/**
 * @description
 * This file sets up the HTTP router for the arcdrop API using the go-chi/chi router.
 * It applies middleware for logging, panic recovery, request timeouts and CORS,
 * and maps the routes to their corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the router. Nil or empty fields disable the related feature.
type RouterOptions struct {
	AllowedOrigins []string
	MetricsHandler http.Handler
	Idempotency    IdempotencyStore
}

// NewRouter creates a new Chi router and registers the arcdrop routes.
func NewRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	// Setup middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	r.Get("/health", h.HealthHandler)
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	r.Route("/creators", func(r chi.Router) {
		r.Post("/", h.CreateCreatorHandler)
		r.Get("/", h.FindCreatorHandler)
		r.Get("/id/{id}/wallets", h.CreatorWalletsHandler)
		r.Get("/{idOrHandle}", h.GetCreatorPageHandler)
	})

	r.Post("/payment-links", h.CreatePaymentLinkHandler)
	r.Post("/create-payment-link", h.CreatePaymentLinkHandler)
	r.Get("/payment-link/{slug}", h.GetPaymentLinkHandler)

	r.Route("/tiers", func(r chi.Router) {
		r.Post("/", h.CreateTierHandler)
		r.Delete("/{id}", h.DeleteTierHandler)
		r.Get("/{id}/subscribers", h.ListSubscribersHandler)
	})

	r.Get("/subscription/{id}", h.GetSubscriptionHandler)
	r.Patch("/subscription/{id}", h.UpdateSubscriptionHandler)

	// Money-moving routes honour the Idempotency-Key header.
	r.Group(func(r chi.Router) {
		r.Use(Idempotency(opts.Idempotency, h.logger))

		r.Post("/pay", h.PayHandler)
		r.Post("/payments/tip", h.TipHandler)
		r.Post("/payments/subscribe", h.SubscribeHandler)
		r.Post("/wallet/withdraw", h.WithdrawHandler)
		r.Post("/cctp-transfer", h.BridgeHandler)
	})

	r.Post("/wallet/init", h.InitWalletHandler)
	r.Post("/wallet/balance", h.WalletBalanceHandler)
	r.Post("/modular/wallet", h.SyncModularWalletHandler)
	r.Get("/modular/config", h.ModularConfigHandler)

	return r
}
