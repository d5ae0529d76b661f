package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sitekeeper/sitekeeper/internal/api/handlers"
	"github.com/sitekeeper/sitekeeper/internal/api/middleware"
	"github.com/sitekeeper/sitekeeper/internal/config"
	"github.com/sitekeeper/sitekeeper/internal/pkg/logger"
	"github.com/sitekeeper/sitekeeper/internal/pkg/metrics"
)

type Handlers struct {
	Health  *handlers.HealthHandler
	Billing *handlers.BillingHandler
	Webhook *handlers.WebhookHandler
	Reset   *handlers.ResetHandler
	Account *handlers.AccountHandler
}

func New(cfg *config.Config, log *logger.Logger, h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.DefaultCORS(cfg.Server.FrontendURL))
	r.Use(metrics.Middleware)

	// Public routes
	r.Group(func(r chi.Router) {
		// Health checks
		r.Get("/health", h.Health.Healthz)
		r.Get("/healthz", h.Health.Healthz)
		r.Get("/readyz", h.Health.Readyz)
		r.Handle("/metrics", metrics.Handler())

		// Billing webhook: raw body required for signature verification
		r.Post("/api/v1/webhooks/billing", h.Webhook.HandleBilling)

		// Public billing endpoints, rate limited
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(5, 10))
			r.Post("/api/v1/checkout", h.Billing.CreateCheckoutSession)
			r.Post("/api/v1/coupon/validate", h.Billing.ValidateCoupon)
		})

		// Password reset flow, rate limited
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(2, 5))
			r.Post("/api/v1/auth/request-reset", h.Reset.Request)
			r.Get("/api/v1/auth/reset", h.Reset.Validate)
			r.Post("/api/v1/auth/reset", h.Reset.Consume)
		})
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))

		r.Get("/api/v1/account", h.Account.Me)

		r.Post("/api/v1/checkout/create-subscription", h.Billing.CreateSubscription)
		r.Post("/api/v1/payment-method/attach", h.Billing.AttachPaymentMethod)

		r.Route("/api/v1/subscription", func(r chi.Router) {
			r.Post("/upgrade", h.Billing.Upgrade)
			r.Post("/downgrade", h.Billing.Downgrade)
			r.Post("/cancel", h.Billing.Cancel)
			r.Post("/reactivate", h.Billing.Reactivate)
			r.Post("/switch-safety-net", h.Billing.SwitchSafetyNet)
		})
	})

	return r
}
