package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bazaar-backend/api/controllers"
	disputecontrollers "github.com/angelmondragon/bazaar-backend/api/controllers/disputes"
	ordercontrollers "github.com/angelmondragon/bazaar-backend/api/controllers/orders"
	payoutcontrollers "github.com/angelmondragon/bazaar-backend/api/controllers/payouts"
	vendorcontrollers "github.com/angelmondragon/bazaar-backend/api/controllers/vendors"
	webhookcontrollers "github.com/angelmondragon/bazaar-backend/api/controllers/webhooks"
	"github.com/angelmondragon/bazaar-backend/api/middleware"
	internalwebhooks "github.com/angelmondragon/bazaar-backend/internal/webhooks"
	"github.com/angelmondragon/bazaar-backend/pkg/config"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/bazaar-backend/pkg/redis"
)

// Params carries everything the HTTP surface is built from. Nil services
// produce handlers that answer 500 so a partially wired binary still boots.
type Params struct {
	Config *config.Config
	Logger *logger.Logger

	DB    controllers.Pinger
	Redis *pkgredis.Client

	Orders   ordercontrollers.Service
	Refunds  ordercontrollers.RefundService
	Disputes disputecontrollers.Service
	Payouts  payoutcontrollers.Service
	Vendors  interface {
		vendorcontrollers.Service
		middleware.ProfileEnsurer
	}
	Ledger vendorcontrollers.LedgerReader

	Webhooks          webhookcontrollers.DeliveryService
	PaystackGuard     *internalwebhooks.ReplayGuard
	FlutterwaveGuard  *internalwebhooks.ReplayGuard
	PaystackSecret    string
	FlutterwaveSecret string
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	var (
		idempotencyStore pkgredis.IdempotencyStore
		rateStore        middleware.RateLimitStore
		redisPinger      controllers.Pinger
	)
	if p.Redis != nil {
		idempotencyStore = p.Redis
		rateStore = p.Redis
		redisPinger = p.Redis
	}

	var vendorProfiles middleware.ProfileEnsurer
	var vendorService vendorcontrollers.Service
	if p.Vendors != nil {
		vendorProfiles = p.Vendors
		vendorService = p.Vendors
	}

	paymentPolicy := middleware.NewRateLimitPolicy("payments", cfg.HTTP.PaymentRateWindow, cfg.HTTP.PaymentRateLimit)
	paymentLimit := middleware.RateLimit(paymentPolicy, rateStore, logg)

	customer := middleware.RequireRole(logg, enums.ActorRoleCustomer)
	vendor := middleware.RequireRole(logg, enums.ActorRoleVendor)
	admin := middleware.RequireRole(logg, enums.ActorRoleAdmin)
	vendorOrAdmin := middleware.RequireRole(logg, enums.ActorRoleVendor, enums.ActorRoleAdmin)
	customerOrAdmin := middleware.RequireRole(logg, enums.ActorRoleCustomer, enums.ActorRoleAdmin)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, redisPinger))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paystack", webhookcontrollers.PaystackWebhook(p.Webhooks, p.PaystackSecret, replayGuard(p.PaystackGuard), logg))
		r.Post("/flutterwave", webhookcontrollers.FlutterwaveWebhook(p.Webhooks, p.FlutterwaveSecret, replayGuard(p.FlutterwaveGuard), logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.VendorProfile(vendorProfiles, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(customer, paymentLimit).Post("/checkout", ordercontrollers.Checkout(p.Orders, logg))
			r.Get("/", ordercontrollers.List(p.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(p.Orders, logg))
				r.With(customerOrAdmin, paymentLimit).Post("/verify-payment", ordercontrollers.VerifyPayment(p.Orders, logg))
				r.With(customer).Post("/cancel", ordercontrollers.Cancel(p.Orders, logg))
				r.With(admin).Patch("/status", ordercontrollers.UpdateStatus(p.Orders, logg))
				r.With(admin).Post("/refund", ordercontrollers.Refund(p.Refunds, logg))
				r.With(admin).Get("/refunds", ordercontrollers.Refunds(p.Refunds, logg))
			})
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", disputecontrollers.List(p.Disputes, logg))
			r.With(customer).Post("/", disputecontrollers.Open(p.Disputes, logg))
			r.Route("/{disputeId}", func(r chi.Router) {
				r.Get("/", disputecontrollers.Detail(p.Disputes, logg))
				r.Post("/respond", disputecontrollers.Respond(p.Disputes, logg))
				r.With(customer).Post("/cancel", disputecontrollers.Cancel(p.Disputes, logg))
				r.With(admin).Patch("/resolve", disputecontrollers.Resolve(p.Disputes, logg))
			})
		})

		r.Route("/payouts", func(r chi.Router) {
			r.With(vendorOrAdmin).Get("/", payoutcontrollers.List(p.Payouts, logg))
			r.With(vendor).Post("/request", payoutcontrollers.Request(p.Payouts, logg))
			r.With(vendorOrAdmin).Get("/{payoutId}", payoutcontrollers.Detail(p.Payouts, logg))
			r.With(admin).Patch("/{payoutId}/process", payoutcontrollers.Process(p.Payouts, logg))
		})

		r.Route("/vendors", func(r chi.Router) {
			r.Use(vendor)
			r.Post("/", vendorcontrollers.Create(vendorService, logg))
			r.Get("/me", vendorcontrollers.Me(vendorService, logg))
			r.Get("/me/ledger", vendorcontrollers.Ledger(p.Ledger, logg))
		})
	})

	return r
}

func replayGuard(g *internalwebhooks.ReplayGuard) webhookcontrollers.ReplayGuard {
	if g == nil {
		return nil
	}
	return g
}
