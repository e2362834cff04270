package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vetcare/clinic-finance/api/controllers"
	couponcontrollers "github.com/vetcare/clinic-finance/api/controllers/coupons"
	invoicecontrollers "github.com/vetcare/clinic-finance/api/controllers/invoices"
	loyaltycontrollers "github.com/vetcare/clinic-finance/api/controllers/loyalty"
	paymentcontrollers "github.com/vetcare/clinic-finance/api/controllers/payments"
	refundcontrollers "github.com/vetcare/clinic-finance/api/controllers/refunds"
	webhookcontrollers "github.com/vetcare/clinic-finance/api/controllers/webhooks"
	"github.com/vetcare/clinic-finance/api/middleware"
	"github.com/vetcare/clinic-finance/internal/coupons"
	"github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/internal/loyalty"
	"github.com/vetcare/clinic-finance/internal/payments"
	"github.com/vetcare/clinic-finance/internal/refunds"
	"github.com/vetcare/clinic-finance/pkg/config"
	"github.com/vetcare/clinic-finance/pkg/logger"
	pkgredis "github.com/vetcare/clinic-finance/pkg/redis"
)

// Dependencies is everything the HTTP surface needs. Nil services make their
// routes answer with an internal error instead of panicking.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Pingers  map[string]controllers.Pinger
	Gatherer prometheus.Gatherer

	Idempotency pkgredis.IdempotencyStore

	Invoices invoices.Service
	Payments payments.Service
	Coupons  coupons.Service
	Refunds  refunds.Service
	Loyalty  loyalty.Service

	StripeWebhook webhookcontrollers.StripeWebhookService
	StripeSigner  webhookcontrollers.StripeSigner
	WebhookGuard  webhookcontrollers.StripeWebhookGuard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeSigner, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))
		staff := middleware.RequireStaff(logg)

		r.Route("/invoices", func(r chi.Router) {
			r.With(staff).Post("/", invoicecontrollers.Create(deps.Invoices, logg))
			r.Route("/{invoiceId}", func(r chi.Router) {
				r.Get("/", invoicecontrollers.Detail(deps.Invoices, deps.Payments, logg))
				r.With(staff).Put("/line-items", invoicecontrollers.EditLineItems(deps.Invoices, logg))
				r.With(staff).Post("/status", invoicecontrollers.SetStatus(deps.Invoices, logg))
				r.With(staff).Post("/reconcile", invoicecontrollers.Reconcile(deps.Invoices, logg))

				r.Get("/payments", paymentcontrollers.ListForInvoice(deps.Invoices, deps.Payments, logg))
				r.Post("/payments/offline", paymentcontrollers.InitiateOffline(deps.Payments, logg))
				r.Post("/payments/gateway", paymentcontrollers.InitiateGateway(deps.Payments, logg))
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/gateway/{intentId}/confirm", paymentcontrollers.ConfirmGateway(deps.Payments, logg))
			r.Route("/{paymentId}", func(r chi.Router) {
				r.Get("/", paymentcontrollers.Detail(deps.Payments, logg))
				r.With(staff).Post("/confirm", paymentcontrollers.ConfirmOffline(deps.Payments, logg))
				r.Post("/refunds", refundcontrollers.Request(deps.Refunds, logg))
			})
		})

		r.Route("/coupons", func(r chi.Router) {
			r.With(staff).Post("/", couponcontrollers.CreateTemplate(deps.Coupons, logg))
			r.Get("/mine", couponcontrollers.ListMine(deps.Coupons, logg))
			r.Post("/preview", couponcontrollers.Preview(deps.Payments, logg))
			r.Post("/{couponId}/claim", couponcontrollers.Claim(deps.Coupons, logg))
		})

		r.Route("/refunds", func(r chi.Router) {
			r.With(staff).Get("/pending", refundcontrollers.ListPending(deps.Refunds, logg))
			r.With(staff).Post("/{refundId}/approve", refundcontrollers.Approve(deps.Refunds, logg))
			r.With(staff).Post("/{refundId}/reject", refundcontrollers.Reject(deps.Refunds, logg))
		})

		r.Route("/loyalty", func(r chi.Router) {
			r.Get("/me", loyaltycontrollers.Me(deps.Loyalty, logg))
			r.With(staff).Put("/{loyaltyId}/tier", loyaltycontrollers.UpdateTier(deps.Loyalty, logg))
		})
	})

	return r
}
