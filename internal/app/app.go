// Package app assembles the finance services shared by the api, cron-worker
// and financectl binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/vetcare/clinic-finance/internal/coupons"
	"github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/internal/ledger"
	"github.com/vetcare/clinic-finance/internal/loyalty"
	"github.com/vetcare/clinic-finance/internal/notifications"
	"github.com/vetcare/clinic-finance/internal/owners"
	"github.com/vetcare/clinic-finance/internal/payments"
	"github.com/vetcare/clinic-finance/internal/refunds"
	"github.com/vetcare/clinic-finance/pkg/config"
	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/metrics"
	"github.com/vetcare/clinic-finance/pkg/pubsub"
	"github.com/vetcare/clinic-finance/pkg/stripe"
)

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Registerer prometheus.Registerer
}

// Services is the wired finance core. Stripe and Pub/Sub are optional: without
// a Stripe key gateway flows fail with a dependency error, and without a GCP
// project notifications are written to the log.
type Services struct {
	Invoices      invoices.Service
	Coupons       coupons.Service
	Loyalty       loyalty.Service
	Ledger        ledger.Service
	Payments      payments.Service
	Refunds       refunds.Service
	PaymentsRepo  payments.Repository
	Notifier      *notifications.Notifier
	Metrics       *metrics.FinanceMetrics
	Stripe        *stripe.Client
	PubSub        *pubsub.Client
	GatewayActive bool
}

func Build(ctx context.Context, params Params) (*Services, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	cfg := params.Config
	logg := params.Logger
	gdb := params.DB.DB()

	out := &Services{Metrics: metrics.NewFinanceMetrics(params.Registerer)}

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:      invoices.NewRepository(gdb),
		Tx:        params.DB,
		Logger:    logg,
		Metrics:   out.Metrics,
		TaxRate:   cfg.Finance.Tax(),
		DueWindow: cfg.Finance.InvoiceDueWindow(),
	})
	if err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}
	out.Invoices = invoiceSvc

	loyaltyRepo := loyalty.NewRepository(gdb)
	couponSvc, err := coupons.NewService(coupons.ServiceParams{
		Repo:   coupons.NewRepository(gdb),
		Tiers:  loyalty.NewTierLookup(loyaltyRepo),
		Logger: logg,
	})
	if err != nil {
		return nil, fmt.Errorf("coupon service: %w", err)
	}
	out.Coupons = couponSvc

	loyaltySvc, err := loyalty.NewService(loyalty.ServiceParams{
		Repo:        loyaltyRepo,
		Bonus:       couponSvc,
		Tx:          params.DB,
		Logger:      logg,
		BonusExpiry: cfg.Finance.BonusCouponExpiry(),
	})
	if err != nil {
		return nil, fmt.Errorf("loyalty service: %w", err)
	}
	out.Loyalty = loyaltySvc

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gdb))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	out.Ledger = ledgerSvc

	dispatcher, err := out.dispatcher(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	directory, err := owners.NewDirectory(gdb)
	if err != nil {
		return nil, fmt.Errorf("owner directory: %w", err)
	}
	notifier, err := notifications.NewNotifier(dispatcher, directory, logg, out.Metrics)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	out.Notifier = notifier

	var gateway *stripe.Gateway
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		out.Stripe, err = stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		if gateway, err = stripe.NewGateway(out.Stripe, out.Metrics); err != nil {
			return nil, fmt.Errorf("stripe gateway: %w", err)
		}
		out.GatewayActive = true
	} else {
		logg.Warn(ctx, "stripe api key not set, gateway payments disabled")
	}

	out.PaymentsRepo = payments.NewRepository(gdb)
	paymentParams := payments.ServiceParams{
		Repo:     out.PaymentsRepo,
		Invoices: invoiceSvc,
		Coupons:  couponSvc,
		Loyalty:  loyaltySvc,
		Ledger:   ledgerSvc,
		Notifier: notifier,
		Tx:       params.DB,
		Logger:   logg,
		Metrics:  out.Metrics,
		Currency: cfg.Finance.Currency,
	}
	refundParams := refunds.ServiceParams{
		Repo:     refunds.NewRepository(gdb),
		Payments: out.PaymentsRepo,
		Invoices: invoiceSvc,
		Ledger:   ledgerSvc,
		Notifier: notifier,
		Tx:       params.DB,
		Logger:   logg,
		Metrics:  out.Metrics,
		Window:   cfg.Finance.RefundWindow(),
	}
	// A nil *stripe.Gateway stored in the interface would not compare equal
	// to nil inside the services.
	if gateway != nil {
		paymentParams.Gateway = gateway
		refundParams.Gateway = gateway
	}

	if out.Payments, err = payments.NewService(paymentParams); err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}
	if out.Refunds, err = refunds.NewService(refundParams); err != nil {
		return nil, fmt.Errorf("refund service: %w", err)
	}
	return out, nil
}

func (s *Services) dispatcher(ctx context.Context, cfg *config.Config, logg *logger.Logger) (notifications.Dispatcher, error) {
	if !cfg.PubSub.Enabled(cfg.GCP) {
		logg.Warn(ctx, "pubsub not configured, notifications will be logged only")
		return notifications.NewLogDispatcher(logg), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	s.PubSub = client
	dispatcher, err := notifications.NewPubSubDispatcher(client.NotificationPublisher(), logg, cfg.PubSub.PublishTimeout)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub dispatcher: %w", err)
	}
	return dispatcher, nil
}

// Close releases the optional external clients.
func (s *Services) Close() error {
	var err error
	if s.PubSub != nil {
		err = multierr.Append(err, s.PubSub.Close())
	}
	return err
}
