package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/vetcare/clinic-finance/internal/payments"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

const defaultFailureReason = "payment failed at gateway"

// gatewayPayments is the part of the payment processor driven by Stripe.
type gatewayPayments interface {
	ConfirmGateway(ctx context.Context, intentID string) (*payments.Confirmation, error)
	FailGateway(ctx context.Context, intentID, reason string) (*models.Payment, error)
}

type ServiceParams struct {
	Payments gatewayPayments
	Logger   *logger.Logger
}

// Service applies payment intent events to local payments.
type Service struct {
	payments gatewayPayments
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{payments: params.Payments, logg: params.Logger}, nil
}

// HandleEvent routes a verified Stripe event. Events for intents this
// service does not know about, and outcomes that lost to an earlier
// settlement, are acknowledged so Stripe stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		ctx = s.logg.WithField(ctx, "intent_id", intent.ID)
		confirmation, err := s.payments.ConfirmGateway(ctx, intent.ID)
		if err != nil {
			return s.acknowledge(ctx, err)
		}
		if confirmation.AlreadyConfirmed {
			s.logg.Info(ctx, "payment intent already confirmed")
		}
		return nil

	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		ctx = s.logg.WithField(ctx, "intent_id", intent.ID)
		if _, err := s.payments.FailGateway(ctx, intent.ID, failureReason(event.Type, intent)); err != nil {
			return s.acknowledge(ctx, err)
		}
		return nil

	default:
		return nil
	}
}

func (s *Service) acknowledge(ctx context.Context, err error) error {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		s.logg.Warn(ctx, "stripe event for unknown payment intent ignored")
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		s.logg.WarnErr(ctx, "stripe event does not apply to current payment state", err)
		return nil
	default:
		return err
	}
}

func decodeIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	return &intent, nil
}

func failureReason(eventType stripe.EventType, intent *stripe.PaymentIntent) string {
	if eventType == stripe.EventTypePaymentIntentCanceled {
		if reason := strings.TrimSpace(string(intent.CancellationReason)); reason != "" {
			return "canceled: " + reason
		}
		return "canceled"
	}
	if intent.LastPaymentError != nil && strings.TrimSpace(intent.LastPaymentError.Msg) != "" {
		return intent.LastPaymentError.Msg
	}
	return defaultFailureReason
}
