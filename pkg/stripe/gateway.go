package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/metrics"
	"github.com/vetcare/clinic-finance/pkg/money"
	"github.com/vetcare/clinic-finance/pkg/types"
)

const defaultMaxRetries = 3

// intentsAPI is the slice of the Stripe client the gateway calls.
type intentsAPI interface {
	CreateIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	UpdateIntent(ctx context.Context, id string, params *stripe.PaymentIntentUpdateParams) (*stripe.PaymentIntent, error)
	CancelIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

type clientAPI struct {
	sc *stripe.Client
}

func (c clientAPI) CreateIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Create(ctx, params)
}

func (c clientAPI) UpdateIntent(ctx context.Context, id string, params *stripe.PaymentIntentUpdateParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Update(ctx, id, params)
}

func (c clientAPI) CancelIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Cancel(ctx, id, params)
}

func (c clientAPI) RetrieveIntent(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Retrieve(ctx, id, params)
}

func (c clientAPI) CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	return c.sc.V1Refunds.Create(ctx, params)
}

// Gateway adapts Stripe payment intents and refunds to the payment
// processor's gateway contract. Calls are retried with exponential backoff;
// creates carry idempotency keys so retries never double-charge.
type Gateway struct {
	api        intentsAPI
	maxRetries uint64
	metrics    *metrics.FinanceMetrics
}

// NewGateway builds the gateway over an initialized client.
func NewGateway(client *Client, m *metrics.FinanceMetrics) (*Gateway, error) {
	if client == nil || client.api == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return newGateway(clientAPI{sc: client.api}, client.maxRetries, m), nil
}

func newGateway(api intentsAPI, maxRetries int, m *metrics.FinanceMetrics) *Gateway {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	return &Gateway{api: api, maxRetries: uint64(maxRetries), metrics: m}
}

func (g *Gateway) CreateIntent(ctx context.Context, req types.IntentRequest) (*types.GatewayIntent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(money.ToMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var intent *stripe.PaymentIntent
	err := g.retry(ctx, "create_intent", func() error {
		var err error
		intent, err = g.api.CreateIntent(ctx, params)
		return err
	})
	if err != nil {
		return nil, gatewayError(err, "create payment intent")
	}
	return toIntent(intent), nil
}

func (g *Gateway) UpdateIntent(ctx context.Context, id string, amount decimal.Decimal, currency string) (*types.GatewayIntent, error) {
	params := &stripe.PaymentIntentUpdateParams{
		Amount:   stripe.Int64(money.ToMinorUnits(amount)),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	var intent *stripe.PaymentIntent
	err := g.retry(ctx, "update_intent", func() error {
		var err error
		intent, err = g.api.UpdateIntent(ctx, id, params)
		return err
	})
	if err != nil {
		return nil, gatewayError(err, "update payment intent")
	}
	return toIntent(intent), nil
}

func (g *Gateway) CancelIntent(ctx context.Context, id string) error {
	err := g.retry(ctx, "cancel_intent", func() error {
		_, err := g.api.CancelIntent(ctx, id, &stripe.PaymentIntentCancelParams{})
		return err
	})
	if err != nil {
		return gatewayError(err, "cancel payment intent")
	}
	return nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, id string) (*types.GatewayIntent, error) {
	var intent *stripe.PaymentIntent
	err := g.retry(ctx, "retrieve_intent", func() error {
		var err error
		intent, err = g.api.RetrieveIntent(ctx, id, &stripe.PaymentIntentRetrieveParams{})
		return err
	})
	if err != nil {
		return nil, gatewayError(err, "retrieve payment intent")
	}
	return toIntent(intent), nil
}

func (g *Gateway) CreateRefund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (*types.GatewayRefund, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(money.ToMinorUnits(amount)),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	var refund *stripe.Refund
	err := g.retry(ctx, "create_refund", func() error {
		var err error
		refund, err = g.api.CreateRefund(ctx, params)
		return err
	})
	if err != nil {
		return nil, gatewayError(err, "create refund")
	}
	return &types.GatewayRefund{
		ID:     refund.ID,
		Status: string(refund.Status),
		Amount: money.FromMinorUnits(refund.Amount),
	}, nil
}

func (g *Gateway) retry(ctx context.Context, operation string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, g.maxRetries), ctx), func(error, time.Duration) {
		g.metrics.GatewayRetry(operation)
	})
}

// retryable treats network failures, rate limits and 5xx responses as
// transient. Other Stripe errors are final.
func retryable(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError
}

func gatewayError(err error, action string) error {
	details := map[string]any{"action": action}
	var se *stripe.Error
	if errors.As(err, &se) {
		details["gateway_message"] = se.Msg
		details["gateway_code"] = string(se.Code)
		details["http_status"] = se.HTTPStatusCode
	} else {
		details["gateway_message"] = err.Error()
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, action).WithDetails(details)
}

func toIntent(pi *stripe.PaymentIntent) *types.GatewayIntent {
	if pi == nil {
		return &types.GatewayIntent{}
	}
	intent := &types.GatewayIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       money.FromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
	}
	if pi.LatestCharge != nil {
		intent.LatestChargeID = pi.LatestCharge.ID
	}
	return intent
}
