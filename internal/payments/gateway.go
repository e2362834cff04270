package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/types"
)

// Gateway is the card processor behind gateway payments. Errors carry the
// GATEWAY_ERROR code once retries are exhausted.
type Gateway interface {
	CreateIntent(ctx context.Context, req types.IntentRequest) (*types.GatewayIntent, error)
	UpdateIntent(ctx context.Context, intentID string, amount decimal.Decimal, currency string) (*types.GatewayIntent, error)
	CancelIntent(ctx context.Context, intentID string) error
	RetrieveIntent(ctx context.Context, intentID string) (*types.GatewayIntent, error)
	CreateRefund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (*types.GatewayRefund, error)
}
