package types

import "github.com/shopspring/decimal"

const (
	// IntentStatusSucceeded is the only remote status that completes a payment.
	IntentStatusSucceeded = "succeeded"
	IntentStatusCanceled  = "canceled"
)

// GatewayIntent is the provider-neutral view of a remote payment intent.
type GatewayIntent struct {
	ID             string          `json:"id"`
	ClientSecret   string          `json:"client_secret,omitempty"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	LatestChargeID string          `json:"latest_charge_id,omitempty"`
}

// Succeeded reports whether the remote side captured the funds.
func (i GatewayIntent) Succeeded() bool {
	return i.Status == IntentStatusSucceeded
}

// IntentRequest asks the gateway for a new payment intent.
type IntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Canceled reports whether the intent can no longer be confirmed.
func (i GatewayIntent) Canceled() bool {
	return i.Status == IntentStatusCanceled
}

// GatewayRefund is the provider-neutral view of a remote refund.
type GatewayRefund struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}
