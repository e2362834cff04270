package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

type LineItemRequest struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    int             `json:"quantity" validate:"required,min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type CreateInvoiceRequest struct {
	OwnerID   uuid.UUID            `json:"owner_id" validate:"required"`
	LineItems []LineItemRequest    `json:"line_items" validate:"required,min=1,dive"`
	Source    *invoices.SourceLink `json:"source,omitempty"`
}

type EditLineItemsRequest struct {
	LineItems []LineItemRequest `json:"line_items" validate:"required,min=1,dive"`
}

type SetStatusRequest struct {
	Status enums.InvoiceStatus `json:"status" validate:"required"`
}

type OfflinePaymentRequest struct {
	Method    enums.PaymentMethod `json:"method" validate:"required"`
	CouponRef string              `json:"coupon,omitempty" validate:"max=64"`
}

type GatewayPaymentRequest struct {
	Currency  string `json:"currency,omitempty" validate:"max=3"`
	CouponRef string `json:"coupon,omitempty" validate:"max=64"`
}

type CreateCouponRequest struct {
	Code             string             `json:"code" validate:"required,max=40"`
	DiscountType     enums.DiscountType `json:"discount_type" validate:"required"`
	DiscountValue    decimal.Decimal    `json:"discount_value"`
	MinInvoiceAmount decimal.Decimal    `json:"min_invoice_amount"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	UsageLimit       int                `json:"usage_limit" validate:"gte=0"`
	MinTier          *enums.LoyaltyTier `json:"min_tier,omitempty"`
}

// ClaimCouponRequest is optional; staff may claim on behalf of an owner.
type ClaimCouponRequest struct {
	OwnerID *uuid.UUID `json:"owner_id,omitempty"`
}

type PreviewRequest struct {
	InvoiceID uuid.UUID `json:"invoice_id" validate:"required"`
	CouponRef string    `json:"coupon" validate:"required,max=64"`
}

type RefundRequestBody struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason" validate:"required,max=1000"`
}

type RejectRefundRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type UpdateTierRequest struct {
	Tier enums.LoyaltyTier `json:"tier" validate:"required"`
}

func (r LineItemRequest) Input() invoices.LineItemInput {
	return invoices.LineItemInput{
		Description: r.Description,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
	}
}

func LineItemInputs(items []LineItemRequest) []invoices.LineItemInput {
	out := make([]invoices.LineItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, item.Input())
	}
	return out
}
