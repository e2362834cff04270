package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Payment is one attempt to settle an invoice. Amount is the final charge
// after Discount; RefundedAmount only grows and never exceeds Amount.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	PaymentNumber    string              `gorm:"column:payment_number;not null;uniqueIndex"`
	InvoiceID        uuid.UUID           `gorm:"column:invoice_id;type:uuid;not null;index"`
	PayerID          uuid.UUID           `gorm:"column:payer_id;type:uuid;not null"`
	Method           enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string              `gorm:"column:currency;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null;index"`
	CouponID         *uuid.UUID          `gorm:"column:coupon_id;type:uuid"`
	Discount         decimal.Decimal     `gorm:"column:discount;type:numeric(12,2);not null"`
	RefundedAmount   decimal.Decimal     `gorm:"column:refunded_amount;type:numeric(12,2);not null"`
	GatewayIntentID  *string             `gorm:"column:gateway_intent_id;uniqueIndex"`
	GatewayChargeID  *string             `gorm:"column:gateway_charge_id"`
	StripeRefundID   *string             `gorm:"column:stripe_refund_id"`
	FailureReason    *string             `gorm:"column:failure_reason"`
	CompletedAt      *time.Time          `gorm:"column:completed_at"`
	ReceiptClaimedAt *time.Time          `gorm:"column:receipt_claimed_at"`
	ReceiptSentAt    *time.Time          `gorm:"column:receipt_sent_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// RefundableRemaining is the amount still available for refunds.
func (p Payment) RefundableRemaining() decimal.Decimal {
	return decimal.Max(decimal.Zero, p.Amount.Sub(p.RefundedAmount))
}
