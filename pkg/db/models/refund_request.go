package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

// RefundRequest is a payer's request to return money from one payment.
type RefundRequest struct {
	ID                  uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID           uuid.UUID          `gorm:"column:payment_id;type:uuid;not null;index"`
	RequesterID         uuid.UUID          `gorm:"column:requester_id;type:uuid;not null"`
	Amount              decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	RefundedAmount      decimal.Decimal    `gorm:"column:refunded_amount;type:numeric(12,2);not null"`
	Status              enums.RefundStatus `gorm:"column:status;type:text;not null;index"`
	Reason              string             `gorm:"column:reason;type:text;not null"`
	RejectionReason     *string            `gorm:"column:rejection_reason;type:text"`
	GatewayRefundID     *string            `gorm:"column:gateway_refund_id"`
	DecidedAt           *time.Time         `gorm:"column:decided_at"`
	ApprovalClaimedAt   *time.Time         `gorm:"column:approval_claimed_at"`
	ApprovalNotifiedAt  *time.Time         `gorm:"column:approval_notified_at"`
	RejectionClaimedAt  *time.Time         `gorm:"column:rejection_claimed_at"`
	RejectionNotifiedAt *time.Time         `gorm:"column:rejection_notified_at"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
