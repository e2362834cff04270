package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

// FinanceEvent records an immutable money movement. Rows are append-only and
// never read back to derive state.
type FinanceEvent struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID       uuid.UUID              `gorm:"column:invoice_id;type:uuid;not null;index"`
	PaymentID       *uuid.UUID             `gorm:"column:payment_id;type:uuid"`
	RefundRequestID *uuid.UUID             `gorm:"column:refund_request_id;type:uuid"`
	CouponID        *uuid.UUID             `gorm:"column:coupon_id;type:uuid"`
	Type            enums.FinanceEventType `gorm:"column:type;type:text;not null"`
	Amount          decimal.Decimal        `gorm:"column:amount;type:numeric(12,2);not null"`
	Metadata        json.RawMessage        `gorm:"column:metadata"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
}
