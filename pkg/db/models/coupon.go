package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Coupon is the persisted row for both coupon variants. Template rows carry
// UsageLimit/UsedCount; issued rows carry OwnerID, ParentID and Status. The
// coupons package converts rows into a typed variant before any logic runs.
type Coupon struct {
	ID               uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Code             string                    `gorm:"column:code;not null;index"`
	Scope            enums.CouponScope         `gorm:"column:scope;type:text;not null;index:ix_coupons_scope_owner_status,priority:1"`
	DiscountType     enums.DiscountType        `gorm:"column:discount_type;type:text;not null"`
	DiscountValue    decimal.Decimal           `gorm:"column:discount_value;type:numeric(12,2);not null"`
	MinInvoiceAmount decimal.Decimal           `gorm:"column:min_invoice_amount;type:numeric(12,2);not null"`
	ExpiresAt        *time.Time                `gorm:"column:expires_at"`
	UsageLimit       int                       `gorm:"column:usage_limit;not null;default:0"`
	UsedCount        int                       `gorm:"column:used_count;not null;default:0"`
	MinTier          *enums.LoyaltyTier        `gorm:"column:min_tier;type:text"`
	OwnerID          *uuid.UUID                `gorm:"column:owner_id;type:uuid;uniqueIndex:ux_coupons_owner_parent;index:ix_coupons_scope_owner_status,priority:2"`
	ParentID         *uuid.UUID                `gorm:"column:parent_id;type:uuid;uniqueIndex:ux_coupons_owner_parent"`
	Status           *enums.IssuedCouponStatus `gorm:"column:status;type:text;index:ix_coupons_scope_owner_status,priority:3"`
	UsedAt           *time.Time                `gorm:"column:used_at"`
	CreatedAt        time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
