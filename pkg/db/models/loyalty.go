package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

// LoyaltyAccount holds an owner's accrued points and current tier.
type LoyaltyAccount struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID   uuid.UUID         `gorm:"column:owner_id;type:uuid;not null;uniqueIndex"`
	Points    int64             `gorm:"column:points;not null;default:0"`
	Tier      enums.LoyaltyTier `gorm:"column:tier;type:text;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
