package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Invoice is the billable record for one clinic visit, cart or daycare stay.
// Status is written by staff (pending/overdue/cancelled) or by reconciliation
// (paid/refunded); Version guards the reconciliation write.
type Invoice struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceNumber string               `gorm:"column:invoice_number;not null;uniqueIndex"`
	OwnerID       uuid.UUID            `gorm:"column:owner_id;type:uuid;not null;index"`
	Subtotal      decimal.Decimal      `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Tax           decimal.Decimal      `gorm:"column:tax;type:numeric(12,2);not null"`
	Total         decimal.Decimal      `gorm:"column:total;type:numeric(12,2);not null"`
	Status        enums.InvoiceStatus  `gorm:"column:status;type:text;not null;index"`
	DueDate       time.Time            `gorm:"column:due_date;not null"`
	SourceType    *enums.InvoiceSource `gorm:"column:source_type;type:text;uniqueIndex:ux_invoices_source"`
	SourceID      *uuid.UUID           `gorm:"column:source_id;type:uuid;uniqueIndex:ux_invoices_source"`
	Version       int64                `gorm:"column:version;not null;default:1"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	LineItems []InvoiceLineItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
}

// InvoiceLineItem is one billed row; Position keeps the caller's order.
type InvoiceLineItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID   uuid.UUID       `gorm:"column:invoice_id;type:uuid;not null;index"`
	Position    int             `gorm:"column:position;not null"`
	Description string          `gorm:"column:description;type:text;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal   decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
}
