package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Repository persists invoices. Every status or total change bumps Version
// and is conditioned on the version the caller read.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByNumber(ctx context.Context, number string) (*models.Invoice, error)
	ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error)
	ReplaceLineItems(ctx context.Context, invoice *models.Invoice, items []models.InvoiceLineItem) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, version int64, status enums.InvoiceStatus) (bool, error)
	ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]models.Invoice, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("invoice_number = ?", number).
		First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// ReplaceLineItems swaps the invoice's rows and totals when invoice.Version
// is still current. It reports false on a stale version.
func (r *repository) ReplaceLineItems(ctx context.Context, invoice *models.Invoice, items []models.InvoiceLineItem) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version).
		Updates(map[string]any{
			"subtotal":   invoice.Subtotal,
			"tax":        invoice.Tax,
			"total":      invoice.Total,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	if err := r.db.WithContext(ctx).Where("invoice_id = ?", invoice.ID).Delete(&models.InvoiceLineItem{}).Error; err != nil {
		return false, err
	}
	if len(items) > 0 {
		if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, version int64, status enums.InvoiceStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"status":     status,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListOverdueCandidates returns pending invoices past their due date that
// have no settled payment.
func (r *repository) ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]models.Invoice, error) {
	settled := r.db.Model(&models.Payment{}).
		Select("invoice_id").
		Where("status IN ?", []enums.PaymentStatus{enums.PaymentStatusCompleted, enums.PaymentStatusRefunded})

	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", enums.InvoiceStatusPending, now).
		Where("id NOT IN (?)", settled).
		Order("due_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}
