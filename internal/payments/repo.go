package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

// SupersededReason marks pending payments replaced by a newer attempt.
const SupersededReason = "superseded"

// Repository persists payments. Every status move is a conditional update
// on the status the caller expects.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	FindPendingGateway(ctx context.Context, invoiceID uuid.UUID) (*models.Payment, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time, chargeID *string, remoteSucceeded bool) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	SupersedePending(ctx context.Context, invoiceID, exceptID uuid.UUID, method *enums.PaymentMethod) ([]models.Payment, error)
	UpdatePendingTerms(ctx context.Context, payment *models.Payment) (bool, error)
	ApplyRefund(ctx context.Context, id uuid.UUID, expected, next decimal.Decimal, status enums.PaymentStatus, gatewayRefundID *string) (bool, error)
	ClaimReceipt(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (bool, error)
	ConfirmReceipt(ctx context.Context, id uuid.UUID, at time.Time) error
	ReleaseReceipt(ctx context.Context, id uuid.UUID) error
	ListReceiptBacklog(ctx context.Context, since, staleBefore time.Time, limit int) ([]models.Payment, error)
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

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("gateway_intent_id = ?", intentID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPendingGateway(ctx context.Context, invoiceID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND method = ? AND status = ?", invoiceID, enums.PaymentMethodGateway, enums.PaymentStatusPending).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// MarkCompleted moves a pending payment to completed. With remoteSucceeded a
// failed payment is completed as well: the gateway captured the funds after a
// decline or after the attempt was superseded locally.
func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time, chargeID *string, remoteSucceeded bool) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id)
	if remoteSucceeded {
		query = query.Where("status IN ?", []string{enums.PaymentStatusPending.String(), enums.PaymentStatusFailed.String()})
	} else {
		query = query.Where("status = ?", enums.PaymentStatusPending)
	}
	updates := map[string]any{
		"status":         enums.PaymentStatusCompleted,
		"completed_at":   at,
		"failure_reason": nil,
		"updated_at":     at,
	}
	if chargeID != nil {
		updates["gateway_charge_id"] = *chargeID
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SupersedePending fails every other pending payment on the invoice,
// optionally only those of one method, and returns the rows it changed.
func (r *repository) SupersedePending(ctx context.Context, invoiceID, exceptID uuid.UUID, method *enums.PaymentMethod) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).
		Where("invoice_id = ? AND status = ? AND id <> ?", invoiceID, enums.PaymentStatusPending, exceptID)
	if method != nil {
		query = query.Where("method = ?", *method)
	}
	var pending []models.Payment
	if err := query.Find(&pending).Error; err != nil {
		return nil, err
	}

	superseded := make([]models.Payment, 0, len(pending))
	for _, p := range pending {
		ok, err := r.MarkFailed(ctx, p.ID, SupersededReason)
		if err != nil {
			return nil, err
		}
		if ok {
			superseded = append(superseded, p)
		}
	}
	return superseded, nil
}

// UpdatePendingTerms rewrites amount, discount, coupon and currency of a
// payment that is still pending.
func (r *repository) UpdatePendingTerms(ctx context.Context, payment *models.Payment) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"amount":     payment.Amount,
			"discount":   payment.Discount,
			"coupon_id":  payment.CouponID,
			"currency":   payment.Currency,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ApplyRefund advances refunded_amount from expected to next. It reports
// false when another refund moved the counter first.
func (r *repository) ApplyRefund(ctx context.Context, id uuid.UUID, expected, next decimal.Decimal, status enums.PaymentStatus, gatewayRefundID *string) (bool, error) {
	updates := map[string]any{
		"refunded_amount": next,
		"status":          status,
		"updated_at":      time.Now().UTC(),
	}
	if gatewayRefundID != nil {
		updates["stripe_refund_id"] = *gatewayRefundID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ? AND refunded_amount = ?", id, enums.PaymentStatusCompleted, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimReceipt takes the receipt lease when no receipt went out and no
// claim newer than staleBefore is held.
func (r *repository) ClaimReceipt(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND receipt_sent_at IS NULL", id).
		Where("receipt_claimed_at IS NULL OR receipt_claimed_at < ?", staleBefore).
		Update("receipt_claimed_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ConfirmReceipt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Update("receipt_sent_at", at).Error
}

func (r *repository) ReleaseReceipt(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND receipt_sent_at IS NULL", id).
		Update("receipt_claimed_at", nil).Error
}

// ListReceiptBacklog returns completed payments since the cutoff whose
// receipt has not gone out and is not leased by a live claim.
func (r *repository) ListReceiptBacklog(ctx context.Context, since, staleBefore time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.db.WithContext(ctx).
		Where("status IN ? AND receipt_sent_at IS NULL AND completed_at >= ?",
			[]enums.PaymentStatus{enums.PaymentStatusCompleted, enums.PaymentStatusRefunded}, since).
		Where("receipt_claimed_at IS NULL OR receipt_claimed_at < ?", staleBefore).
		Order("completed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
