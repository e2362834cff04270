package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Repository persists refund requests. Decisions and notification markers
// are conditional updates so concurrent callers cannot both win.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.RefundRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error)
	ListPending(ctx context.Context, limit int) ([]models.RefundRequest, error)
	HasPending(ctx context.Context, paymentID uuid.UUID) (bool, error)
	MarkApproved(ctx context.Context, id uuid.UUID, refunded decimal.Decimal, gatewayRefundID *string, at time.Time) (bool, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	ClaimNotice(ctx context.Context, id uuid.UUID, kind enums.NotificationKind, at, staleBefore time.Time) (bool, error)
	ConfirmNotice(ctx context.Context, id uuid.UUID, kind enums.NotificationKind, at time.Time) error
	ReleaseNotice(ctx context.Context, id uuid.UUID, kind enums.NotificationKind) error
	ListNoticeBacklog(ctx context.Context, since, staleBefore time.Time, limit int) ([]models.RefundRequest, error)
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

func (r *repository) Create(ctx context.Context, request *models.RefundRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var request models.RefundRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error) {
	var requests []models.RefundRequest
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.RefundRequest, error) {
	var requests []models.RefundRequest
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.RefundStatusPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) HasPending(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("payment_id = ? AND status = ?", paymentID, enums.RefundStatusPending).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) MarkApproved(ctx context.Context, id uuid.UUID, refunded decimal.Decimal, gatewayRefundID *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":          enums.RefundStatusApproved,
		"refunded_amount": refunded,
		"decided_at":      at,
		"updated_at":      at,
	}
	if gatewayRefundID != nil {
		updates["gateway_refund_id"] = *gatewayRefundID
	}
	return r.decide(ctx, id, updates)
}

func (r *repository) MarkRejected(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	return r.decide(ctx, id, map[string]any{
		"status":           enums.RefundStatusRejected,
		"rejection_reason": reason,
		"decided_at":       at,
		"updated_at":       at,
	})
}

func (r *repository) decide(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimNotice takes the approval or rejection lease when that notice has
// not gone out and no claim newer than staleBefore is held.
func (r *repository) ClaimNotice(ctx context.Context, id uuid.UUID, kind enums.NotificationKind, at, staleBefore time.Time) (bool, error) {
	claimed, sent := noticeColumns(kind)
	res := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND "+sent+" IS NULL", id).
		Where(claimed+" IS NULL OR "+claimed+" < ?", staleBefore).
		Update(claimed, at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ConfirmNotice(ctx context.Context, id uuid.UUID, kind enums.NotificationKind, at time.Time) error {
	_, sent := noticeColumns(kind)
	return r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ?", id).
		Update(sent, at).Error
}

func (r *repository) ReleaseNotice(ctx context.Context, id uuid.UUID, kind enums.NotificationKind) error {
	claimed, sent := noticeColumns(kind)
	return r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND "+sent+" IS NULL", id).
		Update(claimed, nil).Error
}

// ListNoticeBacklog returns requests decided since the cutoff whose
// decision notice has not gone out and is not leased by a live claim.
func (r *repository) ListNoticeBacklog(ctx context.Context, since, staleBefore time.Time, limit int) ([]models.RefundRequest, error) {
	var requests []models.RefundRequest
	query := r.db.WithContext(ctx).
		Where("decided_at >= ?", since).
		Where("((status = ? AND approval_notified_at IS NULL AND (approval_claimed_at IS NULL OR approval_claimed_at < ?)) OR "+
			"(status = ? AND rejection_notified_at IS NULL AND (rejection_claimed_at IS NULL OR rejection_claimed_at < ?)))",
			enums.RefundStatusApproved, staleBefore, enums.RefundStatusRejected, staleBefore).
		Order("decided_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// noticeColumns returns the lease and sent-at columns for a decision notice.
func noticeColumns(kind enums.NotificationKind) (claimed, sent string) {
	if kind == enums.NotificationKindRefundRejected {
		return "rejection_claimed_at", "rejection_notified_at"
	}
	return "approval_claimed_at", "approval_notified_at"
}
