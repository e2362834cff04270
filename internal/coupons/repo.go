package coupons

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Repository persists coupon rows. Counter and status changes are single
// conditional statements so concurrent redemptions cannot overshoot.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, coupon *models.Coupon) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	FindGlobalByCode(ctx context.Context, code string) (*models.Coupon, error)
	FindIssuedByOwnerCode(ctx context.Context, ownerID uuid.UUID, code string, availableOnly bool) (*models.Coupon, error)
	FindIssuedByOwnerParentCode(ctx context.Context, ownerID uuid.UUID, code string) (*models.Coupon, error)
	FindIssuedByOwnerParent(ctx context.Context, ownerID, parentID uuid.UUID) (*models.Coupon, error)
	ListIssuedForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Coupon, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) (bool, error)
	MarkIssuedUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
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

func (r *repository) Create(ctx context.Context, coupon *models.Coupon) error {
	return r.db.WithContext(ctx).Create(coupon).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) FindGlobalByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).
		Where("scope = ? AND code = ?", enums.CouponScopeGlobal, code).
		First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) FindIssuedByOwnerCode(ctx context.Context, ownerID uuid.UUID, code string, availableOnly bool) (*models.Coupon, error) {
	query := r.db.WithContext(ctx).
		Where("scope = ? AND owner_id = ? AND code = ?", enums.CouponScopeIssued, ownerID, code)
	if availableOnly {
		query = query.Where("status = ?", enums.IssuedCouponStatusAvailable)
	}
	var coupon models.Coupon
	if err := query.Order("created_at DESC").First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) FindIssuedByOwnerParentCode(ctx context.Context, ownerID uuid.UUID, code string) (*models.Coupon, error) {
	templates := r.db.Model(&models.Coupon{}).
		Select("id").
		Where("scope = ? AND code = ?", enums.CouponScopeGlobal, code)

	var coupon models.Coupon
	if err := r.db.WithContext(ctx).
		Where("scope = ? AND owner_id = ? AND status = ?", enums.CouponScopeIssued, ownerID, enums.IssuedCouponStatusAvailable).
		Where("parent_id IN (?)", templates).
		Order("created_at DESC").
		First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) FindIssuedByOwnerParent(ctx context.Context, ownerID, parentID uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).
		Where("scope = ? AND owner_id = ? AND parent_id = ?", enums.CouponScopeIssued, ownerID, parentID).
		First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) ListIssuedForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Coupon, error) {
	var rows []models.Coupon
	if err := r.db.WithContext(ctx).
		Where("scope = ? AND owner_id = ?", enums.CouponScopeIssued, ownerID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// IncrementUsage bumps used_count on a template while it is under its limit.
// It reports false when the limit was already reached.
func (r *repository) IncrementUsage(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND scope = ?", id, enums.CouponScopeGlobal).
		Where("(usage_limit = 0 OR used_count < usage_limit)").
		Updates(map[string]any{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkIssuedUsed moves an issued coupon from available to used. It reports
// false when the coupon was not available.
func (r *repository) MarkIssuedUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND scope = ? AND status = ?", id, enums.CouponScopeIssued, enums.IssuedCouponStatusAvailable).
		Updates(map[string]any{
			"status":     enums.IssuedCouponStatusUsed,
			"used_at":    usedAt,
			"updated_at": usedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
