package loyalty

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsureAccount(ctx context.Context, ownerID uuid.UUID) (*models.LoyaltyAccount, error)
	FindByOwner(ctx context.Context, ownerID uuid.UUID) (*models.LoyaltyAccount, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LoyaltyAccount, error)
	IncrementPoints(ctx context.Context, id uuid.UUID, delta int64) error
	PromoteTier(ctx context.Context, id uuid.UUID, from, to enums.LoyaltyTier) (bool, error)
	SetTier(ctx context.Context, id uuid.UUID, tier enums.LoyaltyTier) error
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

// EnsureAccount inserts a bronze account for ownerID unless one exists and
// returns the stored row.
func (r *repository) EnsureAccount(ctx context.Context, ownerID uuid.UUID) (*models.LoyaltyAccount, error) {
	account := models.LoyaltyAccount{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Tier:    enums.LoyaltyTierBronze,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(&account).Error; err != nil {
		return nil, err
	}
	return r.FindByOwner(ctx, ownerID)
}

func (r *repository) FindByOwner(ctx context.Context, ownerID uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) IncrementPoints(ctx context.Context, id uuid.UUID, delta int64) error {
	return r.db.WithContext(ctx).
		Model(&models.LoyaltyAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"points":     gorm.Expr("points + ?", delta),
			"updated_at": time.Now().UTC(),
		}).Error
}

// PromoteTier moves the account from one tier to another only if it still
// holds from. It reports whether this call made the change.
func (r *repository) PromoteTier(ctx context.Context, id uuid.UUID, from, to enums.LoyaltyTier) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LoyaltyAccount{}).
		Where("id = ? AND tier = ?", id, from).
		Updates(map[string]any{
			"tier":       to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetTier(ctx context.Context, id uuid.UUID, tier enums.LoyaltyTier) error {
	res := r.db.WithContext(ctx).
		Model(&models.LoyaltyAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"tier":       tier,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
