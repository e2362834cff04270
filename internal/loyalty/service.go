package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/internal/coupons"
	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/money"
)

const defaultBonusExpiry = 60 * 24 * time.Hour

// Service accrues loyalty points and manages tiers.
type Service interface {
	TierFor(ctx context.Context, ownerID uuid.UUID) (enums.LoyaltyTier, error)
	Get(ctx context.Context, ownerID uuid.UUID) (*Account, error)
	AddPoints(ctx context.Context, ownerID uuid.UUID, amountSpent decimal.Decimal) (*Accrual, error)
	AddPointsTx(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, amountSpent decimal.Decimal) (*Accrual, error)
	UpdateTier(ctx context.Context, accountID uuid.UUID, tier enums.LoyaltyTier) (*Account, error)
}

// BonusIssuer mints the fixed coupon granted on a tier promotion.
type BonusIssuer interface {
	MintBonus(ctx context.Context, tx *gorm.DB, input coupons.BonusInput) (*coupons.Coupon, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Account is the read view of an owner's loyalty standing. Owners without
// any accrual yet get a bronze view with a nil ID.
type Account struct {
	ID           *uuid.UUID         `json:"id,omitempty"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	Points       int64              `json:"points"`
	Tier         enums.LoyaltyTier  `json:"tier"`
	NextTier     *enums.LoyaltyTier `json:"next_tier,omitempty"`
	PointsToNext int64              `json:"points_to_next,omitempty"`
}

// Accrual describes the outcome of one AddPoints call.
type Accrual struct {
	Account       Account           `json:"account"`
	PointsEarned  int64             `json:"points_earned"`
	PreviousTier  enums.LoyaltyTier `json:"previous_tier"`
	BonusCouponID *uuid.UUID        `json:"bonus_coupon_id,omitempty"`
}

type ServiceParams struct {
	Repo        Repository
	Bonus       BonusIssuer
	Tx          txRunner
	Logger      *logger.Logger
	BonusExpiry time.Duration
	Now         func() time.Time
}

type service struct {
	repo        Repository
	bonus       BonusIssuer
	tx          txRunner
	logg        *logger.Logger
	bonusExpiry time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("loyalty repository required")
	}
	if params.Bonus == nil {
		return nil, fmt.Errorf("bonus issuer required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	expiry := params.BonusExpiry
	if expiry <= 0 {
		expiry = defaultBonusExpiry
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:        params.Repo,
		bonus:       params.Bonus,
		tx:          params.Tx,
		logg:        params.Logger,
		bonusExpiry: expiry,
		now:         now,
	}, nil
}

func (s *service) TierFor(ctx context.Context, ownerID uuid.UUID) (enums.LoyaltyTier, error) {
	return NewTierLookup(s.repo).TierFor(ctx, ownerID)
}

func (s *service) Get(ctx context.Context, ownerID uuid.UUID) (*Account, error) {
	row, err := s.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		if db.IsNotFound(err) {
			return toAccount(models.LoyaltyAccount{OwnerID: ownerID, Tier: enums.LoyaltyTierBronze}, false), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load loyalty account")
	}
	return toAccount(*row, true), nil
}

func (s *service) AddPoints(ctx context.Context, ownerID uuid.UUID, amountSpent decimal.Decimal) (*Accrual, error) {
	var accrual *Accrual
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		accrual, err = s.AddPointsTx(ctx, tx, ownerID, amountSpent)
		return err
	})
	if err != nil {
		return nil, err
	}
	return accrual, nil
}

// AddPointsTx credits round(amountSpent) points inside tx. Tiers only move
// up through accrual; a promotion mints one bonus coupon in the same tx.
func (s *service) AddPointsTx(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, amountSpent decimal.Decimal) (*Accrual, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	repo := s.repo.WithTx(tx)

	account, err := repo.EnsureAccount(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ensure loyalty account")
	}
	earned := money.Points(amountSpent)
	accrual := &Accrual{PointsEarned: earned, PreviousTier: account.Tier}
	if earned == 0 {
		accrual.Account = *toAccount(*account, true)
		return accrual, nil
	}

	if err := repo.IncrementPoints(ctx, account.ID, earned); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment loyalty points")
	}
	account, err = repo.FindByID(ctx, account.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload loyalty account")
	}

	derived := TierForPoints(account.Points)
	if derived.Rank() > account.Tier.Rank() {
		promoted, err := repo.PromoteTier(ctx, account.ID, account.Tier, derived)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "promote loyalty tier")
		}
		if promoted {
			account.Tier = derived
			coupon, err := s.bonus.MintBonus(ctx, tx, coupons.BonusInput{
				OwnerID:   ownerID,
				Tier:      derived,
				Value:     BonusFor(derived),
				ExpiresAt: s.now().Add(s.bonusExpiry),
			})
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint tier bonus coupon")
			}
			accrual.BonusCouponID = &coupon.ID
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"owner_id":  ownerID.String(),
				"tier":      derived.String(),
				"coupon_id": coupon.ID.String(),
			}), "loyalty tier promoted")
		}
	}

	accrual.Account = *toAccount(*account, true)
	return accrual, nil
}

// UpdateTier is the staff override. It ignores point thresholds and never
// mints a bonus coupon.
func (s *service) UpdateTier(ctx context.Context, accountID uuid.UUID, tier enums.LoyaltyTier) (*Account, error) {
	if !tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid loyalty tier").
			WithDetails(map[string]any{"tier": tier})
	}
	if err := s.repo.SetTier(ctx, accountID, tier); err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "loyalty account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update loyalty tier")
	}
	row, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload loyalty account")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"loyalty_id": accountID.String(),
		"tier":       tier.String(),
	}), "loyalty tier overridden")
	return toAccount(*row, true), nil
}

// TierLookup reads tiers straight from the repository. It lets the coupons
// service check tier gates without depending on the full loyalty service.
type TierLookup struct {
	repo Repository
}

func NewTierLookup(repo Repository) *TierLookup {
	return &TierLookup{repo: repo}
}

func (l *TierLookup) TierFor(ctx context.Context, ownerID uuid.UUID) (enums.LoyaltyTier, error) {
	row, err := l.repo.FindByOwner(ctx, ownerID)
	if err != nil {
		if db.IsNotFound(err) {
			return enums.LoyaltyTierBronze, nil
		}
		return "", err
	}
	return row.Tier, nil
}

func toAccount(row models.LoyaltyAccount, persisted bool) *Account {
	acc := &Account{
		OwnerID: row.OwnerID,
		Points:  row.Points,
		Tier:    row.Tier,
	}
	if persisted {
		id := row.ID
		acc.ID = &id
	}
	for _, th := range thresholds {
		if th.tier.Rank() > row.Tier.Rank() {
			next := th.tier
			acc.NextTier = &next
			if th.points > row.Points {
				acc.PointsToNext = th.points - row.Points
			}
			break
		}
	}
	return acc
}
