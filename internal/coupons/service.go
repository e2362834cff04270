package coupons

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/money"
)

// Service resolves, claims and redeems coupons.
type Service interface {
	CreateTemplate(ctx context.Context, input TemplateInput) (*Coupon, error)
	Get(ctx context.Context, id uuid.UUID) (*Coupon, error)
	ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]Coupon, error)
	Resolve(ctx context.Context, ref Ref, invoiceTotal decimal.Decimal, ownerID uuid.UUID) (*Resolution, error)
	Claim(ctx context.Context, templateID, ownerID uuid.UUID) (*Coupon, error)
	ApplyUsage(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) error
	MintBonus(ctx context.Context, tx *gorm.DB, input BonusInput) (*Coupon, error)
}

// TierReader reports an owner's current loyalty tier.
type TierReader interface {
	TierFor(ctx context.Context, ownerID uuid.UUID) (enums.LoyaltyTier, error)
}

// Resolution is an applicable coupon and the discount it grants.
type Resolution struct {
	Coupon   Coupon
	Discount decimal.Decimal
}

// TemplateInput describes a staff-created GLOBAL coupon.
type TemplateInput struct {
	Code             string             `json:"code" validate:"required"`
	DiscountType     enums.DiscountType `json:"discount_type" validate:"required"`
	DiscountValue    decimal.Decimal    `json:"discount_value"`
	MinInvoiceAmount decimal.Decimal    `json:"min_invoice_amount"`
	ExpiresAt        *time.Time         `json:"expires_at"`
	UsageLimit       int                `json:"usage_limit" validate:"gte=0"`
	MinTier          *enums.LoyaltyTier `json:"min_tier"`
}

// BonusInput describes a loyalty bonus coupon minted for one owner.
type BonusInput struct {
	OwnerID   uuid.UUID
	Tier      enums.LoyaltyTier
	Value     decimal.Decimal
	ExpiresAt time.Time
}

type ServiceParams struct {
	Repo   Repository
	Tiers  TierReader
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo  Repository
	tiers TierReader
	logg  *logger.Logger
	now   func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("coupons repository required")
	}
	if params.Tiers == nil {
		return nil, fmt.Errorf("tier reader required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{repo: params.Repo, tiers: params.Tiers, logg: params.Logger, now: now}, nil
}

func (s *service) CreateTemplate(ctx context.Context, input TemplateInput) (*Coupon, error) {
	code := NormalizeCode(input.Code)
	if !codePattern.MatchString(code) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid coupon format").
			WithDetails(map[string]any{"code": input.Code})
	}
	if !input.DiscountType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid discount type")
	}
	if input.DiscountValue.IsNegative() || input.MinInvoiceAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount value and minimum amount must not be negative")
	}
	if input.DiscountType == enums.DiscountTypePercentage && input.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "percentage discount cannot exceed 100")
	}
	if input.UsageLimit < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage limit must not be negative")
	}
	if input.MinTier != nil && !input.MinTier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid minimum tier")
	}

	if _, err := s.repo.FindGlobalByCode(ctx, code); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon code already exists")
	} else if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup coupon code")
	}

	row := &models.Coupon{
		ID:               uuid.New(),
		Code:             code,
		Scope:            enums.CouponScopeGlobal,
		DiscountType:     input.DiscountType,
		DiscountValue:    money.Round2(input.DiscountValue),
		MinInvoiceAmount: money.Round2(input.MinInvoiceAmount),
		ExpiresAt:        input.ExpiresAt,
		UsageLimit:       input.UsageLimit,
		MinTier:          input.MinTier,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon code already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create coupon template")
	}
	return toCoupon(*row)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load coupon")
	}
	return toCoupon(*row)
}

func (s *service) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]Coupon, error) {
	rows, err := s.repo.ListIssuedForOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list owner coupons")
	}
	out := make([]Coupon, 0, len(rows))
	for _, row := range rows {
		c, err := fromModel(row)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode coupon")
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *service) Resolve(ctx context.Context, ref Ref, invoiceTotal decimal.Decimal, ownerID uuid.UUID) (*Resolution, error) {
	row, err := s.lookup(ctx, ref, ownerID)
	if err != nil {
		return nil, err
	}
	coupon, err := fromModel(*row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode coupon")
	}
	if issued, ok := coupon.Variant.(Issued); ok && issued.OwnerID != ownerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	if err := coupon.CanApply(invoiceTotal, s.now()); err != nil {
		return nil, err
	}
	if _, ok := coupon.Variant.(Template); ok {
		if err := s.checkTier(ctx, coupon, ownerID); err != nil {
			return nil, err
		}
	}
	return &Resolution{Coupon: coupon, Discount: coupon.Discount(invoiceTotal)}, nil
}

// checkTier enforces the template's minimum loyalty tier for ownerID.
// Personal copies were gated when they were claimed.
func (s *service) checkTier(ctx context.Context, coupon Coupon, ownerID uuid.UUID) error {
	if coupon.MinTier == nil {
		return nil
	}
	tier, err := s.tiers.TierFor(ctx, ownerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load loyalty tier")
	}
	if !tier.AtLeast(*coupon.MinTier) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "loyalty tier too low for this coupon").
			WithDetails(map[string]any{"required_tier": *coupon.MinTier, "current_tier": tier})
	}
	return nil
}

// lookup applies the code precedence: the owner's available personal copy,
// then the shared template, then a personal copy minted from that template.
// A spent personal copy is returned last so CanApply can explain the failure.
func (s *service) lookup(ctx context.Context, ref Ref, ownerID uuid.UUID) (*models.Coupon, error) {
	if ref.ID != nil {
		row, err := s.repo.FindByID(ctx, *ref.ID)
		if err != nil {
			return nil, notFoundOr(err, "load coupon")
		}
		return row, nil
	}

	code := NormalizeCode(ref.Code)
	steps := []func() (*models.Coupon, error){
		func() (*models.Coupon, error) { return s.repo.FindIssuedByOwnerCode(ctx, ownerID, code, true) },
		func() (*models.Coupon, error) { return s.repo.FindGlobalByCode(ctx, code) },
		func() (*models.Coupon, error) { return s.repo.FindIssuedByOwnerParentCode(ctx, ownerID, code) },
		func() (*models.Coupon, error) { return s.repo.FindIssuedByOwnerCode(ctx, ownerID, code, false) },
	}
	for _, step := range steps {
		row, err := step()
		if err == nil {
			return row, nil
		}
		if !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup coupon")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found").
		WithDetails(map[string]any{"code": code})
}

func (s *service) Claim(ctx context.Context, templateID, ownerID uuid.UUID) (*Coupon, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}

	existing, err := s.repo.FindIssuedByOwnerParent(ctx, ownerID, templateID)
	if err == nil {
		return toCoupon(*existing)
	}
	if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup claimed coupon")
	}

	row, err := s.repo.FindByID(ctx, templateID)
	if err != nil {
		return nil, notFoundOr(err, "load coupon template")
	}
	template, err := fromModel(*row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode coupon")
	}
	variant, ok := template.Variant.(Template)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only global coupons can be claimed")
	}
	now := s.now()
	if template.Expired(now) {
		return nil, pkgerrors.StateConflict("coupon template has expired", "expired")
	}
	if variant.Exhausted() {
		return nil, pkgerrors.StateConflict("coupon template usage limit reached", "exhausted")
	}
	if err := s.checkTier(ctx, template, ownerID); err != nil {
		return nil, err
	}

	available := enums.IssuedCouponStatusAvailable
	issued := &models.Coupon{
		ID:               uuid.New(),
		Code:             row.Code,
		Scope:            enums.CouponScopeIssued,
		DiscountType:     row.DiscountType,
		DiscountValue:    row.DiscountValue,
		MinInvoiceAmount: row.MinInvoiceAmount,
		ExpiresAt:        row.ExpiresAt,
		UsageLimit:       1,
		MinTier:          row.MinTier,
		OwnerID:          &ownerID,
		ParentID:         &row.ID,
		Status:           &available,
	}
	if err := s.repo.Create(ctx, issued); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint issued coupon")
		}
		// A concurrent claim won the insert; hand back its copy.
		winner, findErr := s.repo.FindIssuedByOwnerParent(ctx, ownerID, templateID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "reload claimed coupon")
		}
		return toCoupon(*winner)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"coupon_id":   issued.ID.String(),
		"template_id": templateID.String(),
		"owner_id":    ownerID.String(),
	}), "coupon claimed")
	return toCoupon(*issued)
}

// ApplyUsage records one redemption inside the caller's transaction. A
// coupon that can no longer be redeemed yields a STATE_CONFLICT error.
func (s *service) ApplyUsage(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	row, err := repo.FindByID(ctx, couponID)
	if err != nil {
		return notFoundOr(err, "load coupon")
	}
	coupon, err := fromModel(*row)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode coupon")
	}

	switch v := coupon.Variant.(type) {
	case Template:
		ok, err := repo.IncrementUsage(ctx, coupon.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment coupon usage")
		}
		if !ok {
			return pkgerrors.StateConflict("coupon usage limit reached", "exhausted")
		}
	case Issued:
		ok, err := repo.MarkIssuedUsed(ctx, coupon.ID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark coupon used")
		}
		if !ok {
			return pkgerrors.StateConflict("coupon already redeemed", v.Status)
		}
		if v.ParentID == nil {
			return nil
		}
		ok, err = repo.IncrementUsage(ctx, *v.ParentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment template usage")
		}
		if !ok {
			s.logg.Warn(s.logg.WithField(ctx, "template_id", v.ParentID.String()), "template usage limit reached while redeeming a claimed copy")
		}
	}
	return nil
}

func (s *service) MintBonus(ctx context.Context, tx *gorm.DB, input BonusInput) (*Coupon, error) {
	if input.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("owner id is required")
	}
	if !input.Value.IsPositive() {
		return nil, fmt.Errorf("bonus value must be positive")
	}
	available := enums.IssuedCouponStatusAvailable
	expires := input.ExpiresAt
	row := &models.Coupon{
		ID:               uuid.New(),
		Code:             fmt.Sprintf("BONUS-%s-%s", NormalizeCode(input.Tier.String()), money.ShortCode()),
		Scope:            enums.CouponScopeIssued,
		DiscountType:     enums.DiscountTypeFixed,
		DiscountValue:    money.Round2(input.Value),
		MinInvoiceAmount: decimal.Zero,
		ExpiresAt:        &expires,
		UsageLimit:       1,
		OwnerID:          &input.OwnerID,
		Status:           &available,
	}
	if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
		return nil, fmt.Errorf("mint bonus coupon: %w", err)
	}
	return toCoupon(*row)
}

func toCoupon(row models.Coupon) (*Coupon, error) {
	c, err := fromModel(row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode coupon")
	}
	return &c, nil
}

func notFoundOr(err error, action string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}
