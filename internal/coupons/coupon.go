package coupons

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/money"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,39}$`)

// Variant is implemented by Template and Issued only.
type Variant interface {
	scope() enums.CouponScope
}

// Template is a reusable GLOBAL coupon with an overall usage cap.
type Template struct {
	UsageLimit int
	UsedCount  int
}

func (Template) scope() enums.CouponScope { return enums.CouponScopeGlobal }

// Exhausted reports whether the template has no uses left.
func (t Template) Exhausted() bool {
	return t.UsageLimit > 0 && t.UsedCount >= t.UsageLimit
}

// Issued is a single-use copy minted for one owner.
type Issued struct {
	OwnerID  uuid.UUID
	ParentID *uuid.UUID
	Status   enums.IssuedCouponStatus
	UsedAt   *time.Time
}

func (Issued) scope() enums.CouponScope { return enums.CouponScopeIssued }

// Coupon is the typed view of a coupon row.
type Coupon struct {
	ID               uuid.UUID
	Code             string
	DiscountType     enums.DiscountType
	DiscountValue    decimal.Decimal
	MinInvoiceAmount decimal.Decimal
	ExpiresAt        *time.Time
	MinTier          *enums.LoyaltyTier
	Variant          Variant
}

func (c Coupon) Scope() enums.CouponScope {
	return c.Variant.scope()
}

// Expired reports whether the coupon is past its expiry at now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// CanApply returns nil when the coupon may discount an invoice of the given total.
func (c Coupon) CanApply(total decimal.Decimal, now time.Time) error {
	if c.Expired(now) {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon has expired").
			WithDetails(map[string]any{"code": c.Code})
	}
	if total.LessThan(c.MinInvoiceAmount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice total is below the coupon minimum").
			WithDetails(map[string]any{"code": c.Code, "min_invoice_amount": c.MinInvoiceAmount.StringFixed(2)})
	}
	switch v := c.Variant.(type) {
	case Template:
		if v.Exhausted() {
			return pkgerrors.New(pkgerrors.CodeValidation, "coupon usage limit reached").
				WithDetails(map[string]any{"code": c.Code})
		}
	case Issued:
		if v.Status != enums.IssuedCouponStatusAvailable {
			return pkgerrors.New(pkgerrors.CodeValidation, "coupon is not available").
				WithDetails(map[string]any{"code": c.Code, "status": v.Status})
		}
	}
	return nil
}

// Discount returns the amount taken off total; it never exceeds total.
func (c Coupon) Discount(total decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case enums.DiscountTypePercentage:
		discount = money.Percent(total, c.DiscountValue)
	default:
		discount = c.DiscountValue
	}
	return money.Clamp(discount, decimal.Zero, total)
}

// fromModel converts a row into its variant, rejecting rows whose columns do
// not match their scope.
func fromModel(row models.Coupon) (Coupon, error) {
	c := Coupon{
		ID:               row.ID,
		Code:             row.Code,
		DiscountType:     row.DiscountType,
		DiscountValue:    row.DiscountValue,
		MinInvoiceAmount: row.MinInvoiceAmount,
		ExpiresAt:        row.ExpiresAt,
		MinTier:          row.MinTier,
	}
	switch row.Scope {
	case enums.CouponScopeGlobal:
		c.Variant = Template{UsageLimit: row.UsageLimit, UsedCount: row.UsedCount}
	case enums.CouponScopeIssued:
		if row.OwnerID == nil || row.Status == nil {
			return Coupon{}, fmt.Errorf("issued coupon %s is missing owner or status", row.ID)
		}
		c.Variant = Issued{OwnerID: *row.OwnerID, ParentID: row.ParentID, Status: *row.Status, UsedAt: row.UsedAt}
	default:
		return Coupon{}, fmt.Errorf("coupon %s has unknown scope %q", row.ID, row.Scope)
	}
	return c, nil
}

// Ref identifies a coupon either by id or by code.
type Ref struct {
	ID   *uuid.UUID
	Code string
}

// ParseRef accepts a coupon id or a code. Codes are trimmed and uppercased.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, pkgerrors.New(pkgerrors.CodeValidation, "coupon reference is required")
	}
	if id, err := uuid.Parse(raw); err == nil {
		return Ref{ID: &id}, nil
	}
	code := NormalizeCode(raw)
	if !codePattern.MatchString(code) {
		return Ref{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid coupon format").
			WithDetails(map[string]any{"code": raw})
	}
	return Ref{Code: code}, nil
}

func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
