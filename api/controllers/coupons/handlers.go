package coupons

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vetcare/clinic-finance/api/controllers/dto"
	"github.com/vetcare/clinic-finance/api/middleware"
	"github.com/vetcare/clinic-finance/api/responses"
	"github.com/vetcare/clinic-finance/api/validators"
	internalcoupons "github.com/vetcare/clinic-finance/internal/coupons"
	internalpayments "github.com/vetcare/clinic-finance/internal/payments"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

// Previewer prices an invoice with a coupon without creating a payment.
type Previewer interface {
	Preview(ctx context.Context, input internalpayments.PreviewInput) (*internalpayments.Quote, error)
}

// CreateTemplate registers a GLOBAL coupon.
func CreateTemplate(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		var body dto.CreateCouponRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		coupon, err := svc.CreateTemplate(r.Context(), internalcoupons.TemplateInput{
			Code:             body.Code,
			DiscountType:     body.DiscountType,
			DiscountValue:    body.DiscountValue,
			MinInvoiceAmount: body.MinInvoiceAmount,
			ExpiresAt:        body.ExpiresAt,
			UsageLimit:       body.UsageLimit,
			MinTier:          body.MinTier,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewCoupon(coupon))
	}
}

// Claim issues the caller a personal copy of a template. Staff claim on
// behalf of the owner named in the body.
func Claim(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		templateID, err := validators.ParseUUIDParam(r, "couponId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body dto.ClaimCouponRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		ownerID, err := claimOwner(actor, body.OwnerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		coupon, err := svc.Claim(r.Context(), templateID, ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewCoupon(coupon))
	}
}

// ListMine returns the caller's issued coupons.
func ListMine(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}

		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForOwner(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, lo.Map(list, func(c internalcoupons.Coupon, _ int) dto.Coupon {
			return dto.NewCoupon(&c)
		}))
	}
}

// Preview shows the discount a coupon would give on an invoice.
func Preview(svc Previewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body dto.PreviewRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Preview(r.Context(), internalpayments.PreviewInput{
			InvoiceID:  body.InvoiceID,
			CouponRef:  body.CouponRef,
			OwnerScope: actor.OwnerScope(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dto.NewQuote(quote))
	}
}

func claimOwner(actor middleware.Actor, requested *uuid.UUID) (uuid.UUID, error) {
	if !actor.IsStaff() {
		if requested != nil && *requested != actor.UserID {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "owners can only claim coupons for themselves")
		}
		return actor.UserID, nil
	}
	if requested == nil || *requested == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "owner_id is required when staff claim a coupon")
	}
	return *requested, nil
}
