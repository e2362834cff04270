package payments

import (
	"net/http"

	"github.com/vetcare/clinic-finance/api/controllers/dto"
	invoicecontrollers "github.com/vetcare/clinic-finance/api/controllers/invoices"
	"github.com/vetcare/clinic-finance/api/middleware"
	"github.com/vetcare/clinic-finance/api/responses"
	"github.com/vetcare/clinic-finance/api/validators"
	internalinvoices "github.com/vetcare/clinic-finance/internal/invoices"
	internalpayments "github.com/vetcare/clinic-finance/internal/payments"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

const maxIntentIDLength = 255

// InitiateOffline starts a cash, card or bank transfer payment for an invoice.
func InitiateOffline(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
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
		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body dto.OfflinePaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.InitiateOffline(r.Context(), internalpayments.OfflineInput{
			InvoiceID:  invoiceID,
			Method:     body.Method,
			CouponRef:  body.CouponRef,
			OwnerScope: actor.OwnerScope(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewPayment(payment))
	}
}

// InitiateGateway creates or refreshes the gateway payment for an invoice and
// returns the client secret the browser needs.
func InitiateGateway(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
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
		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body dto.GatewayPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		checkout, err := svc.InitiateGateway(r.Context(), internalpayments.GatewayInput{
			InvoiceID:  invoiceID,
			Currency:   body.Currency,
			CouponRef:  body.CouponRef,
			OwnerScope: actor.OwnerScope(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if checkout.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, dto.NewCheckout(checkout))
	}
}

// ListForInvoice returns every payment attempt made against an invoice.
func ListForInvoice(invoices internalinvoices.Service, svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if invoices == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		invoice, err := invoicecontrollers.LoadScoped(r, invoices)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForInvoice(r.Context(), invoice.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := dto.NewPayments(list)
		if out == nil {
			out = []dto.Payment{}
		}
		responses.WriteSuccess(w, out)
	}
}

// Detail returns one payment. Owners only see payments they made.
func Detail(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
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
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if scope := actor.OwnerScope(); scope != nil && payment.PayerID != *scope {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}

		responses.WriteSuccess(w, dto.NewPayment(payment))
	}
}

// ConfirmOffline records that staff received an offline payment.
func ConfirmOffline(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		confirmation, err := svc.ConfirmOffline(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dto.NewConfirmation(confirmation))
	}
}

// ConfirmGateway completes a gateway payment once the remote intent has
// succeeded.
func ConfirmGateway(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		intentID, err := validators.RequireParam(r, "intentId", maxIntentIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		confirmation, err := svc.ConfirmGateway(r.Context(), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dto.NewConfirmation(confirmation))
	}
}
