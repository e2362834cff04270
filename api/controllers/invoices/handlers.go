package invoices

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vetcare/clinic-finance/api/controllers/dto"
	"github.com/vetcare/clinic-finance/api/middleware"
	"github.com/vetcare/clinic-finance/api/responses"
	"github.com/vetcare/clinic-finance/api/validators"
	internalinvoices "github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

// PaymentLister loads the payments shown alongside an invoice.
type PaymentLister interface {
	ListForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error)
}

// Create issues a new invoice for an owner.
func Create(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		var body dto.CreateInvoiceRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.Create(r.Context(), internalinvoices.CreateInput{
			OwnerID:   body.OwnerID,
			LineItems: dto.LineItemInputs(body.LineItems),
			Source:    body.Source,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewInvoice(invoice, nil))
	}
}

// Detail returns an invoice with its line items and payments. Owners only
// see their own invoices.
func Detail(svc internalinvoices.Service, pays PaymentLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || pays == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		invoice, err := LoadScoped(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := pays.ListForInvoice(r.Context(), invoice.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dto.NewInvoice(invoice, list))
	}
}

// EditLineItems replaces the line items of a pending invoice.
func EditLineItems(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body dto.EditLineItemsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.EditLineItems(r.Context(), invoiceID, dto.LineItemInputs(body.LineItems))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dto.NewInvoice(invoice, nil))
	}
}

// SetStatus applies a staff status change (pending, overdue or cancelled).
func SetStatus(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body dto.SetStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.SetManualStatus(r.Context(), invoiceID, body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, dto.NewInvoice(invoice, nil))
	}
}

// Reconcile re-derives the invoice status from its payments.
func Reconcile(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reconcile(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// LoadScoped reads the {invoiceId} invoice and hides it from owners who do
// not own it.
func LoadScoped(r *http.Request, svc internalinvoices.Service) (*models.Invoice, error) {
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		return nil, err
	}
	invoiceID, err := validators.ParseUUIDParam(r, "invoiceId")
	if err != nil {
		return nil, err
	}
	invoice, err := svc.Get(r.Context(), invoiceID)
	if err != nil {
		return nil, err
	}
	if scope := actor.OwnerScope(); scope != nil && invoice.OwnerID != *scope {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}
