package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/metrics"
	"github.com/vetcare/clinic-finance/pkg/money"
)

const (
	defaultDueWindow     = 15 * 24 * time.Hour
	maxReconcileAttempts = 3
)

var defaultTaxRate = decimal.RequireFromString("0.08")

// Service owns invoice creation, line items, staff status changes and
// reconciliation against payments.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Invoice, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Invoice, error)
	EditLineItems(ctx context.Context, id uuid.UUID, items []LineItemInput) (*models.Invoice, error)
	SetManualStatus(ctx context.Context, id uuid.UUID, next enums.InvoiceStatus) (*models.Invoice, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*ReconcileResult, error)
	ReconcileTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*ReconcileResult, error)
	MarkOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

// SourceLink ties an invoice to the appointment, cart or booking it bills.
type SourceLink struct {
	Type enums.InvoiceSource `json:"type" validate:"required"`
	ID   uuid.UUID           `json:"id" validate:"required"`
}

type CreateInput struct {
	OwnerID   uuid.UUID       `json:"owner_id" validate:"required"`
	LineItems []LineItemInput `json:"line_items" validate:"required,min=1,dive"`
	Source    *SourceLink     `json:"source,omitempty"`
}

// ReconcileResult reports the derived status and whether it was written.
type ReconcileResult struct {
	InvoiceID  uuid.UUID           `json:"invoice_id"`
	Previous   enums.InvoiceStatus `json:"previous_status"`
	Status     enums.InvoiceStatus `json:"status"`
	Changed    bool                `json:"changed"`
	Settlement Settlement          `json:"settlement"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Logger    *logger.Logger
	Metrics   *metrics.FinanceMetrics
	TaxRate   decimal.Decimal
	DueWindow time.Duration
	Now       func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	logg      *logger.Logger
	metrics   *metrics.FinanceMetrics
	taxRate   decimal.Decimal
	dueWindow time.Duration
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	taxRate := params.TaxRate
	if taxRate.IsZero() {
		taxRate = defaultTaxRate
	}
	dueWindow := params.DueWindow
	if dueWindow <= 0 {
		dueWindow = defaultDueWindow
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		logg:      params.Logger,
		metrics:   params.Metrics,
		taxRate:   taxRate,
		dueWindow: dueWindow,
		now:       now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Invoice, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	if input.Source != nil && (!input.Source.Type.IsValid() || input.Source.ID == uuid.Nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid invoice source link")
	}

	invoiceID := uuid.New()
	items, err := buildLineItems(invoiceID, input.LineItems)
	if err != nil {
		return nil, err
	}
	totals := ComputeTotals(items, s.taxRate)

	invoice := &models.Invoice{
		ID:            invoiceID,
		InvoiceNumber: money.NewBusinessID(money.InvoicePrefix),
		OwnerID:       input.OwnerID,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		Total:         totals.Total,
		Status:        enums.InvoiceStatusPending,
		DueDate:       s.now().Add(s.dueWindow),
		Version:       1,
		LineItems:     items,
	}
	if input.Source != nil {
		sourceType, sourceID := input.Source.Type, input.Source.ID
		invoice.SourceType = &sourceType
		invoice.SourceID = &sourceID
	}

	if err := s.repo.Create(ctx, invoice); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "an invoice already exists for this source").
				WithDetails(map[string]any{"source": input.Source})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create invoice")
	}

	s.logg.Info(s.logg.WithFields(s.logg.WithInvoiceID(ctx, invoice.ID.String()), map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"total":          invoice.Total.StringFixed(2),
	}), "invoice created")
	return invoice, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.GetTx(ctx, nil, id)
}

func (s *service) GetTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.WithTx(tx).FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load invoice")
	}
	return invoice, nil
}

func (s *service) EditLineItems(ctx context.Context, id uuid.UUID, inputs []LineItemInput) (*models.Invoice, error) {
	var updated *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindByID(ctx, id)
		if err != nil {
			return notFoundOr(err, "load invoice")
		}
		if !invoice.Status.AllowsLineItemEdits() {
			return pkgerrors.StateConflict("line items cannot change once an invoice is settled", invoice.Status)
		}
		items, err := buildLineItems(invoice.ID, inputs)
		if err != nil {
			return err
		}
		totals := ComputeTotals(items, s.taxRate)
		invoice.Subtotal, invoice.Tax, invoice.Total = totals.Subtotal, totals.Tax, totals.Total

		ok, err := repo.ReplaceLineItems(ctx, invoice, items)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "replace line items")
		}
		if !ok {
			return pkgerrors.StateConflict("invoice changed concurrently, retry the edit", invoice.Status)
		}
		updated, err = repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload invoice")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithInvoiceID(ctx, id.String()), "invoice line items replaced")
	return updated, nil
}

// SetManualStatus lets staff move an invoice between pending, overdue and
// cancelled. Paid and refunded are only reachable through reconciliation.
func (s *service) SetManualStatus(ctx context.Context, id uuid.UUID, next enums.InvoiceStatus) (*models.Invoice, error) {
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid invoice status")
	}
	if next.IsLedgerOwned() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paid and refunded are set by reconciliation only").
			WithDetails(map[string]any{"requested_status": next})
	}

	var updated *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindByID(ctx, id)
		if err != nil {
			return notFoundOr(err, "load invoice")
		}
		if invoice.Status.IsLedgerOwned() {
			return pkgerrors.StateConflict("settled invoices cannot change status manually", invoice.Status)
		}
		if invoice.Status != next {
			ok, err := repo.UpdateStatus(ctx, invoice.ID, invoice.Version, next)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update invoice status")
			}
			if !ok {
				return pkgerrors.StateConflict("invoice changed concurrently, retry the status change", invoice.Status)
			}
		}
		updated, err = repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload invoice")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(s.logg.WithInvoiceID(ctx, id.String()), "status", next.String()), "invoice status set")
	return updated, nil
}

func (s *service) Reconcile(ctx context.Context, id uuid.UUID) (*ReconcileResult, error) {
	var result *ReconcileResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.ReconcileTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReconcileTx derives the invoice status from its payments and writes it
// when it differs. The write is conditioned on the invoice version; a stale
// version reloads and retries a bounded number of times.
func (s *service) ReconcileTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*ReconcileResult, error) {
	repo := s.repo.WithTx(tx)
	ctx = s.logg.WithInvoiceID(ctx, id.String())

	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		invoice, err := repo.FindByID(ctx, id)
		if err != nil {
			return nil, notFoundOr(err, "load invoice")
		}
		payments, err := repo.ListPayments(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice payments")
		}

		settlement := Settle(payments)
		derived := DeriveStatus(invoice.Status, settlement)
		result := &ReconcileResult{
			InvoiceID:  id,
			Previous:   invoice.Status,
			Status:     derived,
			Settlement: settlement,
		}
		if derived == invoice.Status {
			return result, nil
		}

		ok, err := repo.UpdateStatus(ctx, id, invoice.Version, derived)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write reconciled status")
		}
		if ok {
			result.Changed = true
			s.metrics.ReconcileWrite()
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"previous_status": invoice.Status.String(),
				"status":          derived.String(),
				"net_paid":        settlement.NetPaid.StringFixed(2),
			}), "invoice reconciled")
			return result, nil
		}
		s.metrics.ReconcileConflict()
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "stale invoice version during reconcile")
	}
	return nil, pkgerrors.StateConflict("invoice kept changing during reconciliation", "version_conflict")
}

// MarkOverdue moves pending invoices past their due date with no settled
// payment to overdue. It returns how many were moved.
func (s *service) MarkOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.repo.ListOverdueCandidates(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list overdue invoices")
	}

	moved := 0
	var errs error
	for _, invoice := range candidates {
		ok, err := s.repo.UpdateStatus(ctx, invoice.ID, invoice.Version, enums.InvoiceStatusOverdue)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", invoice.InvoiceNumber, err))
			continue
		}
		if ok {
			moved++
		}
	}
	if moved > 0 {
		s.logg.Info(s.logg.WithField(ctx, "count", moved), "invoices marked overdue")
	}
	return moved, errs
}

func notFoundOr(err error, action string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}
