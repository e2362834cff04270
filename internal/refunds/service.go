package refunds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/internal/ledger"
	"github.com/vetcare/clinic-finance/internal/notifications"
	"github.com/vetcare/clinic-finance/internal/payments"
	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/metrics"
	"github.com/vetcare/clinic-finance/pkg/money"
	"github.com/vetcare/clinic-finance/pkg/types"
)

const defaultWindow = 7 * 24 * time.Hour

// Service runs the refund request workflow.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.RefundRequest, error)
	Approve(ctx context.Context, requestID uuid.UUID) (*Decision, error)
	Reject(ctx context.Context, requestID uuid.UUID, reason string) (*Decision, error)
	Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	ListForPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error)
	ListPending(ctx context.Context, limit int) ([]models.RefundRequest, error)
	RetryNotifications(ctx context.Context, since time.Time, limit int) (int, error)
}

// RequestInput asks for money back from one payment. A nil Amount requests
// everything still refundable. OwnerScope, when set, restricts the call to
// payments made by that owner.
type RequestInput struct {
	PaymentID   uuid.UUID
	RequesterID uuid.UUID
	Amount      *decimal.Decimal
	Reason      string
	OwnerScope  *uuid.UUID
}

// Decision is the result of approving or rejecting a request.
type Decision struct {
	Request        *models.RefundRequest `json:"refund_request"`
	Payment        *models.Payment       `json:"payment"`
	InvoiceStatus  enums.InvoiceStatus   `json:"invoice_status,omitempty"`
	AlreadyDecided bool                  `json:"already_decided"`
	Notification   notifications.Outcome `json:"notification"`
}

// InvoiceLedger is the part of the invoice ledger refunds depend on.
type InvoiceLedger interface {
	GetTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Invoice, error)
	ReconcileTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*invoices.ReconcileResult, error)
}

// RefundGateway issues remote refunds for gateway payments.
type RefundGateway interface {
	CreateRefund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (*types.GatewayRefund, error)
}

// Journal appends finance events inside a transaction.
type Journal interface {
	Record(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.FinanceEvent, error)
}

// Deliverer sends guarded customer notifications.
type Deliverer interface {
	Deliver(ctx context.Context, d notifications.Delivery) notifications.Outcome
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo     Repository
	Payments payments.Repository
	Invoices InvoiceLedger
	Gateway  RefundGateway
	Ledger   Journal
	Notifier Deliverer
	Tx       txRunner
	Logger   *logger.Logger
	Metrics  *metrics.FinanceMetrics
	Window   time.Duration
	Now      func() time.Time
}

type service struct {
	repo     Repository
	payments payments.Repository
	invoices InvoiceLedger
	gateway  RefundGateway
	ledger   Journal
	notifier Deliverer
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.FinanceMetrics
	window   time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice ledger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("finance journal required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultWindow
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		payments: params.Payments,
		invoices: params.Invoices,
		gateway:  params.Gateway,
		ledger:   params.Ledger,
		notifier: params.Notifier,
		tx:       params.Tx,
		logg:     params.Logger,
		metrics:  params.Metrics,
		window:   window,
		now:      now,
	}, nil
}

func (s *service) Request(ctx context.Context, input RequestInput) (*models.RefundRequest, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason is required")
	}
	if input.RequesterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requester is required")
	}

	payment, err := s.payments.FindByID(ctx, input.PaymentID)
	if err != nil {
		return nil, notFoundOr(err, "payment not found", "load payment")
	}
	if input.OwnerScope != nil && payment.PayerID != *input.OwnerScope {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	ctx = s.logg.WithFields(s.logg.WithPaymentID(ctx, payment.ID.String()), map[string]any{
		"invoice_id": payment.InvoiceID.String(),
	})

	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.StateConflict("only completed payments can be refunded", payment.Status)
	}
	closesAt := payment.CreatedAt.Add(s.window)
	if s.now().After(closesAt) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund window has closed").
			WithDetails(map[string]any{
				"current_status": payment.Status,
				"window_closed":  closesAt,
			})
	}

	invoice, err := s.invoices.GetTx(ctx, nil, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == enums.InvoiceStatusCancelled || invoice.Status == enums.InvoiceStatusPending {
		return nil, pkgerrors.StateConflict("invoice has not been paid", invoice.Status)
	}

	remaining := payment.RefundableRemaining()
	amount := remaining
	if input.Amount != nil {
		amount = *input.Amount
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive").
			WithDetails(map[string]any{"amount": amount.String()})
	}
	if !amount.Equal(money.Round2(amount)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount has more than two decimals").
			WithDetails(map[string]any{"amount": amount.String()})
	}
	if amount.GreaterThan(remaining) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds the refundable balance").
			WithDetails(map[string]any{
				"amount":     amount.StringFixed(2),
				"refundable": remaining.StringFixed(2),
			})
	}

	pending, err := s.repo.HasPending(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check pending refunds")
	}
	if pending {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund request is already pending for this payment")
	}

	request := &models.RefundRequest{
		ID:             uuid.New(),
		PaymentID:      payment.ID,
		RequesterID:    input.RequesterID,
		Amount:         amount,
		RefundedAmount: decimal.Zero,
		Status:         enums.RefundStatusPending,
		Reason:         reason,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund request is already pending for this payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create refund request")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"refund_request_id": request.ID.String(),
		"amount":            amount.StringFixed(2),
	}), "refund requested")
	return request, nil
}

// Approve refunds min(requested, refundable) and reconciles the invoice.
// Approving an approved request only retries its notification.
func (s *service) Approve(ctx context.Context, requestID uuid.UUID) (*Decision, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, notFoundOr(err, "refund request not found", "load refund request")
	}
	ctx = s.logg.WithField(ctx, "refund_request_id", request.ID.String())

	switch request.Status {
	case enums.RefundStatusApproved:
		return s.redeliver(ctx, request)
	case enums.RefundStatusRejected:
		return nil, pkgerrors.StateConflict("refund request was rejected", request.Status)
	}

	payment, err := s.payments.FindByID(ctx, request.PaymentID)
	if err != nil {
		return nil, notFoundOr(err, "payment not found", "load payment")
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	refundAmount := decimal.Min(request.Amount, payment.RefundableRemaining())
	if !refundAmount.IsPositive() || payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.StateConflict("nothing left to refund on this payment", payment.Status)
	}

	var gatewayRefundID *string
	if payment.Method == enums.PaymentMethodGateway {
		if s.gateway == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway is not configured")
		}
		if payment.GatewayIntentID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway payment has no intent id")
		}
		remote, err := s.gateway.CreateRefund(ctx, *payment.GatewayIntentID, refundAmount, "refund-"+request.ID.String())
		if err != nil {
			return nil, err
		}
		gatewayRefundID = &remote.ID
	}

	decision := &Decision{}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		paymentRepo := s.payments.WithTx(tx)

		ok, err := repo.MarkApproved(ctx, request.ID, refundAmount, gatewayRefundID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approve refund request")
		}
		if !ok {
			current, err := repo.FindByID(ctx, request.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload refund request")
			}
			if current.Status != enums.RefundStatusApproved {
				return pkgerrors.StateConflict("refund request was rejected", current.Status)
			}
			decision.AlreadyDecided = true
			return nil
		}

		current, err := paymentRepo.FindByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}
		next := decimal.Min(current.RefundedAmount.Add(refundAmount), current.Amount)
		status := enums.PaymentStatusCompleted
		if money.Covers(next, current.Amount) {
			status = enums.PaymentStatusRefunded
		}
		applied, err := paymentRepo.ApplyRefund(ctx, current.ID, current.RefundedAmount, next, status, gatewayRefundID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply refund to payment")
		}
		if !applied {
			return pkgerrors.StateConflict("payment changed while the refund was applied", current.Status)
		}

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			InvoiceID:       current.InvoiceID,
			PaymentID:       &current.ID,
			RefundRequestID: &request.ID,
			Type:            enums.FinanceEventTypeRefundIssued,
			Amount:          next.Sub(current.RefundedAmount),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund event")
		}

		result, err := s.invoices.ReconcileTx(ctx, tx, current.InvoiceID)
		if err != nil {
			return err
		}
		decision.InvoiceStatus = result.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	reloaded, err := s.repo.FindByID(ctx, request.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload refund request")
	}
	if decision.AlreadyDecided {
		return s.redeliver(ctx, reloaded)
	}

	s.metrics.RefundApproved()
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"refunded":       reloaded.RefundedAmount.StringFixed(2),
		"invoice_status": decision.InvoiceStatus.String(),
	}), "refund approved")
	return s.finish(ctx, decision, reloaded)
}

func (s *service) Reject(ctx context.Context, requestID uuid.UUID, reason string) (*Decision, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, notFoundOr(err, "refund request not found", "load refund request")
	}
	ctx = s.logg.WithField(ctx, "refund_request_id", request.ID.String())

	switch request.Status {
	case enums.RefundStatusRejected:
		return s.redeliver(ctx, request)
	case enums.RefundStatusApproved:
		return nil, pkgerrors.StateConflict("refund request was approved", request.Status)
	}

	ok, err := s.repo.MarkRejected(ctx, request.ID, reason, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reject refund request")
	}
	reloaded, err := s.repo.FindByID(ctx, request.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload refund request")
	}
	if !ok {
		if reloaded.Status != enums.RefundStatusRejected {
			return nil, pkgerrors.StateConflict("refund request was approved", reloaded.Status)
		}
		return s.redeliver(ctx, reloaded)
	}

	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "refund rejected")
	return s.finish(ctx, &Decision{}, reloaded)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "refund request not found", "load refund request")
	}
	return request, nil
}

func (s *service) ListForPayment(ctx context.Context, paymentID uuid.UUID) ([]models.RefundRequest, error) {
	requests, err := s.repo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list refund requests")
	}
	return requests, nil
}

func (s *service) ListPending(ctx context.Context, limit int) ([]models.RefundRequest, error) {
	requests, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending refund requests")
	}
	return requests, nil
}

// RetryNotifications re-sends decision notices that did not go out for
// requests decided since the cutoff. It returns how many were sent.
func (s *service) RetryNotifications(ctx context.Context, since time.Time, limit int) (int, error) {
	backlog, err := s.repo.ListNoticeBacklog(ctx, since, s.now().Add(-notifications.ClaimLease), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list refund notice backlog")
	}
	sent := 0
	for i := range backlog {
		request := &backlog[i]
		payment, err := s.payments.FindByID(ctx, request.PaymentID)
		if err != nil {
			s.logg.WarnErr(s.logg.WithField(ctx, "refund_request_id", request.ID.String()), "load payment for refund notice", err)
			continue
		}
		if s.notify(ctx, request, payment) == notifications.OutcomeSent {
			sent++
		}
	}
	return sent, nil
}

// redeliver answers a repeated decision: the state is returned unchanged
// and only the notification is retried.
func (s *service) redeliver(ctx context.Context, request *models.RefundRequest) (*Decision, error) {
	decision := &Decision{AlreadyDecided: true}
	if request.Status == enums.RefundStatusApproved {
		payment, err := s.payments.FindByID(ctx, request.PaymentID)
		if err != nil {
			return nil, notFoundOr(err, "payment not found", "load payment")
		}
		invoice, err := s.invoices.GetTx(ctx, nil, payment.InvoiceID)
		if err != nil {
			return nil, err
		}
		decision.InvoiceStatus = invoice.Status
	}
	return s.finish(ctx, decision, request)
}

func (s *service) finish(ctx context.Context, decision *Decision, request *models.RefundRequest) (*Decision, error) {
	payment, err := s.payments.FindByID(ctx, request.PaymentID)
	if err != nil {
		return nil, notFoundOr(err, "payment not found", "load payment")
	}
	decision.Request = request
	decision.Payment = payment
	decision.Notification = s.notify(ctx, request, payment)
	return decision, nil
}

func (s *service) notify(ctx context.Context, request *models.RefundRequest, payment *models.Payment) notifications.Outcome {
	kind := enums.NotificationKindRefundApproved
	if request.Status == enums.RefundStatusRejected {
		kind = enums.NotificationKindRefundRejected
	}
	return s.notifier.Deliver(ctx, notifications.Delivery{
		Kind:    kind,
		OwnerID: payment.PayerID,
		Claim: func(ctx context.Context) (bool, error) {
			now := s.now()
			return s.repo.ClaimNotice(ctx, request.ID, kind, now, now.Add(-notifications.ClaimLease))
		},
		Confirm: func(ctx context.Context) error {
			return s.repo.ConfirmNotice(ctx, request.ID, kind, s.now())
		},
		Release: func(ctx context.Context) error {
			return s.repo.ReleaseNotice(ctx, request.ID, kind)
		},
		Send: func(ctx context.Context, d notifications.Dispatcher, to notifications.Recipient) error {
			invoice, err := s.invoices.GetTx(ctx, nil, payment.InvoiceID)
			if err != nil {
				return err
			}
			snap := notifications.SnapshotRefund(request, payment, invoice.InvoiceNumber)
			if kind == enums.NotificationKindRefundRejected {
				return d.SendRefundRejected(ctx, to, snap)
			}
			return d.SendRefundApproved(ctx, to, snap)
		},
	})
}

func notFoundOr(err error, missing, action string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, missing)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}
