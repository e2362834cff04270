package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/internal/coupons"
	"github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/internal/ledger"
	"github.com/vetcare/clinic-finance/internal/loyalty"
	"github.com/vetcare/clinic-finance/internal/notifications"
	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/metrics"
	"github.com/vetcare/clinic-finance/pkg/money"
	"github.com/vetcare/clinic-finance/pkg/types"
)

// Service initiates and confirms invoice payments.
type Service interface {
	InitiateOffline(ctx context.Context, input OfflineInput) (*models.Payment, error)
	ConfirmOffline(ctx context.Context, paymentID uuid.UUID) (*Confirmation, error)
	InitiateGateway(ctx context.Context, input GatewayInput) (*Checkout, error)
	ConfirmGateway(ctx context.Context, intentID string) (*Confirmation, error)
	FailGateway(ctx context.Context, intentID, reason string) (*models.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error)
	Preview(ctx context.Context, input PreviewInput) (*Quote, error)
	RetryReceipts(ctx context.Context, since time.Time, limit int) (int, error)
}

// InvoiceLedger is the part of the invoice ledger payments depend on.
type InvoiceLedger interface {
	GetTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Invoice, error)
	ReconcileTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*invoices.ReconcileResult, error)
}

// CouponResolver prices and redeems coupons.
type CouponResolver interface {
	Resolve(ctx context.Context, ref coupons.Ref, invoiceTotal decimal.Decimal, ownerID uuid.UUID) (*coupons.Resolution, error)
	ApplyUsage(ctx context.Context, tx *gorm.DB, couponID uuid.UUID) error
}

// LoyaltyAccruer credits points for completed payments.
type LoyaltyAccruer interface {
	AddPointsTx(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, amountSpent decimal.Decimal) (*loyalty.Accrual, error)
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

// OfflineInput starts a cash, card or bank transfer payment. OwnerScope,
// when set, restricts the call to invoices owned by that owner.
type OfflineInput struct {
	InvoiceID  uuid.UUID
	Method     enums.PaymentMethod
	CouponRef  string
	OwnerScope *uuid.UUID
}

// GatewayInput starts or refreshes a card gateway payment.
type GatewayInput struct {
	InvoiceID  uuid.UUID
	Currency   string
	CouponRef  string
	OwnerScope *uuid.UUID
}

// PreviewInput prices an invoice with an optional coupon without creating
// a payment.
type PreviewInput struct {
	InvoiceID  uuid.UUID
	CouponRef  string
	OwnerScope *uuid.UUID
}

// Quote is what a payment would charge right now.
type Quote struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Total     decimal.Decimal `json:"total"`
	Discount  decimal.Decimal `json:"discount"`
	Amount    decimal.Decimal `json:"amount"`
	CouponID  *uuid.UUID      `json:"coupon_id,omitempty"`
}

// Checkout is what a client needs to finish a gateway payment.
type Checkout struct {
	Payment      *models.Payment `json:"payment"`
	ClientSecret string          `json:"client_secret"`
	Reused       bool            `json:"reused"`
}

// Confirmation reports the outcome of a payment confirmation. A repeated
// confirmation returns AlreadyConfirmed and only retries the receipt.
type Confirmation struct {
	Payment          *models.Payment       `json:"payment"`
	InvoiceStatus    enums.InvoiceStatus   `json:"invoice_status"`
	AlreadyConfirmed bool                  `json:"already_confirmed"`
	Receipt          notifications.Outcome `json:"receipt"`
	PointsEarned     int64                 `json:"points_earned"`
	BonusCouponID    *uuid.UUID            `json:"bonus_coupon_id,omitempty"`
}

type ServiceParams struct {
	Repo     Repository
	Invoices InvoiceLedger
	Coupons  CouponResolver
	Loyalty  LoyaltyAccruer
	Ledger   Journal
	Gateway  Gateway
	Notifier Deliverer
	Tx       txRunner
	Logger   *logger.Logger
	Metrics  *metrics.FinanceMetrics
	Currency string
	Now      func() time.Time
}

type service struct {
	repo     Repository
	invoices InvoiceLedger
	coupons  CouponResolver
	loyalty  LoyaltyAccruer
	ledger   Journal
	gateway  Gateway
	notifier Deliverer
	tx       txRunner
	logg     *logger.Logger
	metrics  *metrics.FinanceMetrics
	currency string
	now      func() time.Time
}

// payable is the priced state of an invoice right before a payment row is
// written.
type payable struct {
	invoice  *models.Invoice
	discount decimal.Decimal
	amount   decimal.Decimal
	couponID *uuid.UUID
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice ledger required")
	}
	if params.Coupons == nil {
		return nil, fmt.Errorf("coupon resolver required")
	}
	if params.Loyalty == nil {
		return nil, fmt.Errorf("loyalty accruer required")
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
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		invoices: params.Invoices,
		coupons:  params.Coupons,
		loyalty:  params.Loyalty,
		ledger:   params.Ledger,
		gateway:  params.Gateway,
		notifier: params.Notifier,
		tx:       params.Tx,
		logg:     params.Logger,
		metrics:  params.Metrics,
		currency: currency,
		now:      now,
	}, nil
}

func (s *service) InitiateOffline(ctx context.Context, input OfflineInput) (*models.Payment, error) {
	if !input.Method.IsOffline() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offline payments accept cash, card or bank_transfer").
			WithDetails(map[string]any{"method": input.Method})
	}
	ctx = s.logg.WithInvoiceID(ctx, input.InvoiceID.String())

	priced, err := s.price(ctx, input.InvoiceID, input.CouponRef, input.OwnerScope)
	if err != nil {
		return nil, err
	}

	payment := s.newPayment(priced, input.Method, s.currency)
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithPaymentID(ctx, payment.ID.String()), map[string]any{
		"method": payment.Method.String(),
		"amount": payment.Amount.StringFixed(2),
	}), "offline payment initiated")
	return payment, nil
}

func (s *service) ConfirmOffline(ctx context.Context, paymentID uuid.UUID) (*Confirmation, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, notFoundOr(err, "load payment")
	}
	if !payment.Method.IsOffline() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payments are confirmed by the gateway").
			WithDetails(map[string]any{"method": payment.Method})
	}
	return s.complete(ctx, payment, nil, false)
}

func (s *service) InitiateGateway(ctx context.Context, input GatewayInput) (*Checkout, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway is not configured")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}
	ctx = s.logg.WithInvoiceID(ctx, input.InvoiceID.String())

	priced, err := s.price(ctx, input.InvoiceID, input.CouponRef, input.OwnerScope)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindPendingGateway(ctx, input.InvoiceID)
	if err != nil && !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load pending gateway payment")
	}
	if existing != nil && existing.GatewayIntentID != nil {
		checkout, err := s.reuseIntent(ctx, existing, priced, currency)
		if err != nil {
			return nil, err
		}
		if checkout != nil {
			return checkout, nil
		}
	}

	history, err := s.repo.ListByInvoice(ctx, priced.invoice.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice payments")
	}
	attempt := lo.CountBy(history, func(p models.Payment) bool {
		return p.Method == enums.PaymentMethodGateway
	})

	payment := s.newPayment(priced, enums.PaymentMethodGateway, currency)
	req := types.IntentRequest{
		Amount:         payment.Amount,
		Currency:       currency,
		IdempotencyKey: intentIdempotencyKey(priced, currency, attempt),
		Metadata: map[string]string{
			"invoice_id":     priced.invoice.ID.String(),
			"invoice_number": priced.invoice.InvoiceNumber,
		},
	}
	intent, err := s.gateway.CreateIntent(ctx, req)
	if err != nil {
		return nil, err
	}
	if intent.Canceled() {
		// The key replayed an intent cancelled after a failed insert.
		req.IdempotencyKey += "-" + payment.ID.String()
		if intent, err = s.gateway.CreateIntent(ctx, req); err != nil {
			return nil, err
		}
	}
	payment.GatewayIntentID = &intent.ID

	var superseded []models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		method := enums.PaymentMethodGateway
		var err error
		superseded, err = repo.SupersedePending(ctx, priced.invoice.ID, payment.ID, &method)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "supersede pending gateway payments")
		}
		if err := repo.Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
		}
		return nil
	})
	if err != nil {
		s.cancelIntent(ctx, intent.ID)
		return nil, err
	}
	s.cancelIntents(ctx, superseded)

	s.logg.Info(s.logg.WithFields(s.logg.WithPaymentID(ctx, payment.ID.String()), map[string]any{
		"intent_id": intent.ID,
		"amount":    payment.Amount.StringFixed(2),
	}), "gateway payment initiated")
	return &Checkout{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

// reuseIntent moves an open intent to the new terms. A nil checkout with a
// nil error means the caller should create a fresh intent.
func (s *service) reuseIntent(ctx context.Context, existing *models.Payment, priced *payable, currency string) (*Checkout, error) {
	ctx = s.logg.WithFields(s.logg.WithPaymentID(ctx, existing.ID.String()), map[string]any{
		"intent_id": *existing.GatewayIntentID,
	})

	intent, err := s.gateway.UpdateIntent(ctx, *existing.GatewayIntentID, priced.amount, currency)
	if err != nil {
		s.logg.WarnErr(ctx, "gateway rejected intent update, creating a fresh intent", err)
		return nil, nil
	}

	existing.Amount = priced.amount
	existing.Discount = priced.discount
	existing.CouponID = priced.couponID
	existing.Currency = currency
	ok, err := s.repo.UpdatePendingTerms(ctx, existing)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update pending payment")
	}
	if !ok {
		s.logg.Warn(ctx, "pending payment settled while its intent was updated, creating a fresh intent")
		return nil, nil
	}

	s.logg.Info(ctx, "gateway intent reused")
	return &Checkout{Payment: existing, ClientSecret: intent.ClientSecret, Reused: true}, nil
}

// ConfirmGateway completes the payment behind a succeeded intent. It is
// safe to call repeatedly from webhooks and client redirects.
func (s *service) ConfirmGateway(ctx context.Context, intentID string) (*Confirmation, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	payment, err := s.repo.FindByIntentID(ctx, intentID)
	if err != nil {
		return nil, notFoundOr(err, "load payment by intent")
	}
	if payment.Status == enums.PaymentStatusCompleted || payment.Status == enums.PaymentStatusRefunded {
		return s.complete(ctx, payment, nil, true)
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway is not configured")
	}

	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !intent.Succeeded() {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayNotSucceeded, "payment intent has not succeeded").
			WithDetails(map[string]any{"intent_status": intent.Status})
	}

	var chargeID *string
	if intent.LatestChargeID != "" {
		chargeID = &intent.LatestChargeID
	}
	return s.complete(ctx, payment, chargeID, true)
}

// FailGateway records a failed gateway attempt. A payment that already
// failed is returned unchanged.
func (s *service) FailGateway(ctx context.Context, intentID, reason string) (*models.Payment, error) {
	payment, err := s.repo.FindByIntentID(ctx, strings.TrimSpace(intentID))
	if err != nil {
		return nil, notFoundOr(err, "load payment by intent")
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	switch payment.Status {
	case enums.PaymentStatusFailed:
		return payment, nil
	case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded:
		return nil, pkgerrors.StateConflict("payment already settled", payment.Status)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "gateway_failed"
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.MarkFailed(ctx, payment.ID, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment failed")
		}
		if !ok {
			current, err := repo.FindByID(ctx, payment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
			}
			if current.Status != enums.PaymentStatusFailed {
				return pkgerrors.StateConflict("payment already settled", current.Status)
			}
		}
		if _, err := s.invoices.ReconcileTx(ctx, tx, payment.InvoiceID); err != nil {
			return err
		}
		payment, err = repo.FindByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "gateway payment failed")
	return payment, nil
}

// Preview reports the discount a coupon would grant on the invoice. A quote
// with a zero amount is returned as is; initiating it fails with ZERO_AMOUNT.
func (s *service) Preview(ctx context.Context, input PreviewInput) (*Quote, error) {
	priced, err := s.quote(ctx, input.InvoiceID, input.CouponRef, input.OwnerScope)
	if err != nil {
		return nil, err
	}
	return &Quote{
		InvoiceID: priced.invoice.ID,
		Total:     priced.invoice.Total,
		Discount:  priced.discount,
		Amount:    priced.amount,
		CouponID:  priced.couponID,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load payment")
	}
	return payment, nil
}

func (s *service) ListForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Payment, error) {
	payments, err := s.repo.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	return payments, nil
}

// RetryReceipts re-sends receipts that did not go out for payments
// completed since the cutoff. It returns how many were sent.
func (s *service) RetryReceipts(ctx context.Context, since time.Time, limit int) (int, error) {
	backlog, err := s.repo.ListReceiptBacklog(ctx, since, s.now().Add(-notifications.ClaimLease), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list receipt backlog")
	}
	sent := 0
	for i := range backlog {
		if s.sendReceipt(ctx, &backlog[i]) == notifications.OutcomeSent {
			sent++
		}
	}
	return sent, nil
}

// quote loads and reconciles the invoice, checks that it can take a payment
// and applies the coupon.
func (s *service) quote(ctx context.Context, invoiceID uuid.UUID, couponRef string, scope *uuid.UUID) (*payable, error) {
	var invoice *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		loaded, err := s.invoices.GetTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if scope != nil && loaded.OwnerID != *scope {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		result, err := s.invoices.ReconcileTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		loaded.Status = result.Status
		invoice = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch invoice.Status {
	case enums.InvoiceStatusPaid, enums.InvoiceStatusRefunded:
		return nil, pkgerrors.StateConflict("invoice is already settled", invoice.Status)
	case enums.InvoiceStatusCancelled:
		return nil, pkgerrors.StateConflict("invoice is cancelled", invoice.Status)
	}

	priced := &payable{invoice: invoice, discount: decimal.Zero}
	if strings.TrimSpace(couponRef) != "" {
		ref, err := coupons.ParseRef(couponRef)
		if err != nil {
			return nil, err
		}
		resolution, err := s.coupons.Resolve(ctx, ref, invoice.Total, invoice.OwnerID)
		if err != nil {
			return nil, err
		}
		couponID := resolution.Coupon.ID
		priced.couponID = &couponID
		priced.discount = resolution.Discount
	}

	priced.amount = money.NonNegative(money.Round2(invoice.Total.Sub(priced.discount)))
	return priced, nil
}

// price is quote plus the rule that a payment must charge something.
func (s *service) price(ctx context.Context, invoiceID uuid.UUID, couponRef string, scope *uuid.UUID) (*payable, error) {
	priced, err := s.quote(ctx, invoiceID, couponRef, scope)
	if err != nil {
		return nil, err
	}
	if !priced.amount.IsPositive() {
		invoice := priced.invoice
		return nil, pkgerrors.New(pkgerrors.CodeZeroAmount, "nothing left to pay after discount").
			WithDetails(map[string]any{
				"total":    invoice.Total.StringFixed(2),
				"discount": priced.discount.StringFixed(2),
			})
	}
	return priced, nil
}

// intentIdempotencyKey is stable for one invoice, quote and attempt number,
// so a retried initiate replays the intent the gateway already created.
func intentIdempotencyKey(priced *payable, currency string, attempt int) string {
	coupon := "none"
	if priced.couponID != nil {
		coupon = priced.couponID.String()
	}
	sum := sha256.Sum256([]byte(priced.amount.StringFixed(2) + "|" + currency + "|" + coupon))
	return fmt.Sprintf("intent-%s-%d-%s", priced.invoice.ID, attempt, hex.EncodeToString(sum[:8]))
}

func (s *service) newPayment(priced *payable, method enums.PaymentMethod, currency string) *models.Payment {
	return &models.Payment{
		ID:             uuid.New(),
		PaymentNumber:  money.NewBusinessID(money.PaymentPrefix),
		InvoiceID:      priced.invoice.ID,
		PayerID:        priced.invoice.OwnerID,
		Method:         method,
		Amount:         priced.amount,
		Currency:       currency,
		Status:         enums.PaymentStatusPending,
		CouponID:       priced.couponID,
		Discount:       priced.discount,
		RefundedAmount: decimal.Zero,
	}
}

func (s *service) cancelIntents(ctx context.Context, superseded []models.Payment) {
	for _, p := range superseded {
		if p.GatewayIntentID != nil {
			s.cancelIntent(ctx, *p.GatewayIntentID)
		}
	}
}

func (s *service) cancelIntent(ctx context.Context, intentID string) {
	if s.gateway == nil {
		return
	}
	if err := s.gateway.CancelIntent(ctx, intentID); err != nil {
		s.logg.WarnErr(s.logg.WithField(ctx, "intent_id", intentID), "cancel superseded intent failed", err)
	}
}

func notFoundOr(err error, action string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}
