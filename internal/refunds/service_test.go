package refunds

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/internal/ledger"
	"github.com/vetcare/clinic-finance/internal/notifications"
	"github.com/vetcare/clinic-finance/internal/owners"
	"github.com/vetcare/clinic-finance/internal/payments"
	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/dbtest"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/money"
	"github.com/vetcare/clinic-finance/pkg/types"
)

var testNow = time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeRefunds struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeRefunds) CreateRefund(ctx context.Context, intentID string, amount decimal.Decimal, idempotencyKey string) (*types.GatewayRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, idempotencyKey)
	return &types.GatewayRefund{ID: "re_" + idempotencyKey, Status: "succeeded", Amount: amount}, nil
}

type stubDirectory map[uuid.UUID]owners.Contact

func (s stubDirectory) Lookup(ctx context.Context, ownerID uuid.UUID) (*owners.Contact, error) {
	c, ok := s[ownerID]
	if !ok {
		return nil, owners.ErrNotFound
	}
	return &c, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	approved []notifications.RefundSnapshot
	rejected []notifications.RefundSnapshot
	err      error
}

func (d *recordingDispatcher) SendReceipt(ctx context.Context, to notifications.Recipient, invoice notifications.InvoiceSnapshot, payment notifications.PaymentSnapshot) error {
	return nil
}

func (d *recordingDispatcher) SendRefundApproved(ctx context.Context, to notifications.Recipient, refund notifications.RefundSnapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.approved = append(d.approved, refund)
	return nil
}

func (d *recordingDispatcher) SendRefundRejected(ctx context.Context, to notifications.Recipient, refund notifications.RefundSnapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.rejected = append(d.rejected, refund)
	return nil
}

type harness struct {
	svc        Service
	client     *db.Client
	invoices   invoices.Service
	payments   payments.Repository
	gateway    *fakeRefunds
	dispatcher *recordingDispatcher
	owner      uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "refunds-test", Output: io.Discard})
	now := func() time.Time { return testNow }

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:   invoices.NewRepository(client.DB()),
		Tx:     client,
		Logger: logg,
		Now:    now,
	})
	require.NoError(t, err)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)

	owner := uuid.New()
	dispatcher := &recordingDispatcher{}
	notifier, err := notifications.NewNotifier(dispatcher, stubDirectory{
		owner: {ID: owner, Name: "Sam Ortiz", Email: "sam@example.com"},
	}, logg, nil)
	require.NoError(t, err)

	paymentRepo := payments.NewRepository(client.DB())
	gateway := &fakeRefunds{}
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(client.DB()),
		Payments: paymentRepo,
		Invoices: invoiceSvc,
		Gateway:  gateway,
		Ledger:   ledgerSvc,
		Notifier: notifier,
		Tx:       client,
		Logger:   logg,
		Now:      now,
	})
	require.NoError(t, err)

	return &harness{
		svc:        svc,
		client:     client,
		invoices:   invoiceSvc,
		payments:   paymentRepo,
		gateway:    gateway,
		dispatcher: dispatcher,
		owner:      owner,
	}
}

// paidInvoice creates a 1000 + tax invoice settled by one completed payment
// of the given method made a day before testNow.
func (h *harness) paidInvoice(t *testing.T, method enums.PaymentMethod) (*models.Invoice, *models.Payment) {
	t.Helper()
	ctx := context.Background()
	invoice, err := h.invoices.Create(ctx, invoices.CreateInput{
		OwnerID:   h.owner,
		LineItems: []invoices.LineItemInput{{Description: "Surgery", Quantity: 1, UnitPrice: dec("1000")}},
	})
	require.NoError(t, err)

	completedAt := testNow.Add(-24 * time.Hour)
	payment := &models.Payment{
		ID:             uuid.New(),
		PaymentNumber:  money.NewBusinessID(money.PaymentPrefix),
		InvoiceID:      invoice.ID,
		PayerID:        h.owner,
		Method:         method,
		Amount:         invoice.Total,
		Currency:       "usd",
		Status:         enums.PaymentStatusCompleted,
		Discount:       decimal.Zero,
		RefundedAmount: decimal.Zero,
		CompletedAt:    &completedAt,
		CreatedAt:      completedAt,
	}
	if method == enums.PaymentMethodGateway {
		intent := "pi_" + payment.ID.String()[:8]
		payment.GatewayIntentID = &intent
	}
	require.NoError(t, h.client.DB().Create(payment).Error)

	result, err := h.invoices.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusPaid, result.Status)
	return invoice, payment
}

func (h *harness) request(t *testing.T, paymentID uuid.UUID, amount string) *models.RefundRequest {
	t.Helper()
	input := RequestInput{PaymentID: paymentID, RequesterID: h.owner, Reason: "appointment cancelled"}
	if amount != "" {
		a := dec(amount)
		input.Amount = &a
	}
	request, err := h.svc.Request(context.Background(), input)
	require.NoError(t, err)
	return request
}

func TestTwoPartialRefundsRefundTheInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	invoice, payment := h.paidInvoice(t, enums.PaymentMethodCard)
	require.True(t, payment.Amount.Equal(dec("1080")))

	first, err := h.svc.Approve(ctx, h.request(t, payment.ID, "500").ID)
	require.NoError(t, err)
	assert.True(t, first.Payment.RefundedAmount.Equal(dec("500")), "refunded %s", first.Payment.RefundedAmount)
	assert.Equal(t, enums.PaymentStatusCompleted, first.Payment.Status)
	assert.Equal(t, enums.InvoiceStatusPaid, first.InvoiceStatus)

	second, err := h.svc.Approve(ctx, h.request(t, payment.ID, "").ID)
	require.NoError(t, err)
	assert.True(t, second.Request.Amount.Equal(dec("580")), "defaulted amount %s", second.Request.Amount)
	assert.True(t, second.Payment.RefundedAmount.Equal(dec("1080")))
	assert.Equal(t, enums.PaymentStatusRefunded, second.Payment.Status)
	assert.Equal(t, enums.InvoiceStatusRefunded, second.InvoiceStatus)

	stored, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusRefunded, stored.Status)
	assert.Len(t, h.dispatcher.approved, 2)
}

func TestApproveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodCash)
	request := h.request(t, payment.ID, "100")

	first, err := h.svc.Approve(ctx, request.ID)
	require.NoError(t, err)
	second, err := h.svc.Approve(ctx, request.ID)
	require.NoError(t, err)

	assert.False(t, first.AlreadyDecided)
	assert.True(t, second.AlreadyDecided)
	assert.Equal(t, notifications.OutcomeAlreadySent, second.Notification)
	assert.True(t, second.Payment.RefundedAmount.Equal(dec("100")), "refund applied once")
	assert.Len(t, h.dispatcher.approved, 1)
}

func TestApproveClampsToRefundableBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodCash)
	request := h.request(t, payment.ID, "1000")

	// Another refund lands after the request was filed.
	require.NoError(t, h.client.DB().Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("refunded_amount", dec("300")).Error)

	decision, err := h.svc.Approve(ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, decision.Request.RefundedAmount.Equal(dec("780")), "refunded %s", decision.Request.RefundedAmount)
	assert.True(t, decision.Payment.RefundedAmount.Equal(decision.Payment.Amount))
	assert.True(t, decision.Payment.RefundedAmount.LessThanOrEqual(decision.Payment.Amount))
	assert.Equal(t, enums.PaymentStatusRefunded, decision.Payment.Status)
}

func TestGatewayRefundUsesRequestKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodGateway)
	request := h.request(t, payment.ID, "80")

	h.gateway.err = pkgerrors.New(pkgerrors.CodeGateway, "card network timeout")
	_, err := h.svc.Approve(ctx, request.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))

	pending, err := h.svc.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusPending, pending.Status, "failed remote refund leaves the request open")

	h.gateway.err = nil
	decision, err := h.svc.Approve(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"refund-" + request.ID.String()}, h.gateway.keys)
	require.NotNil(t, decision.Request.GatewayRefundID)
	require.NotNil(t, decision.Payment.StripeRefundID)
	assert.Equal(t, *decision.Request.GatewayRefundID, *decision.Payment.StripeRefundID)
}

func TestRejectFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodCash)
	request := h.request(t, payment.ID, "50")

	_, err := h.svc.Reject(ctx, request.ID, "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	decision, err := h.svc.Reject(ctx, request.ID, "outside policy")
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusRejected, decision.Request.Status)
	require.NotNil(t, decision.Request.RejectionReason)
	assert.Equal(t, "outside policy", *decision.Request.RejectionReason)

	again, err := h.svc.Reject(ctx, request.ID, "outside policy")
	require.NoError(t, err)
	assert.True(t, again.AlreadyDecided)
	assert.Len(t, h.dispatcher.rejected, 1)

	_, err = h.svc.Approve(ctx, request.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	approved := h.request(t, payment.ID, "20")
	_, err = h.svc.Approve(ctx, approved.ID)
	require.NoError(t, err)
	_, err = h.svc.Reject(ctx, approved.ID, "changed my mind")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestRequestEligibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodCash)

	cases := []struct {
		name  string
		input RequestInput
		code  pkgerrors.Code
	}{
		{"missing reason", RequestInput{PaymentID: payment.ID, RequesterID: h.owner}, pkgerrors.CodeValidation},
		{"unknown payment", RequestInput{PaymentID: uuid.New(), RequesterID: h.owner, Reason: "x"}, pkgerrors.CodeNotFound},
		{"zero amount", RequestInput{PaymentID: payment.ID, RequesterID: h.owner, Reason: "x", Amount: ptr(dec("0"))}, pkgerrors.CodeValidation},
		{"over balance", RequestInput{PaymentID: payment.ID, RequesterID: h.owner, Reason: "x", Amount: ptr(dec("1080.01"))}, pkgerrors.CodeValidation},
		{"sub cent", RequestInput{PaymentID: payment.ID, RequesterID: h.owner, Reason: "x", Amount: ptr(dec("10.005"))}, pkgerrors.CodeValidation},
		{"other owner", RequestInput{PaymentID: payment.ID, RequesterID: h.owner, Reason: "x", OwnerScope: ptr(uuid.New())}, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Request(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}

	h.request(t, payment.ID, "10")
	_, err := h.svc.Request(ctx, RequestInput{PaymentID: payment.ID, RequesterID: h.owner, Reason: "again"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestRequestWindowRunsFromPaymentCreation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodCash)

	old := testNow.Add(-8 * 24 * time.Hour)
	require.NoError(t, h.client.DB().Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("created_at", old).Error)

	_, err := h.svc.Request(ctx, RequestInput{PaymentID: payment.ID, RequesterID: h.owner, Reason: "late"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestRequestNeedsPaidInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodCash)

	require.NoError(t, h.client.DB().Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("status", enums.PaymentStatusPending).Error)
	_, err := h.svc.Request(ctx, RequestInput{PaymentID: payment.ID, RequesterID: h.owner, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestRefundNotificationsAreRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidInvoice(t, enums.PaymentMethodCash)
	request := h.request(t, payment.ID, "40")

	h.dispatcher.err = errors.New("mail relay down")
	decision, err := h.svc.Approve(ctx, request.ID)
	require.NoError(t, err, "notification failures never fail the refund")
	assert.Equal(t, notifications.OutcomeFailed, decision.Notification)
	assert.True(t, decision.Payment.RefundedAmount.Equal(dec("40")))

	h.dispatcher.err = nil
	sent, err := h.svc.RetryNotifications(ctx, testNow.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = h.svc.RetryNotifications(ctx, testNow.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Len(t, h.dispatcher.approved, 1)
}

func ptr[T any](v T) *T { return &v }
