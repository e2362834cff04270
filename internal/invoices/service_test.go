package invoices

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/dbtest"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/money"
)

var testNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (Service, *db.Client) {
	t.Helper()
	client := dbtest.New(t)
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(client.DB()),
		Tx:     client,
		Logger: logger.New(logger.Options{ServiceName: "invoices-test", Output: io.Discard}),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return svc, client
}

func createInvoice(t *testing.T, svc Service, items ...LineItemInput) *models.Invoice {
	t.Helper()
	if len(items) == 0 {
		items = []LineItemInput{{Description: "Annual checkup", Quantity: 1, UnitPrice: dec("1000")}}
	}
	invoice, err := svc.Create(context.Background(), CreateInput{OwnerID: uuid.New(), LineItems: items})
	require.NoError(t, err)
	return invoice
}

func insertPayment(t *testing.T, client *db.Client, invoiceID uuid.UUID, status enums.PaymentStatus, amount, refunded string) *models.Payment {
	t.Helper()
	p := &models.Payment{
		ID:             uuid.New(),
		PaymentNumber:  money.NewBusinessID(money.PaymentPrefix),
		InvoiceID:      invoiceID,
		PayerID:        uuid.New(),
		Method:         enums.PaymentMethodCash,
		Amount:         dec(amount),
		Currency:       "usd",
		Status:         status,
		Discount:       decimal.Zero,
		RefundedAmount: dec(refunded),
	}
	require.NoError(t, client.DB().Create(p).Error)
	return p
}

func TestCreateComputesTotals(t *testing.T) {
	svc, _ := newTestService(t)
	invoice := createInvoice(t, svc,
		LineItemInput{Description: "Vaccination", Quantity: 2, UnitPrice: dec("45.50")},
		LineItemInput{Description: " Nail trim ", Quantity: 1, UnitPrice: dec("12.00")},
	)

	assert.True(t, invoice.Subtotal.Equal(dec("103.00")), "subtotal %s", invoice.Subtotal)
	assert.True(t, invoice.Tax.Equal(dec("8.24")), "tax %s", invoice.Tax)
	assert.True(t, invoice.Total.Equal(invoice.Subtotal.Add(invoice.Tax)))
	assert.Equal(t, enums.InvoiceStatusPending, invoice.Status)
	assert.Equal(t, testNow.Add(15*24*time.Hour), invoice.DueDate)
	assert.Contains(t, invoice.InvoiceNumber, "INV-")

	got, err := svc.Get(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, "Nail trim", got.LineItems[1].Description)
	sum := got.LineItems[0].LineTotal.Add(got.LineItems[1].LineTotal)
	assert.True(t, sum.Equal(got.Subtotal))
}

func TestCreateScenarioTotals(t *testing.T) {
	svc, _ := newTestService(t)
	invoice := createInvoice(t, svc)
	assert.True(t, invoice.Subtotal.Equal(dec("1000")))
	assert.True(t, invoice.Tax.Equal(dec("80")))
	assert.True(t, invoice.Total.Equal(dec("1080")))
}

func TestCreateRejectsInvalidLineItems(t *testing.T) {
	svc, _ := newTestService(t)
	cases := [][]LineItemInput{
		nil,
		{{Description: "", Quantity: 1, UnitPrice: dec("1")}},
		{{Description: "x", Quantity: 0, UnitPrice: dec("1")}},
		{{Description: "x", Quantity: 1, UnitPrice: dec("-1")}},
	}
	for _, items := range cases {
		_, err := svc.Create(context.Background(), CreateInput{OwnerID: uuid.New(), LineItems: items})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "items %+v: %v", items, err)
	}
}

func TestCreateRejectsDuplicateSourceLink(t *testing.T) {
	svc, _ := newTestService(t)
	source := &SourceLink{Type: enums.InvoiceSourceAppointment, ID: uuid.New()}
	items := []LineItemInput{{Description: "Consult", Quantity: 1, UnitPrice: dec("50")}}

	_, err := svc.Create(context.Background(), CreateInput{OwnerID: uuid.New(), LineItems: items, Source: source})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{OwnerID: uuid.New(), LineItems: items, Source: source})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestEditLineItemsRecomputesTotals(t *testing.T) {
	svc, _ := newTestService(t)
	invoice := createInvoice(t, svc)

	updated, err := svc.EditLineItems(context.Background(), invoice.ID, []LineItemInput{
		{Description: "Dental cleaning", Quantity: 1, UnitPrice: dec("250")},
	})
	require.NoError(t, err)
	assert.True(t, updated.Total.Equal(dec("270")), "total %s", updated.Total)
	require.Len(t, updated.LineItems, 1)
	assert.Greater(t, updated.Version, invoice.Version)
}

func TestEditLineItemsRejectedOnceSettled(t *testing.T) {
	svc, client := newTestService(t)
	invoice := createInvoice(t, svc)
	insertPayment(t, client, invoice.ID, enums.PaymentStatusCompleted, "1080", "0")
	_, err := svc.Reconcile(context.Background(), invoice.ID)
	require.NoError(t, err)

	_, err = svc.EditLineItems(context.Background(), invoice.ID, []LineItemInput{{Description: "x", Quantity: 1, UnitPrice: dec("1")}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	assert.Equal(t, map[string]any{"current_status": enums.InvoiceStatusPaid}, pkgerrors.As(err).Details())
}

func TestSetManualStatusRules(t *testing.T) {
	svc, client := newTestService(t)
	invoice := createInvoice(t, svc)
	ctx := context.Background()

	_, err := svc.SetManualStatus(ctx, invoice.ID, enums.InvoiceStatusPaid)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	_, err = svc.SetManualStatus(ctx, invoice.ID, enums.InvoiceStatusRefunded)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	updated, err := svc.SetManualStatus(ctx, invoice.ID, enums.InvoiceStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusCancelled, updated.Status)

	updated, err = svc.SetManualStatus(ctx, invoice.ID, enums.InvoiceStatusPending)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPending, updated.Status)

	insertPayment(t, client, invoice.ID, enums.PaymentStatusCompleted, "1080", "0")
	_, err = svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	_, err = svc.SetManualStatus(ctx, invoice.ID, enums.InvoiceStatusOverdue)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestReconcileDerivesStatusFromPayments(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	invoice := createInvoice(t, svc)

	res, err := svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPending, res.Status)
	assert.False(t, res.Changed)

	insertPayment(t, client, invoice.ID, enums.PaymentStatusPending, "1080", "0")
	insertPayment(t, client, invoice.ID, enums.PaymentStatusFailed, "1080", "0")
	res, err = svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPending, res.Status)

	paid := insertPayment(t, client, invoice.ID, enums.PaymentStatusCompleted, "1080", "500")
	res, err = svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPaid, res.Status)
	assert.True(t, res.Changed)
	assert.True(t, res.Settlement.NetPaid.Equal(dec("580")))

	require.NoError(t, client.DB().Model(&models.Payment{}).Where("id = ?", paid.ID).
		Updates(map[string]any{"status": enums.PaymentStatusRefunded, "refunded_amount": dec("1080")}).Error)
	res, err = svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusRefunded, res.Status)
	assert.True(t, res.Settlement.NetPaid.IsZero())
}

func TestReconcileIsIdempotent(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	invoice := createInvoice(t, svc)
	insertPayment(t, client, invoice.ID, enums.PaymentStatusCompleted, "1080", "0")

	first, err := svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	require.True(t, first.Changed)
	afterFirst, err := svc.Get(ctx, invoice.ID)
	require.NoError(t, err)

	second, err := svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	afterSecond, err := svc.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, afterFirst.Version, afterSecond.Version)
	assert.Equal(t, afterFirst.UpdatedAt, afterSecond.UpdatedAt)
}

func TestReconcileKeepsStaffStatusWithoutSettledPayments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	invoice := createInvoice(t, svc)
	_, err := svc.SetManualStatus(ctx, invoice.ID, enums.InvoiceStatusOverdue)
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusOverdue, res.Status)
	assert.False(t, res.Changed)
}

func TestDeriveStatusTable(t *testing.T) {
	cases := []struct {
		name     string
		current  enums.InvoiceStatus
		payments []models.Payment
		want     enums.InvoiceStatus
	}{
		{"no payments", enums.InvoiceStatusPending, nil, enums.InvoiceStatusPending},
		{"ledger status without settled payments", enums.InvoiceStatusPaid, nil, enums.InvoiceStatusPending},
		{"completed", enums.InvoiceStatusPending, []models.Payment{{Status: enums.PaymentStatusCompleted, Amount: dec("10")}}, enums.InvoiceStatusPaid},
		{"refunded without amount", enums.InvoiceStatusPaid, []models.Payment{{Status: enums.PaymentStatusRefunded, Amount: dec("10")}}, enums.InvoiceStatusRefunded},
		{"partially refunded", enums.InvoiceStatusPaid, []models.Payment{{Status: enums.PaymentStatusCompleted, Amount: dec("10"), RefundedAmount: dec("4")}}, enums.InvoiceStatusPaid},
		{"fully refunded counter", enums.InvoiceStatusPaid, []models.Payment{{Status: enums.PaymentStatusCompleted, Amount: dec("10"), RefundedAmount: dec("10")}}, enums.InvoiceStatusRefunded},
		{"cancelled then paid", enums.InvoiceStatusCancelled, []models.Payment{{Status: enums.PaymentStatusCompleted, Amount: dec("10")}}, enums.InvoiceStatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.current, Settle(tc.payments)))
		})
	}
}

func TestMarkOverdueMovesOnlyUnpaidPastDue(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	late := createInvoice(t, svc)
	paidLate := createInvoice(t, svc)
	insertPayment(t, client, paidLate.ID, enums.PaymentStatusCompleted, "1", "0")

	moved, err := svc.MarkOverdue(ctx, testNow.Add(10*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Zero(t, moved)

	moved, err = svc.MarkOverdue(ctx, testNow.Add(16*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err := svc.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusOverdue, got.Status)
}
