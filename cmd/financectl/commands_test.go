package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/clinic-finance/internal/app"
	"github.com/vetcare/clinic-finance/internal/invoices"
	"github.com/vetcare/clinic-finance/internal/loyalty"
	"github.com/vetcare/clinic-finance/internal/payments"
	"github.com/vetcare/clinic-finance/internal/refunds"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

type fakeInvoices struct {
	invoices.Service
	reconciled uuid.UUID
	limit      int
}

func (f *fakeInvoices) Reconcile(_ context.Context, id uuid.UUID) (*invoices.ReconcileResult, error) {
	f.reconciled = id
	return &invoices.ReconcileResult{InvoiceID: id, Previous: enums.InvoiceStatusPending, Status: enums.InvoiceStatusPaid, Changed: true}, nil
}

func (f *fakeInvoices) MarkOverdue(_ context.Context, _ time.Time, limit int) (int, error) {
	f.limit = limit
	return 3, nil
}

type fakePayments struct {
	payments.Service
	since time.Time
}

func (f *fakePayments) RetryReceipts(_ context.Context, since time.Time, _ int) (int, error) {
	f.since = since
	return 2, nil
}

type fakeRefunds struct {
	refunds.Service
	err error
}

func (f *fakeRefunds) RetryNotifications(context.Context, time.Time, int) (int, error) {
	return 1, f.err
}

type fakeLoyalty struct {
	loyalty.Service
	tier enums.LoyaltyTier
}

func (f *fakeLoyalty) UpdateTier(_ context.Context, id uuid.UUID, tier enums.LoyaltyTier) (*loyalty.Account, error) {
	f.tier = tier
	return &loyalty.Account{ID: &id, Tier: tier}, nil
}

func runCmd(t *testing.T, services *app.Services, args ...string) (string, bool, error) {
	t.Helper()
	closed := false
	open := func(context.Context) (*session, error) {
		return &session{Services: services, close: func() error {
			closed = true
			return nil
		}}, nil
	}

	var out bytes.Buffer
	root := newRootCmd(open)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), closed, err
}

func TestReconcilePrintsResult(t *testing.T) {
	inv := &fakeInvoices{}
	id := uuid.New()

	out, closed, err := runCmd(t, &app.Services{Invoices: inv}, "reconcile", id.String())
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, id, inv.reconciled)
	assert.Contains(t, out, `"status": "paid"`)
	assert.Contains(t, out, `"changed": true`)
}

func TestReconcileRejectsBadID(t *testing.T) {
	_, closed, err := runCmd(t, &app.Services{}, "reconcile", "not-a-uuid")
	require.Error(t, err)
	assert.False(t, closed)
	assert.Contains(t, err.Error(), "invalid invoice id")
}

func TestMarkOverdueUsesLimit(t *testing.T) {
	inv := &fakeInvoices{}

	out, _, err := runCmd(t, &app.Services{Invoices: inv}, "mark-overdue", "--limit", "25")
	require.NoError(t, err)
	assert.Equal(t, 25, inv.limit)
	assert.Contains(t, out, "marked 3 invoice(s) overdue")
}

func TestMarkOverdueRejectsZeroLimit(t *testing.T) {
	_, _, err := runCmd(t, &app.Services{Invoices: &fakeInvoices{}}, "mark-overdue", "--limit", "0")
	require.Error(t, err)
}

func TestRetryNotificationsReportsBothKinds(t *testing.T) {
	pays := &fakePayments{}
	before := time.Now().UTC().Add(-2 * time.Hour)

	out, closed, err := runCmd(t, &app.Services{Payments: pays, Refunds: &fakeRefunds{}}, "retry-notifications", "--lookback", "1h")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.True(t, pays.since.After(before))
	assert.Contains(t, out, "retried 2 receipt(s) and 1 refund notice(s)")
}

func TestRetryNotificationsSurfacesRefundFailure(t *testing.T) {
	services := &app.Services{Payments: &fakePayments{}, Refunds: &fakeRefunds{err: errors.New("pubsub down")}}

	_, closed, err := runCmd(t, services, "retry-notifications")
	require.Error(t, err)
	assert.True(t, closed)
	assert.Contains(t, err.Error(), "retry refund notices")
}

func TestSetTierParsesTier(t *testing.T) {
	loy := &fakeLoyalty{}

	out, _, err := runCmd(t, &app.Services{Loyalty: loy}, "set-tier", uuid.NewString(), "gold")
	require.NoError(t, err)
	assert.Equal(t, enums.LoyaltyTierGold, loy.tier)
	assert.Contains(t, out, `"tier": "gold"`)
}

func TestSetTierRejectsUnknownTier(t *testing.T) {
	_, closed, err := runCmd(t, &app.Services{Loyalty: &fakeLoyalty{}}, "set-tier", uuid.NewString(), "diamond")
	require.Error(t, err)
	assert.False(t, closed)
}

func TestOpenFailureIsReturned(t *testing.T) {
	root := newRootCmd(func(context.Context) (*session, error) {
		return nil, errors.New("no database")
	})
	root.SetArgs([]string{"mark-overdue"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, "no database", err.Error())
}
