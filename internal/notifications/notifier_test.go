package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/clinic-finance/internal/owners"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

type stubDirectory struct {
	contacts map[uuid.UUID]owners.Contact
	err      error
}

func (s stubDirectory) Lookup(ctx context.Context, ownerID uuid.UUID) (*owners.Contact, error) {
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.contacts[ownerID]
	if !ok {
		return nil, owners.ErrNotFound
	}
	return &c, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	receipts int
	err      error
}

func (r *recordingDispatcher) SendReceipt(ctx context.Context, to Recipient, invoice InvoiceSnapshot, payment PaymentSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.receipts++
	return nil
}

func (r *recordingDispatcher) SendRefundApproved(ctx context.Context, to Recipient, refund RefundSnapshot) error {
	return r.err
}

func (r *recordingDispatcher) SendRefundRejected(ctx context.Context, to Recipient, refund RefundSnapshot) error {
	return r.err
}

type memoryGuard struct {
	mu         sync.Mutex
	sent       bool
	released   int
	confirmed  int
	confirmErr error
}

func (g *memoryGuard) delivery(owner uuid.UUID) Delivery {
	return Delivery{
		Kind:    enums.NotificationKindReceipt,
		OwnerID: owner,
		Claim: func(ctx context.Context) (bool, error) {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.sent {
				return false, nil
			}
			g.sent = true
			return true, nil
		},
		Confirm: func(ctx context.Context) error {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.confirmErr != nil {
				return g.confirmErr
			}
			g.confirmed++
			return nil
		},
		Release: func(ctx context.Context) error {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.sent = false
			g.released++
			return nil
		},
		Send: func(ctx context.Context, d Dispatcher, to Recipient) error {
			return d.SendReceipt(ctx, to, InvoiceSnapshot{}, PaymentSnapshot{})
		},
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
}

func TestDeliverSendsOnce(t *testing.T) {
	owner := uuid.New()
	dispatcher := &recordingDispatcher{}
	n, err := NewNotifier(dispatcher, stubDirectory{contacts: map[uuid.UUID]owners.Contact{owner: {ID: owner, Email: "a@b.c"}}}, testLogger(), nil)
	require.NoError(t, err)

	guard := &memoryGuard{}
	assert.Equal(t, OutcomeSent, n.Deliver(context.Background(), guard.delivery(owner)))
	assert.Equal(t, OutcomeAlreadySent, n.Deliver(context.Background(), guard.delivery(owner)))
	assert.Equal(t, 1, dispatcher.receipts)
	assert.Equal(t, 1, guard.confirmed)
}

func TestDeliverReportsSentWhenConfirmFails(t *testing.T) {
	owner := uuid.New()
	dispatcher := &recordingDispatcher{}
	n, err := NewNotifier(dispatcher, stubDirectory{contacts: map[uuid.UUID]owners.Contact{owner: {ID: owner, Email: "a@b.c"}}}, testLogger(), nil)
	require.NoError(t, err)

	guard := &memoryGuard{confirmErr: errors.New("db gone")}
	assert.Equal(t, OutcomeSent, n.Deliver(context.Background(), guard.delivery(owner)))
	assert.Equal(t, 1, dispatcher.receipts)
	assert.Zero(t, guard.released, "a delivered notice keeps its claim")
}

func TestDeliverReleasesGuardOnFailure(t *testing.T) {
	owner := uuid.New()
	dispatcher := &recordingDispatcher{err: errors.New("smtp down")}
	n, err := NewNotifier(dispatcher, stubDirectory{contacts: map[uuid.UUID]owners.Contact{owner: {ID: owner, Email: "a@b.c"}}}, testLogger(), nil)
	require.NoError(t, err)

	guard := &memoryGuard{}
	assert.Equal(t, OutcomeFailed, n.Deliver(context.Background(), guard.delivery(owner)))
	assert.False(t, guard.sent)
	assert.Equal(t, 1, guard.released)
	assert.Zero(t, guard.confirmed)

	dispatcher.err = nil
	assert.Equal(t, OutcomeSent, n.Deliver(context.Background(), guard.delivery(owner)))
}

func TestDeliverSkipsUnreachableOwners(t *testing.T) {
	noEmail := uuid.New()
	dir := stubDirectory{contacts: map[uuid.UUID]owners.Contact{noEmail: {ID: noEmail, Name: "No Mail"}}}
	n, err := NewNotifier(&recordingDispatcher{}, dir, testLogger(), nil)
	require.NoError(t, err)

	guard := &memoryGuard{}
	assert.Equal(t, OutcomeSkipped, n.Deliver(context.Background(), guard.delivery(noEmail)))
	assert.Equal(t, OutcomeSkipped, n.Deliver(context.Background(), guard.delivery(uuid.New())))
	assert.False(t, guard.sent)

	failing, err := NewNotifier(&recordingDispatcher{}, stubDirectory{err: errors.New("timeout")}, testLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, failing.Deliver(context.Background(), guard.delivery(noEmail)))
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(ctx context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type fakePublisher struct {
	failures int
	messages []*gcppubsub.Message
}

func (p *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p.failures > 0 {
		p.failures--
		return fakeResult{err: errors.New("unavailable")}
	}
	p.messages = append(p.messages, msg)
	return fakeResult{}
}

func TestPubSubDispatcherPublishesReceiptEnvelope(t *testing.T) {
	pub := &fakePublisher{failures: 1}
	d, err := newPubSubDispatcher(pub, testLogger(), time.Second)
	require.NoError(t, err)

	invoice := &models.Invoice{InvoiceNumber: "INV-1", Total: decimal.RequireFromString("1080"), Subtotal: decimal.NewFromInt(1000), Tax: decimal.NewFromInt(80)}
	payment := &models.Payment{PaymentNumber: "PAY-1", Amount: decimal.RequireFromString("972"), Discount: decimal.RequireFromString("108"), Currency: "usd"}
	err = d.SendReceipt(context.Background(), Recipient{Email: "a@b.c"}, SnapshotInvoice(invoice), SnapshotPayment(payment))
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, "receipt", msg.Attributes["kind"])
	assert.Equal(t, "receipt:PAY-1", msg.Attributes["dedupe_key"])

	var body Message
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	require.NotNil(t, body.Payment)
	assert.Equal(t, "972.00", body.Payment.Amount)
	assert.Equal(t, "1080.00", body.Invoice.Total)
}

func TestPubSubDispatcherGivesUp(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	d, err := newPubSubDispatcher(pub, testLogger(), time.Second)
	require.NoError(t, err)
	d.retries = 1

	err = d.SendRefundRejected(context.Background(), Recipient{Email: "a@b.c"}, RefundSnapshot{RefundRequestID: uuid.New()})
	require.Error(t, err)
	assert.Empty(t, pub.messages)
}
