package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/vetcare/clinic-finance/pkg/enums"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

const (
	defaultPublishTimeout = 10 * time.Second
	defaultPublishRetries = 3
)

// Message is the JSON body published for the mailer service.
type Message struct {
	ID         string                 `json:"id"`
	Kind       enums.NotificationKind `json:"kind"`
	DedupeKey  string                 `json:"dedupe_key"`
	To         Recipient              `json:"to"`
	Invoice    *InvoiceSnapshot       `json:"invoice,omitempty"`
	Payment    *PaymentSnapshot       `json:"payment,omitempty"`
	Refund     *RefundSnapshot        `json:"refund,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

// PubSubDispatcher publishes notifications to a Pub/Sub topic consumed by
// the mailer.
type PubSubDispatcher struct {
	pub     publisher
	logg    *logger.Logger
	timeout time.Duration
	retries uint64
}

func NewPubSubDispatcher(p *gcppubsub.Publisher, logg *logger.Logger, timeout time.Duration) (*PubSubDispatcher, error) {
	if p == nil {
		return nil, fmt.Errorf("notification publisher required")
	}
	return newPubSubDispatcher(&gcpPublisher{Publisher: p}, logg, timeout)
}

func newPubSubDispatcher(pub publisher, logg *logger.Logger, timeout time.Duration) (*PubSubDispatcher, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubDispatcher{pub: pub, logg: logg, timeout: timeout, retries: defaultPublishRetries}, nil
}

func (d *PubSubDispatcher) SendReceipt(ctx context.Context, to Recipient, invoice InvoiceSnapshot, payment PaymentSnapshot) error {
	return d.publish(ctx, Message{
		Kind:      enums.NotificationKindReceipt,
		DedupeKey: "receipt:" + payment.PaymentNumber,
		To:        to,
		Invoice:   &invoice,
		Payment:   &payment,
	})
}

func (d *PubSubDispatcher) SendRefundApproved(ctx context.Context, to Recipient, refund RefundSnapshot) error {
	return d.publish(ctx, Message{
		Kind:      enums.NotificationKindRefundApproved,
		DedupeKey: "refund_approved:" + refund.RefundRequestID.String(),
		To:        to,
		Refund:    &refund,
	})
}

func (d *PubSubDispatcher) SendRefundRejected(ctx context.Context, to Recipient, refund RefundSnapshot) error {
	return d.publish(ctx, Message{
		Kind:      enums.NotificationKindRefundRejected,
		DedupeKey: "refund_rejected:" + refund.RefundRequestID.String(),
		To:        to,
		Refund:    &refund,
	})
}

func (d *PubSubDispatcher) publish(ctx context.Context, msg Message) error {
	msg.ID = ulid.Make().String()
	msg.OccurredAt = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", msg.Kind, err)
	}
	out := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"message_id": msg.ID,
			"kind":       string(msg.Kind),
			"dedupe_key": msg.DedupeKey,
		},
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.retries), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		result := d.pub.Publish(publishCtx, out)
		if result == nil {
			return backoff.Permanent(errors.New("publisher returned nil result"))
		}
		_, err := result.Get(publishCtx)
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("publish %s notification after %d attempts: %w", msg.Kind, attempt, err)
	}

	d.logg.Debug(d.logg.WithFields(ctx, map[string]any{
		"kind":       msg.Kind.String(),
		"dedupe_key": msg.DedupeKey,
		"message_id": msg.ID,
	}), "notification published")
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

// LogDispatcher writes notifications to the log instead of sending them.
// Used when Pub/Sub is not configured.
type LogDispatcher struct {
	logg *logger.Logger
}

func NewLogDispatcher(logg *logger.Logger) *LogDispatcher {
	return &LogDispatcher{logg: logg}
}

func (d *LogDispatcher) SendReceipt(ctx context.Context, to Recipient, invoice InvoiceSnapshot, payment PaymentSnapshot) error {
	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"kind":           enums.NotificationKindReceipt.String(),
		"to":             to.Email,
		"invoice_number": invoice.InvoiceNumber,
		"payment_number": payment.PaymentNumber,
		"amount":         payment.Amount,
	}), "notification dispatched")
	return nil
}

func (d *LogDispatcher) SendRefundApproved(ctx context.Context, to Recipient, refund RefundSnapshot) error {
	return d.logRefund(ctx, enums.NotificationKindRefundApproved, to, refund)
}

func (d *LogDispatcher) SendRefundRejected(ctx context.Context, to Recipient, refund RefundSnapshot) error {
	return d.logRefund(ctx, enums.NotificationKindRefundRejected, to, refund)
}

func (d *LogDispatcher) logRefund(ctx context.Context, kind enums.NotificationKind, to Recipient, refund RefundSnapshot) error {
	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"kind":              kind.String(),
		"to":                to.Email,
		"refund_request_id": refund.RefundRequestID.String(),
		"amount":            refund.Amount,
	}), "notification dispatched")
	return nil
}
