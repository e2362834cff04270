package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/vetcare/clinic-finance/pkg/logger"
)

const (
	defaultBatchLimit = 100
	defaultLookback   = 7 * 24 * time.Hour
)

type overdueMarker interface {
	MarkOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

type receiptRetrier interface {
	RetryReceipts(ctx context.Context, since time.Time, limit int) (int, error)
}

type refundNoticeRetrier interface {
	RetryNotifications(ctx context.Context, since time.Time, limit int) (int, error)
}

// overdueJob moves unpaid invoices past their due date to overdue.
type overdueJob struct {
	logg    *logger.Logger
	markers overdueMarker
	limit   int
	now     func() time.Time
}

func NewOverdueJob(logg *logger.Logger, invoices overdueMarker, limit int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	return &overdueJob{
		logg:    logg,
		markers: invoices,
		limit:   limit,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (j *overdueJob) Name() string { return "invoice_overdue_scan" }

func (j *overdueJob) Run(ctx context.Context) error {
	moved, err := j.markers.MarkOverdue(ctx, j.now(), j.limit)
	if moved > 0 {
		j.logg.Info(j.logg.WithField(ctx, "invoices", moved), "invoices marked overdue")
	}
	return err
}

// notificationRetryJob re-sends receipts and refund decision notices whose
// sent-at marker is still empty.
type notificationRetryJob struct {
	logg     *logger.Logger
	receipts receiptRetrier
	refunds  refundNoticeRetrier
	limit    int
	lookback time.Duration
	now      func() time.Time
}

// NotificationRetryJobParams configure the notification retry job.
type NotificationRetryJobParams struct {
	Logger   *logger.Logger
	Receipts receiptRetrier
	Refunds  refundNoticeRetrier
	Limit    int
	Lookback time.Duration
}

func NewNotificationRetryJob(params NotificationRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Receipts == nil {
		return nil, fmt.Errorf("receipt retrier required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund notice retrier required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &notificationRetryJob{
		logg:     params.Logger,
		receipts: params.Receipts,
		refunds:  params.Refunds,
		limit:    limit,
		lookback: lookback,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (j *notificationRetryJob) Name() string { return "notification_retry" }

// Run tries both backlogs even when the first one fails.
func (j *notificationRetryJob) Run(ctx context.Context) error {
	since := j.now().Add(-j.lookback)

	receipts, receiptErr := j.receipts.RetryReceipts(ctx, since, j.limit)
	notices, noticeErr := j.refunds.RetryNotifications(ctx, since, j.limit)
	if receipts > 0 || notices > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"receipts":       receipts,
			"refund_notices": notices,
		}), "notification backlog retried")
	}
	return multierr.Combine(receiptErr, noticeErr)
}
