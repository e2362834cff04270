package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vetcare/clinic-finance/pkg/logger"
)

type fakeOverdue struct {
	now   time.Time
	limit int
	moved int
	err   error
}

func (f *fakeOverdue) MarkOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	f.now = now
	f.limit = limit
	return f.moved, f.err
}

type fakeRetrier struct {
	since time.Time
	calls int
	sent  int
	err   error
}

func (f *fakeRetrier) RetryReceipts(ctx context.Context, since time.Time, limit int) (int, error) {
	f.since = since
	f.calls++
	return f.sent, f.err
}

func (f *fakeRetrier) RetryNotifications(ctx context.Context, since time.Time, limit int) (int, error) {
	f.since = since
	f.calls++
	return f.sent, f.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestOverdueJobPassesClockAndLimit(t *testing.T) {
	now := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	invoices := &fakeOverdue{moved: 3}
	job, err := NewOverdueJob(quietLogger(), invoices, 0)
	if err != nil {
		t.Fatalf("NewOverdueJob: %v", err)
	}
	job.(*overdueJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !invoices.now.Equal(now) {
		t.Fatalf("expected now %v, got %v", now, invoices.now)
	}
	if invoices.limit != defaultBatchLimit {
		t.Fatalf("expected default limit, got %d", invoices.limit)
	}
}

func TestNotificationRetryJobRunsBothBacklogs(t *testing.T) {
	now := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	receipts := &fakeRetrier{err: errors.New("db unavailable")}
	refunds := &fakeRetrier{sent: 2}
	job, err := NewNotificationRetryJob(NotificationRetryJobParams{
		Logger:   quietLogger(),
		Receipts: receipts,
		Refunds:  refunds,
		Lookback: 48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewNotificationRetryJob: %v", err)
	}
	job.(*notificationRetryJob).now = func() time.Time { return now }

	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected receipt failure to surface")
	}
	if refunds.calls != 1 {
		t.Fatalf("refund notices should still be retried, got %d calls", refunds.calls)
	}
	if want := now.Add(-48 * time.Hour); !refunds.since.Equal(want) {
		t.Fatalf("expected since %v, got %v", want, refunds.since)
	}
}

func TestJobConstructorsValidateDependencies(t *testing.T) {
	if _, err := NewOverdueJob(nil, &fakeOverdue{}, 10); err == nil {
		t.Fatal("expected missing logger to fail")
	}
	if _, err := NewNotificationRetryJob(NotificationRetryJobParams{Logger: quietLogger()}); err == nil {
		t.Fatal("expected missing retriers to fail")
	}
}
