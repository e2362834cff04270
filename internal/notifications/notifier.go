package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/clinic-finance/internal/owners"
	"github.com/vetcare/clinic-finance/pkg/enums"
	"github.com/vetcare/clinic-finance/pkg/logger"
	"github.com/vetcare/clinic-finance/pkg/metrics"
)

// Outcome is the result of one guarded delivery attempt.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

// ClaimLease bounds how long a claim blocks other senders. A process that
// dies between Claim and Confirm leaves the claim behind; once it is older
// than the lease the retry job may claim and send again, so a crash inside
// the send window can produce a duplicate notice but never a lost one.
const ClaimLease = 15 * time.Minute

// Delivery describes one notification guarded by a claim lease and a
// sent-at marker. Claim takes the lease when nothing was sent and no live
// claim exists, and reports whether it did. Confirm records the send.
// Release drops the lease after a failed send.
type Delivery struct {
	Kind    enums.NotificationKind
	OwnerID uuid.UUID
	Claim   func(ctx context.Context) (bool, error)
	Confirm func(ctx context.Context) error
	Release func(ctx context.Context) error
	Send    func(ctx context.Context, d Dispatcher, to Recipient) error
}

// Notifier sends notifications at most once per marker and never returns
// an error to the financial operation that triggered it.
type Notifier struct {
	dispatcher Dispatcher
	owners     owners.Directory
	logg       *logger.Logger
	metrics    *metrics.FinanceMetrics
}

func NewNotifier(dispatcher Dispatcher, directory owners.Directory, logg *logger.Logger, m *metrics.FinanceMetrics) (*Notifier, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if directory == nil {
		return nil, fmt.Errorf("owner directory required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Notifier{dispatcher: dispatcher, owners: directory, logg: logg, metrics: m}, nil
}

func (n *Notifier) Deliver(ctx context.Context, d Delivery) Outcome {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"notification_kind": d.Kind.String(),
		"owner_id":          d.OwnerID.String(),
	})

	contact, err := n.owners.Lookup(ctx, d.OwnerID)
	if err != nil {
		if errors.Is(err, owners.ErrNotFound) {
			n.logg.Warn(ctx, "owner not found, notification skipped")
		} else {
			n.logg.WarnErr(ctx, "owner lookup failed, notification skipped", err)
		}
		return OutcomeSkipped
	}
	if !contact.Reachable() {
		n.logg.Warn(ctx, "owner has no email, notification skipped")
		return OutcomeSkipped
	}

	claimed, err := d.Claim(ctx)
	if err != nil {
		n.metrics.NotificationFailed(d.Kind.String())
		n.logg.WarnErr(ctx, "notification guard claim failed", err)
		return OutcomeFailed
	}
	if !claimed {
		return OutcomeAlreadySent
	}

	to := Recipient{OwnerID: contact.ID, Name: contact.Name, Email: contact.Email}
	if err := d.Send(ctx, n.dispatcher, to); err != nil {
		n.metrics.NotificationFailed(d.Kind.String())
		n.logg.WarnErr(ctx, "notification send failed, left for retry", err)
		if releaseErr := d.Release(ctx); releaseErr != nil {
			n.logg.Error(ctx, "notification guard release failed", releaseErr)
		}
		return OutcomeFailed
	}

	if d.Confirm != nil {
		if err := d.Confirm(ctx); err != nil {
			n.logg.Error(ctx, "notification sent but not recorded", err)
		}
	}

	n.logg.Info(ctx, "notification sent")
	return OutcomeSent
}
