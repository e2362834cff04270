package payments

import (
	"context"

	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/internal/ledger"
	"github.com/vetcare/clinic-finance/internal/notifications"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
)

// complete settles a pending payment. The status move, coupon redemption,
// journal entries, invoice reconciliation and loyalty accrual commit
// together; the receipt goes out after commit. Completing an already
// completed payment only retries the receipt.
func (s *service) complete(ctx context.Context, payment *models.Payment, chargeID *string, remoteSucceeded bool) (*Confirmation, error) {
	ctx = s.logg.WithFields(s.logg.WithPaymentID(ctx, payment.ID.String()), map[string]any{
		"invoice_id": payment.InvoiceID.String(),
	})

	confirmation := &Confirmation{}
	var superseded []models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		ok, err := repo.MarkCompleted(ctx, payment.ID, s.now(), chargeID, remoteSucceeded)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment completed")
		}
		if !ok {
			current, err := repo.FindByID(ctx, payment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
			}
			if !current.Status.CountsAsSettled() {
				return pkgerrors.StateConflict("payment cannot be completed", current.Status)
			}
			invoice, err := s.invoices.GetTx(ctx, tx, current.InvoiceID)
			if err != nil {
				return err
			}
			confirmation.Payment = current
			confirmation.InvoiceStatus = invoice.Status
			confirmation.AlreadyConfirmed = true
			return nil
		}
		if payment, err = repo.FindByID(ctx, payment.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
		}

		if payment.CouponID != nil {
			if err := s.coupons.ApplyUsage(ctx, tx, *payment.CouponID); err != nil {
				if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
					return err
				}
				s.logg.WarnErr(s.logg.WithField(ctx, "coupon_id", payment.CouponID.String()), "coupon could not be redeemed at completion", err)
			} else if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
				InvoiceID: payment.InvoiceID,
				PaymentID: &payment.ID,
				CouponID:  payment.CouponID,
				Type:      enums.FinanceEventTypeCouponApplied,
				Amount:    payment.Discount,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record coupon event")
			}
		}

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			InvoiceID: payment.InvoiceID,
			PaymentID: &payment.ID,
			Type:      enums.FinanceEventTypePaymentCompleted,
			Amount:    payment.Amount,
			Metadata: map[string]any{
				"method":   payment.Method.String(),
				"currency": payment.Currency,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment event")
		}

		superseded, err = repo.SupersedePending(ctx, payment.InvoiceID, payment.ID, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "supersede pending payments")
		}

		result, err := s.invoices.ReconcileTx(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		confirmation.InvoiceStatus = result.Status

		accrual, err := s.loyalty.AddPointsTx(ctx, tx, payment.PayerID, payment.Amount)
		if err != nil {
			return err
		}
		confirmation.PointsEarned = accrual.PointsEarned
		confirmation.BonusCouponID = accrual.BonusCouponID

		confirmation.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !confirmation.AlreadyConfirmed {
		s.cancelIntents(ctx, superseded)
		s.metrics.PaymentConfirmed(confirmation.Payment.Method.String())
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"amount":         confirmation.Payment.Amount.StringFixed(2),
			"invoice_status": confirmation.InvoiceStatus.String(),
			"points_earned":  confirmation.PointsEarned,
		}), "payment completed")
	}
	confirmation.Receipt = s.sendReceipt(ctx, confirmation.Payment)
	return confirmation, nil
}

func (s *service) sendReceipt(ctx context.Context, payment *models.Payment) notifications.Outcome {
	return s.notifier.Deliver(ctx, notifications.Delivery{
		Kind:    enums.NotificationKindReceipt,
		OwnerID: payment.PayerID,
		Claim: func(ctx context.Context) (bool, error) {
			now := s.now()
			return s.repo.ClaimReceipt(ctx, payment.ID, now, now.Add(-notifications.ClaimLease))
		},
		Confirm: func(ctx context.Context) error {
			return s.repo.ConfirmReceipt(ctx, payment.ID, s.now())
		},
		Release: func(ctx context.Context) error {
			return s.repo.ReleaseReceipt(ctx, payment.ID)
		},
		Send: func(ctx context.Context, d notifications.Dispatcher, to notifications.Recipient) error {
			invoice, err := s.invoices.GetTx(ctx, nil, payment.InvoiceID)
			if err != nil {
				return err
			}
			return d.SendReceipt(ctx, to, notifications.SnapshotInvoice(invoice), notifications.SnapshotPayment(payment))
		},
	})
}
