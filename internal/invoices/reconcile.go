package invoices

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
	"github.com/vetcare/clinic-finance/pkg/money"
)

// Settlement summarizes the payments of one invoice.
type Settlement struct {
	TotalCompleted decimal.Decimal `json:"total_completed"`
	TotalRefunded  decimal.Decimal `json:"total_refunded"`
	NetPaid        decimal.Decimal `json:"net_paid"`
	HasSettled     bool            `json:"has_settled"`
}

// Settle computes the settlement over completed and refunded payments.
// A refunded payment without a recorded refunded amount counts as fully
// refunded.
func Settle(payments []models.Payment) Settlement {
	settled := lo.Filter(payments, func(p models.Payment, _ int) bool {
		return p.Status.CountsAsSettled()
	})
	completed := money.Sum(lo.Map(settled, func(p models.Payment, _ int) decimal.Decimal {
		return p.Amount
	})...)
	refunded := money.Sum(lo.Map(settled, func(p models.Payment, _ int) decimal.Decimal {
		if p.Status == enums.PaymentStatusRefunded && p.RefundedAmount.IsZero() {
			return p.Amount
		}
		return p.RefundedAmount
	})...)
	return Settlement{
		TotalCompleted: completed,
		TotalRefunded:  refunded,
		NetPaid:        money.NonNegative(completed.Sub(refunded)),
		HasSettled:     len(settled) > 0,
	}
}

// DeriveStatus maps a settlement onto an invoice status. Without a settled
// payment a staff-set status (pending, overdue, cancelled) is kept and a
// ledger-owned one falls back to pending.
func DeriveStatus(current enums.InvoiceStatus, s Settlement) enums.InvoiceStatus {
	switch {
	case !s.HasSettled:
		if current.IsLedgerOwned() || !current.IsValid() {
			return enums.InvoiceStatusPending
		}
		return current
	case s.NetPaid.IsPositive():
		return enums.InvoiceStatusPaid
	default:
		return enums.InvoiceStatusRefunded
	}
}
