package enums

import "fmt"

// FinanceEventType enumerates money movements recorded in the finance ledger.
type FinanceEventType string

const (
	FinanceEventTypePaymentCompleted  FinanceEventType = "payment_completed"
	FinanceEventTypeRefundIssued      FinanceEventType = "refund_issued"
	FinanceEventTypeCouponApplied     FinanceEventType = "coupon_applied"
	FinanceEventTypeInvoiceReconciled FinanceEventType = "invoice_reconciled"
)

var validFinanceEventTypes = []FinanceEventType{
	FinanceEventTypePaymentCompleted,
	FinanceEventTypeRefundIssued,
	FinanceEventTypeCouponApplied,
	FinanceEventTypeInvoiceReconciled,
}

// String implements fmt.Stringer.
func (f FinanceEventType) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FinanceEventType.
func (f FinanceEventType) IsValid() bool {
	for _, candidate := range validFinanceEventTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFinanceEventType converts raw input into a FinanceEventType.
func ParseFinanceEventType(value string) (FinanceEventType, error) {
	for _, candidate := range validFinanceEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid finance event type %q", value)
}
