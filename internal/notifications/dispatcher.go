package notifications

import (
	"context"
)

// Dispatcher delivers customer notifications. Implementations may fail;
// callers go through Notifier so failures never reach financial state.
type Dispatcher interface {
	SendReceipt(ctx context.Context, to Recipient, invoice InvoiceSnapshot, payment PaymentSnapshot) error
	SendRefundApproved(ctx context.Context, to Recipient, refund RefundSnapshot) error
	SendRefundRejected(ctx context.Context, to Recipient, refund RefundSnapshot) error
}
