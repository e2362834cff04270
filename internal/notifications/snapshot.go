package notifications

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Recipient is the resolved addressee of a notification.
type Recipient struct {
	OwnerID uuid.UUID `json:"owner_id"`
	Name    string    `json:"name,omitempty"`
	Email   string    `json:"email"`
}

type LineItemSnapshot struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// InvoiceSnapshot is the invoice as it looked when the notification was
// triggered. Amounts are fixed two-decimal strings.
type InvoiceSnapshot struct {
	InvoiceNumber string              `json:"invoice_number"`
	Status        enums.InvoiceStatus `json:"status"`
	Subtotal      string              `json:"subtotal"`
	Tax           string              `json:"tax"`
	Total         string              `json:"total"`
	DueDate       time.Time           `json:"due_date"`
	LineItems     []LineItemSnapshot  `json:"line_items"`
}

type PaymentSnapshot struct {
	PaymentNumber  string              `json:"payment_number"`
	Method         enums.PaymentMethod `json:"method"`
	Status         enums.PaymentStatus `json:"status"`
	Amount         string              `json:"amount"`
	Discount       string              `json:"discount"`
	RefundedAmount string              `json:"refunded_amount"`
	Currency       string              `json:"currency"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

type RefundSnapshot struct {
	RefundRequestID uuid.UUID          `json:"refund_request_id"`
	Status          enums.RefundStatus `json:"status"`
	Amount          string             `json:"amount"`
	RefundedAmount  string             `json:"refunded_amount"`
	Reason          string             `json:"reason"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	Payment         PaymentSnapshot    `json:"payment"`
	InvoiceNumber   string             `json:"invoice_number"`
}

func SnapshotInvoice(invoice *models.Invoice) InvoiceSnapshot {
	return InvoiceSnapshot{
		InvoiceNumber: invoice.InvoiceNumber,
		Status:        invoice.Status,
		Subtotal:      invoice.Subtotal.StringFixed(2),
		Tax:           invoice.Tax.StringFixed(2),
		Total:         invoice.Total.StringFixed(2),
		DueDate:       invoice.DueDate,
		LineItems: lo.Map(invoice.LineItems, func(item models.InvoiceLineItem, _ int) LineItemSnapshot {
			return LineItemSnapshot{
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice.StringFixed(2),
				LineTotal:   item.LineTotal.StringFixed(2),
			}
		}),
	}
}

func SnapshotPayment(payment *models.Payment) PaymentSnapshot {
	return PaymentSnapshot{
		PaymentNumber:  payment.PaymentNumber,
		Method:         payment.Method,
		Status:         payment.Status,
		Amount:         payment.Amount.StringFixed(2),
		Discount:       payment.Discount.StringFixed(2),
		RefundedAmount: payment.RefundedAmount.StringFixed(2),
		Currency:       payment.Currency,
		CompletedAt:    payment.CompletedAt,
	}
}

func SnapshotRefund(request *models.RefundRequest, payment *models.Payment, invoiceNumber string) RefundSnapshot {
	snap := RefundSnapshot{
		RefundRequestID: request.ID,
		Status:          request.Status,
		Amount:          request.Amount.StringFixed(2),
		RefundedAmount:  request.RefundedAmount.StringFixed(2),
		Reason:          request.Reason,
		Payment:         SnapshotPayment(payment),
		InvoiceNumber:   invoiceNumber,
	}
	if request.RejectionReason != nil {
		snap.RejectionReason = *request.RejectionReason
	}
	return snap
}
