package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/internal/coupons"
	"github.com/vetcare/clinic-finance/internal/notifications"
	"github.com/vetcare/clinic-finance/internal/payments"
	"github.com/vetcare/clinic-finance/internal/refunds"
	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Money renders amounts with two decimals so clients never see binary floats.
type Money string

func NewMoney(d decimal.Decimal) Money {
	return Money(d.StringFixed(2))
}

type Invoice struct {
	ID            uuid.UUID            `json:"id"`
	InvoiceNumber string               `json:"invoice_number"`
	OwnerID       uuid.UUID            `json:"owner_id"`
	Status        enums.InvoiceStatus  `json:"status"`
	Subtotal      Money                `json:"subtotal"`
	Tax           Money                `json:"tax"`
	Total         Money                `json:"total"`
	DueDate       time.Time            `json:"due_date"`
	SourceType    *enums.InvoiceSource `json:"source_type,omitempty"`
	SourceID      *uuid.UUID           `json:"source_id,omitempty"`
	LineItems     []LineItem           `json:"line_items"`
	Payments      []Payment            `json:"payments,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type LineItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	LineTotal   Money  `json:"line_total"`
}

type Payment struct {
	ID              uuid.UUID           `json:"id"`
	PaymentNumber   string              `json:"payment_number"`
	InvoiceID       uuid.UUID           `json:"invoice_id"`
	PayerID         uuid.UUID           `json:"payer_id"`
	Method          enums.PaymentMethod `json:"method"`
	Status          enums.PaymentStatus `json:"status"`
	Amount          Money               `json:"amount"`
	Discount        Money               `json:"discount"`
	RefundedAmount  Money               `json:"refunded_amount"`
	Currency        string              `json:"currency"`
	CouponID        *uuid.UUID          `json:"coupon_id,omitempty"`
	GatewayIntentID *string             `json:"gateway_intent_id,omitempty"`
	FailureReason   *string             `json:"failure_reason,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

type RefundRequest struct {
	ID              uuid.UUID          `json:"id"`
	PaymentID       uuid.UUID          `json:"payment_id"`
	RequesterID     uuid.UUID          `json:"requester_id"`
	Status          enums.RefundStatus `json:"status"`
	Amount          Money              `json:"amount"`
	RefundedAmount  Money              `json:"refunded_amount"`
	Reason          string             `json:"reason"`
	RejectionReason *string            `json:"rejection_reason,omitempty"`
	GatewayRefundID *string            `json:"gateway_refund_id,omitempty"`
	DecidedAt       *time.Time         `json:"decided_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

type Coupon struct {
	ID               uuid.UUID                 `json:"id"`
	Code             string                    `json:"code"`
	Scope            enums.CouponScope         `json:"scope"`
	DiscountType     enums.DiscountType        `json:"discount_type"`
	DiscountValue    Money                     `json:"discount_value"`
	MinInvoiceAmount Money                     `json:"min_invoice_amount"`
	ExpiresAt        *time.Time                `json:"expires_at,omitempty"`
	MinTier          *enums.LoyaltyTier        `json:"min_tier,omitempty"`
	UsageLimit       *int                      `json:"usage_limit,omitempty"`
	UsedCount        *int                      `json:"used_count,omitempty"`
	OwnerID          *uuid.UUID                `json:"owner_id,omitempty"`
	ParentID         *uuid.UUID                `json:"parent_id,omitempty"`
	Status           *enums.IssuedCouponStatus `json:"status,omitempty"`
	UsedAt           *time.Time                `json:"used_at,omitempty"`
}

type Quote struct {
	InvoiceID uuid.UUID  `json:"invoice_id"`
	Total     Money      `json:"total"`
	Discount  Money      `json:"discount"`
	Amount    Money      `json:"amount"`
	CouponID  *uuid.UUID `json:"coupon_id,omitempty"`
}

type Checkout struct {
	Payment      Payment `json:"payment"`
	ClientSecret string  `json:"client_secret"`
	Reused       bool    `json:"reused"`
}

type Confirmation struct {
	Payment          Payment               `json:"payment"`
	InvoiceStatus    enums.InvoiceStatus   `json:"invoice_status"`
	AlreadyConfirmed bool                  `json:"already_confirmed"`
	Receipt          notifications.Outcome `json:"receipt"`
	PointsEarned     int64                 `json:"points_earned"`
	BonusCouponID    *uuid.UUID            `json:"bonus_coupon_id,omitempty"`
}

type Decision struct {
	RefundRequest  RefundRequest         `json:"refund_request"`
	Payment        *Payment              `json:"payment,omitempty"`
	InvoiceStatus  enums.InvoiceStatus   `json:"invoice_status,omitempty"`
	AlreadyDecided bool                  `json:"already_decided"`
	Notification   notifications.Outcome `json:"notification"`
}

func NewInvoice(inv *models.Invoice, pays []models.Payment) Invoice {
	return Invoice{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		OwnerID:       inv.OwnerID,
		Status:        inv.Status,
		Subtotal:      NewMoney(inv.Subtotal),
		Tax:           NewMoney(inv.Tax),
		Total:         NewMoney(inv.Total),
		DueDate:       inv.DueDate,
		SourceType:    inv.SourceType,
		SourceID:      inv.SourceID,
		LineItems: lo.Map(inv.LineItems, func(item models.InvoiceLineItem, _ int) LineItem {
			return LineItem{
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitPrice:   NewMoney(item.UnitPrice),
				LineTotal:   NewMoney(item.LineTotal),
			}
		}),
		Payments:  NewPayments(pays),
		CreatedAt: inv.CreatedAt,
		UpdatedAt: inv.UpdatedAt,
	}
}

func NewPayment(p *models.Payment) Payment {
	return Payment{
		ID:              p.ID,
		PaymentNumber:   p.PaymentNumber,
		InvoiceID:       p.InvoiceID,
		PayerID:         p.PayerID,
		Method:          p.Method,
		Status:          p.Status,
		Amount:          NewMoney(p.Amount),
		Discount:        NewMoney(p.Discount),
		RefundedAmount:  NewMoney(p.RefundedAmount),
		Currency:        p.Currency,
		CouponID:        p.CouponID,
		GatewayIntentID: p.GatewayIntentID,
		FailureReason:   p.FailureReason,
		CompletedAt:     p.CompletedAt,
		CreatedAt:       p.CreatedAt,
	}
}

func NewPayments(list []models.Payment) []Payment {
	if len(list) == 0 {
		return nil
	}
	return lo.Map(list, func(p models.Payment, _ int) Payment {
		return NewPayment(&p)
	})
}

func NewRefundRequest(r *models.RefundRequest) RefundRequest {
	return RefundRequest{
		ID:              r.ID,
		PaymentID:       r.PaymentID,
		RequesterID:     r.RequesterID,
		Status:          r.Status,
		Amount:          NewMoney(r.Amount),
		RefundedAmount:  NewMoney(r.RefundedAmount),
		Reason:          r.Reason,
		RejectionReason: r.RejectionReason,
		GatewayRefundID: r.GatewayRefundID,
		DecidedAt:       r.DecidedAt,
		CreatedAt:       r.CreatedAt,
	}
}

func NewRefundRequests(list []models.RefundRequest) []RefundRequest {
	return lo.Map(list, func(r models.RefundRequest, _ int) RefundRequest {
		return NewRefundRequest(&r)
	})
}

func NewCoupon(c *coupons.Coupon) Coupon {
	out := Coupon{
		ID:               c.ID,
		Code:             c.Code,
		Scope:            c.Scope(),
		DiscountType:     c.DiscountType,
		DiscountValue:    NewMoney(c.DiscountValue),
		MinInvoiceAmount: NewMoney(c.MinInvoiceAmount),
		ExpiresAt:        c.ExpiresAt,
		MinTier:          c.MinTier,
	}
	switch v := c.Variant.(type) {
	case coupons.Template:
		out.UsageLimit = lo.ToPtr(v.UsageLimit)
		out.UsedCount = lo.ToPtr(v.UsedCount)
	case coupons.Issued:
		out.OwnerID = lo.ToPtr(v.OwnerID)
		out.ParentID = v.ParentID
		out.Status = lo.ToPtr(v.Status)
		out.UsedAt = v.UsedAt
	}
	return out
}

func NewQuote(q *payments.Quote) Quote {
	return Quote{
		InvoiceID: q.InvoiceID,
		Total:     NewMoney(q.Total),
		Discount:  NewMoney(q.Discount),
		Amount:    NewMoney(q.Amount),
		CouponID:  q.CouponID,
	}
}

func NewCheckout(c *payments.Checkout) Checkout {
	return Checkout{
		Payment:      NewPayment(c.Payment),
		ClientSecret: c.ClientSecret,
		Reused:       c.Reused,
	}
}

func NewConfirmation(c *payments.Confirmation) Confirmation {
	return Confirmation{
		Payment:          NewPayment(c.Payment),
		InvoiceStatus:    c.InvoiceStatus,
		AlreadyConfirmed: c.AlreadyConfirmed,
		Receipt:          c.Receipt,
		PointsEarned:     c.PointsEarned,
		BonusCouponID:    c.BonusCouponID,
	}
}

func NewDecision(d *refunds.Decision) Decision {
	out := Decision{
		RefundRequest:  NewRefundRequest(d.Request),
		InvoiceStatus:  d.InvoiceStatus,
		AlreadyDecided: d.AlreadyDecided,
		Notification:   d.Notification,
	}
	if d.Payment != nil {
		p := NewPayment(d.Payment)
		out.Payment = &p
	}
	return out
}
