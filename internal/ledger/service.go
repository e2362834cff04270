package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	"github.com/vetcare/clinic-finance/pkg/enums"
)

// Service appends money movements to the finance journal. Record runs inside
// the caller's transaction so the journal never disagrees with the rows it
// describes.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.FinanceEvent, error)
	ListForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.FinanceEvent, error)
}

type service struct {
	repo Repository
}

// RecordInput captures the immutable data a finance event requires.
type RecordInput struct {
	InvoiceID       uuid.UUID
	PaymentID       *uuid.UUID
	RefundRequestID *uuid.UUID
	CouponID        *uuid.UUID
	Type            enums.FinanceEventType
	Amount          decimal.Decimal
	Metadata        map[string]any
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.FinanceEvent, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, fmt.Errorf("invoice id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid finance event type %q", input.Type)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("finance event amount must not be negative")
	}

	var metadata json.RawMessage
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode finance event metadata: %w", err)
		}
		metadata = raw
	}

	event := &models.FinanceEvent{
		ID:              uuid.New(),
		InvoiceID:       input.InvoiceID,
		PaymentID:       input.PaymentID,
		RefundRequestID: input.RefundRequestID,
		CouponID:        input.CouponID,
		Type:            input.Type,
		Amount:          input.Amount,
		Metadata:        metadata,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, fmt.Errorf("record %s event: %w", input.Type, err)
	}
	return event, nil
}

func (s *service) ListForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.FinanceEvent, error) {
	if invoiceID == uuid.Nil {
		return nil, fmt.Errorf("invoice id is required")
	}
	return s.repo.ListByInvoiceID(ctx, invoiceID)
}
