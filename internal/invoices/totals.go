package invoices

import (
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vetcare/clinic-finance/pkg/db/models"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/money"
)

// LineItemInput is one requested invoice row.
type LineItemInput struct {
	Description string          `json:"description" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Totals is the computed money breakdown of a set of line items.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// buildLineItems validates inputs and returns rows with line totals set.
func buildLineItems(invoiceID uuid.UUID, inputs []LineItemInput) ([]models.InvoiceLineItem, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	items := make([]models.InvoiceLineItem, 0, len(inputs))
	for i, in := range inputs {
		description := strings.TrimSpace(in.Description)
		field := map[string]any{"index": i}
		switch {
		case description == "":
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item description is required").WithDetails(field)
		case in.Quantity < 1:
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item quantity must be at least 1").WithDetails(field)
		case in.UnitPrice.IsNegative():
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item unit price must not be negative").WithDetails(field)
		}
		unit := money.Round2(in.UnitPrice)
		items = append(items, models.InvoiceLineItem{
			ID:          uuid.New(),
			InvoiceID:   invoiceID,
			Position:    i,
			Description: description,
			Quantity:    in.Quantity,
			UnitPrice:   unit,
			LineTotal:   money.Round2(unit.Mul(decimal.NewFromInt(int64(in.Quantity)))),
		})
	}
	return items, nil
}

// ComputeTotals sums line totals and applies the flat tax rate.
func ComputeTotals(items []models.InvoiceLineItem, taxRate decimal.Decimal) Totals {
	subtotal := money.Sum(lo.Map(items, func(item models.InvoiceLineItem, _ int) decimal.Decimal {
		return item.LineTotal
	})...)
	tax := money.Round2(subtotal.Mul(taxRate))
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}
