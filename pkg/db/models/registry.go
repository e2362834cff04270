package models

// All lists every table owned by the finance core, in dependency order.
// Used for AutoMigrate in tests and local sqlite runs.
func All() []any {
	return []any{
		&Owner{},
		&Invoice{},
		&InvoiceLineItem{},
		&Coupon{},
		&Payment{},
		&RefundRequest{},
		&LoyaltyAccount{},
		&FinanceEvent{},
	}
}
