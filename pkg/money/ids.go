package money

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	InvoicePrefix = "INV"
	PaymentPrefix = "PAY"
)

// NewBusinessID returns a sortable, human readable identifier such as
// INV-01J9Z3W6B3Q2M8N4P5R6S7T8V9.
func NewBusinessID(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}

// ShortCode returns a short uppercase suffix suitable for coupon codes.
func ShortCode() string {
	id := ulid.Make().String()
	return strings.ToUpper(id[len(id)-6:])
}
