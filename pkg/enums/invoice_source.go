package enums

import "fmt"

// InvoiceSource names the business object an invoice was billed from.
type InvoiceSource string

const (
	InvoiceSourceAppointment    InvoiceSource = "appointment"
	InvoiceSourceCart           InvoiceSource = "cart"
	InvoiceSourceDaycareBooking InvoiceSource = "daycare_booking"
)

var validInvoiceSources = []InvoiceSource{
	InvoiceSourceAppointment,
	InvoiceSourceCart,
	InvoiceSourceDaycareBooking,
}

func (s InvoiceSource) String() string {
	return string(s)
}

func (s InvoiceSource) IsValid() bool {
	for _, candidate := range validInvoiceSources {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseInvoiceSource(value string) (InvoiceSource, error) {
	for _, candidate := range validInvoiceSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice source %q", value)
}
