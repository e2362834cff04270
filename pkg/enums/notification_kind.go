package enums

import "fmt"

// NotificationKind names the customer notifications the finance core sends.
type NotificationKind string

const (
	NotificationKindReceipt        NotificationKind = "receipt"
	NotificationKindRefundApproved NotificationKind = "refund_approved"
	NotificationKindRefundRejected NotificationKind = "refund_rejected"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindReceipt,
	NotificationKindRefundApproved,
	NotificationKindRefundRejected,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationKind.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
