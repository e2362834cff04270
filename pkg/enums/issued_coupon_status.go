package enums

import "fmt"

// IssuedCouponStatus is the redemption state of a personal coupon.
type IssuedCouponStatus string

const (
	IssuedCouponStatusAvailable IssuedCouponStatus = "available"
	IssuedCouponStatusUsed      IssuedCouponStatus = "used"
	IssuedCouponStatusExpired   IssuedCouponStatus = "expired"
	IssuedCouponStatusRevoked   IssuedCouponStatus = "revoked"
)

var validIssuedCouponStatuses = []IssuedCouponStatus{
	IssuedCouponStatusAvailable,
	IssuedCouponStatusUsed,
	IssuedCouponStatusExpired,
	IssuedCouponStatusRevoked,
}

// String implements fmt.Stringer.
func (i IssuedCouponStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IssuedCouponStatus.
func (i IssuedCouponStatus) IsValid() bool {
	for _, candidate := range validIssuedCouponStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseIssuedCouponStatus converts raw input into a IssuedCouponStatus.
func ParseIssuedCouponStatus(value string) (IssuedCouponStatus, error) {
	for _, candidate := range validIssuedCouponStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid issued coupon status %q", value)
}
