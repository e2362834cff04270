package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vetcare/clinic-finance/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	JTI    string
}

// AccessTokenClaims is the token the identity service issues. Owners act on
// their own invoices; staff act on any.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// IsStaff reports whether the caller carries the staff role.
func (c AccessTokenClaims) IsStaff() bool {
	return c.Role == enums.ActorRoleStaff
}
