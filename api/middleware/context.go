package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/vetcare/clinic-finance/pkg/enums"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// IsStaff reports whether the caller may act on any owner's records.
func (a Actor) IsStaff() bool {
	return a.Role == enums.ActorRoleStaff
}

// OwnerScope is nil for staff and the caller's id for owners. Services
// treat records outside the scope as not found.
func (a Actor) OwnerScope() *uuid.UUID {
	if a.IsStaff() {
		return nil
	}
	id := a.UserID
	return &id
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(uuid.UUID); ok {
		return v.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// ActorFromContext returns the caller set by Auth.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return Actor{}, false
	}
	return Actor{UserID: id, Role: RoleFromContext(ctx)}, true
}

// WithActor injects the caller into the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID)
	return context.WithValue(ctx, ctxRole, actor.Role)
}

// RequireActor returns the caller or an unauthorized error.
func RequireActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}
