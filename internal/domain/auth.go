package domain

import "context"

// StaffRole is the role attached to an authenticated staff socket connection
// (spec §4.6). The Butler has no granular permission model in scope — the
// staff console enforces its own per-page access — so the gateway only
// needs enough identity to attribute pushes and audit entries.
type StaffRole string

const (
	RoleStaffAdmin StaffRole = "admin"
	RoleStaffAgent StaffRole = "agent"
)

// TokenType distinguishes an access token from a refresh token. The staff
// socket rejects refresh tokens outright (spec §4.6): they are only valid
// against the token-refresh flow, never for opening "/ws".
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Context helpers for the authenticated staff identity attached to a
// connection, mirroring the SessionID pattern in context.go.

const (
	userIDCtxKey ctxKey = "user_id"
	roleCtxKey   ctxKey = "staff_role"
)

// ContextWithStaffUser returns a new context carrying the authenticated
// staff user's id and role.
func ContextWithStaffUser(ctx context.Context, userID string, role StaffRole) context.Context {
	ctx = context.WithValue(ctx, userIDCtxKey, userID)
	return context.WithValue(ctx, roleCtxKey, role)
}

// StaffUserFromContext extracts the staff user id and role. ok is false if
// none was attached (e.g. an unauthenticated guest chat connection).
func StaffUserFromContext(ctx context.Context) (userID string, role StaffRole, ok bool) {
	id, idOK := ctx.Value(userIDCtxKey).(string)
	r, roleOK := ctx.Value(roleCtxKey).(StaffRole)
	return id, r, idOK && roleOK
}
