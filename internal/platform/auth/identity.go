package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Staff roles known to the clinic. The engine trusts the role string supplied
// by the authentication layer and performs gating only.
const (
	RoleAdministrator = "administrator"
	RoleDoctor        = "doctor"
	RoleNurse         = "nurse"
	RoleClerk         = "clerk"
	RoleSocialWorker  = "social_worker"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
)

// Identity is the authenticated caller, threaded explicitly into every
// service operation. Never read from ambient state inside services.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// Can reports whether the identity satisfies the required role.
// Administrators satisfy every role requirement.
func (id Identity) Can(required string) bool {
	return id.Role == required || id.Role == RoleAdministrator
}

// IdentityFromContext builds the caller identity from values placed in the
// request context by the auth middleware. The zero Identity is returned for
// unauthenticated contexts.
func IdentityFromContext(ctx context.Context) Identity {
	var id Identity
	if s, ok := ctx.Value(UserIDKey).(string); ok {
		if parsed, err := uuid.Parse(s); err == nil {
			id.UserID = parsed
		}
	}
	if r, ok := ctx.Value(UserRoleKey).(string); ok {
		id.Role = r
	}
	return id
}

// NormalizeRole canonicalizes role strings from tokens: lowercased,
// spaces collapsed to underscores, and the legacy "social_work" spelling
// mapped to "social_worker".
func NormalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	r = strings.ReplaceAll(r, " ", "_")
	if r == "social_work" {
		r = RoleSocialWorker
	}
	return r
}
