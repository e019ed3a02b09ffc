// Package rbac gates operations by the role of an already authenticated principal.
package rbac

import (
	"context"

	"serreconnect/backend/internal/auth"
	identitydomain "serreconnect/backend/internal/identity/domain"
)

// RequireRole returns nil if p may act with role, or a Forbidden error. Admin satisfies every
// role; any other role satisfies only itself. Unknown or empty roles are denied.
// It performs no I/O and must only be called after the principal has been authenticated.
func RequireRole(p auth.Principal, role string) error {
	if p.UserID == "" {
		return auth.E("rbac.require_role", auth.KindInvalidToken, nil)
	}
	if !identitydomain.ValidRole(p.Role) || !identitydomain.ValidRole(role) {
		return auth.E("rbac.require_role", auth.KindForbidden, nil)
	}
	if p.Role == identitydomain.RoleAdmin || p.Role == role {
		return nil
	}
	return auth.E("rbac.require_role", auth.KindForbidden, nil)
}

// RequireRoleFromContext reads the principal the transport stored in ctx and applies RequireRole.
// A context without a principal is unauthenticated.
func RequireRoleFromContext(ctx context.Context, role string) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, auth.E("rbac.require_role", auth.KindInvalidToken, nil)
	}
	if err := RequireRole(p, role); err != nil {
		return auth.Principal{}, err
	}
	return p, nil
}
