package auth

import "context"

type contextKey struct{ name string }

var (
	principalKey = contextKey{"principal"}
	tokenKey     = contextKey{"refreshed_token"}
)

// WithPrincipal returns a context carrying p. Transport layers set it after validation;
// handlers read it with PrincipalFromContext.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal and true if set; otherwise the zero value and false.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.UserID != ""
}

// WithRefreshedToken stores the re-signed token produced by validation.
func WithRefreshedToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// RefreshedTokenFromContext returns the re-signed token, if any.
func RefreshedTokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey).(string)
	return v, ok && v != ""
}
