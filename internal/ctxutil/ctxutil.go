// Package ctxutil provides shared context key accessors.
//
// server imports mcp to mount it, and mcp needs the claims that server's auth
// middleware stores, so both packages import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/ctrlsys/ctrlsys/internal/auth"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// Operator returns the authenticated operator, or "" when there is none.
func Operator(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Operator
	}
	return ""
}
