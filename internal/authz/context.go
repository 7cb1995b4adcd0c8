// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package authz

import (
	"context"

	"github.com/2389/warden/internal/scope"
)

// CredentialType names the credential class that authenticated a request.
type CredentialType string

const (
	CredentialDevice CredentialType = "device"
	CredentialAPIKey CredentialType = "api_key"
	CredentialAdmin  CredentialType = "admin"
)

// AuthContext holds the authenticated identity extracted from a request.
// Populated by the middleware and retrieved from context in handlers.
type AuthContext struct {
	Type CredentialType
	// ID is the device id or API key id; empty for admin.
	ID string
	// Scope is the capability bundle; zero for admin, which is a
	// distinct credential class and never carries a scope.
	Scope scope.Scope
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil
// if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking
// if not present. For handlers that sit behind the middleware.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("authz: AuthContext not found in context")
	}
	return auth
}
