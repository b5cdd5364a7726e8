package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/trailversedev/trailverse/internal/store"
)

// Identity is the immutable authenticated context the gateway produces
// for downstream handlers. It is built from verified claims, never from
// raw request input.
type Identity struct {
	UserID       uuid.UUID
	Email        string
	Role         store.Role
	SessionID    string
	TokenVersion int64
	Verified     bool
	// CSRFToken is populated when the session record is available.
	CSRFToken string
}

// InRoles reports whether the identity's role is in the allow-set.
func (id *Identity) InRoles(allowed ...store.Role) bool {
	for _, r := range allowed {
		if id.Role == r {
			return true
		}
	}
	return false
}

type identityContextKey struct{}
type clientIPContextKey struct{}
type userAgentContextKey struct{}

// ContextWithIdentity attaches a verified identity to ctx.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by the gateway, or
// nil for unauthenticated requests.
func IdentityFromContext(ctx context.Context) *Identity {
	if ctx == nil {
		return nil
	}
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

// WithClientIP attaches the caller's IP address to ctx. The engine uses
// it for session records, lockout auditing, and rate-limit scoping.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for session
// metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}
