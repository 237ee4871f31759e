package httpapi

import (
	"context"

	"ssohub.org/internal/sso"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	authKey      ctxKey = "request_auth"
)

// RequestAuth is the per-request authentication state. One value is
// attached at the top of the middleware chain and mutated by the gates;
// Temporary marks an api-key identity that must not outlive the request.
type RequestAuth struct {
	Identity  *sso.Identity
	Token     string
	Temporary bool
}

func withRequestAuth(ctx context.Context, ra *RequestAuth) context.Context {
	return context.WithValue(ctx, authKey, ra)
}

// AuthFromContext returns the request's authentication state. The second
// result is false outside the middleware chain.
func AuthFromContext(ctx context.Context) (*RequestAuth, bool) {
	ra, ok := ctx.Value(authKey).(*RequestAuth)
	return ra, ok
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*sso.Identity, bool) {
	ra, ok := AuthFromContext(ctx)
	if !ok || ra.Identity == nil {
		return nil, false
	}
	return ra.Identity, true
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request identifier set by the
// RequestID middleware.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
