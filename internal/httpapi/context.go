package httpapi

import (
	"context"

	"github.com/nexusgw/gateway/pkg/models"
)

type principalKey struct{}
type requestIDKey struct{}

// WithPrincipal attaches the resolved banking principal to the context.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the principal attached by the auth
// middleware, if any.
func PrincipalFromContext(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*models.Principal)
	return p, ok
}

// WithRequestID attaches the per-request correlation id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext retrieves the per-request correlation id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}
