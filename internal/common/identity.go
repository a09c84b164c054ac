package common

import (
	"context"
	"time"
)

// Identity is the authenticated caller attached to a request context by the
// auth gate. Handlers receive it explicitly; there is no ambient lookup.
type Identity struct {
	UserID        string
	Role          string
	TokenID       string
	TokenIssuedAt time.Time
}

type identityKey struct{}

// WithIdentity returns a context carrying the request identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the request identity, or nil for anonymous requests.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
