package httpx

import (
	"context"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/session"
)

// Context keys are unexported types to avoid collisions across packages.
type (
	storeKey  struct{}
	accessKey struct{}
)

// WithStore returns a child context carrying the client's session store.
func WithStore(ctx context.Context, s *session.Store) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, storeKey{}, s)
}

// StoreFromContext returns the session store attached by ClientSession.
func StoreFromContext(ctx context.Context) (*session.Store, bool) {
	s, ok := ctx.Value(storeKey{}).(*session.Store)
	return s, ok && s != nil
}

// Access is what the gate admitted a request with.
type Access struct {
	Identity domainauth.Identity
	Role     domainauth.Role // empty on routes without a required role
}

func withAccess(ctx context.Context, a Access) context.Context {
	return context.WithValue(ctx, accessKey{}, a)
}

// AccessFromContext returns the access granted by Gate.
func AccessFromContext(ctx context.Context) (Access, bool) {
	a, ok := ctx.Value(accessKey{}).(Access)
	return a, ok
}
