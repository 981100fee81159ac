package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/observability/metrics"
	"github.com/edumanage/edugate/internal/observability/statsd"
	"github.com/edumanage/edugate/internal/ports"
)

var errMissingBearer = errors.New("no bearer token for backend call")

// RoleResolverOptions groups dependencies for RoleResolver.
type RoleResolverOptions struct {
	Directory ports.UserDirectory // Required
	Logger    *slog.Logger        // Optional
	Metrics   statsd.Sink         // Optional
}

// RoleResolver fetches the authoritative role of an identity from the backend.
// Results are never cached; each guard evaluation resolves again.
type RoleResolver struct {
	directory ports.UserDirectory
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewRoleResolver constructs a RoleResolver.
func NewRoleResolver(opts RoleResolverOptions) (*RoleResolver, error) {
	if opts.Directory == nil {
		return nil, errors.New("user directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{
		directory: opts.Directory,
		logger:    logger.With("component", "role_resolver"),
		metrics:   opts.Metrics,
	}, nil
}

// ResolveRole looks up identityID using bearer. Every failure, including an
// unknown role value, is returned as *domainauth.RoleFetchError.
func (r *RoleResolver) ResolveRole(ctx context.Context, identityID, bearer string) (domainauth.Role, error) {
	start := time.Now()
	role, err := r.resolve(ctx, identityID, bearer)
	metrics.EmitRoleFetch(r.metrics, metrics.RoleFetch{Duration: time.Since(start), Err: err})
	if err != nil {
		r.logger.WarnContext(ctx, "role fetch failed", "identity_id", identityID, "error", err)
		return "", &domainauth.RoleFetchError{IdentityID: identityID, Err: err}
	}
	return role, nil
}

func (r *RoleResolver) resolve(ctx context.Context, identityID, bearer string) (domainauth.Role, error) {
	if identityID == "" {
		return "", errors.New("identity ID is required")
	}
	if bearer == "" {
		return "", errMissingBearer
	}
	rec, err := r.directory.LookupUser(ctx, bearer, identityID)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	role, err := domainauth.ParseRole(rec.Role)
	if err != nil {
		return "", err
	}
	return role, nil
}
