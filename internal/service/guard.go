package service

import (
	"context"
	"errors"
	"log/slog"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/domain/guard"
	"github.com/edumanage/edugate/internal/observability/metrics"
	"github.com/edumanage/edugate/internal/observability/statsd"
)

// Requirement describes what a protected view needs.
type Requirement struct {
	Path string
	Role domainauth.Role // empty: any signed-in user
}

// RoleSource resolves the authoritative role of an identity. *RoleResolver implements it.
type RoleSource interface {
	ResolveRole(ctx context.Context, identityID, bearer string) (domainauth.Role, error)
}

// GuardOptions groups dependencies for Guard.
type GuardOptions struct {
	Roles   RoleSource   // Required
	Logger  *slog.Logger // Optional
	Metrics statsd.Sink  // Optional
}

// Guard evaluates a protected route for a session snapshot.
type Guard struct {
	roles   RoleSource
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewGuard constructs a Guard.
func NewGuard(opts GuardOptions) (*Guard, error) {
	if opts.Roles == nil {
		return nil, errors.New("role resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{roles: opts.Roles, logger: logger, metrics: opts.Metrics}, nil
}

// Evaluate decides the outcome for state and req. The role is resolved only
// when the decision depends on it. If ctx ends while the lookup is in flight
// the result is discarded and ctx.Err() returned.
func (g *Guard) Evaluate(ctx context.Context, state domainauth.State, req Requirement) (guard.Outcome, error) {
	in := guard.Input{State: state, Path: req.Path, Required: req.Role}

	if guard.NeedsRoleFetch(in) {
		role, err := g.roles.ResolveRole(ctx, state.Identity.ID, state.Token)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return guard.Outcome{}, ctxErr
		}
		in.Fetch = guard.RoleFetch{Done: true, Role: role, Err: err}
	}

	out := guard.Decide(in)
	metrics.EmitOutcome(g.metrics, out.Kind.String())
	if out.Kind == guard.KindForbidden {
		g.logger.InfoContext(ctx, "access forbidden",
			"path", req.Path, "role", out.Role, "required", out.Required)
	}
	return out, nil
}
