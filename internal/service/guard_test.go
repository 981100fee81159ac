package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/domain/guard"
)

type stubRoles struct {
	role  domainauth.Role
	err   error
	calls int
	hook  func(ctx context.Context)
}

func (s *stubRoles) ResolveRole(ctx context.Context, _, _ string) (domainauth.Role, error) {
	s.calls++
	if s.hook != nil {
		s.hook(ctx)
	}
	if s.err != nil {
		return "", &domainauth.RoleFetchError{IdentityID: "u-1", Err: s.err}
	}
	return s.role, nil
}

var (
	loadingState   = domainauth.State{Phase: domainauth.PhaseUninitialized, Token: "restored"}
	anonymousState = domainauth.State{Phase: domainauth.PhaseAnonymous}
	signedIn       = domainauth.State{
		Phase:    domainauth.PhaseAuthenticated,
		Identity: &domainauth.Identity{ID: "u-1", Email: "s@example.com"},
		Token:    "tok",
	}
)

func newGuard(t *testing.T, roles *stubRoles) (*Guard, *metricsRecorder) {
	t.Helper()
	metrics := newMetricsRecorder()
	g, err := NewGuard(GuardOptions{Roles: roles, Metrics: metrics})
	require.NoError(t, err)
	return g, metrics
}

func TestNewGuard_RequiresResolver(t *testing.T) {
	_, err := NewGuard(GuardOptions{})
	require.Error(t, err)
}

func TestGuard_LoadingNeverResolves(t *testing.T) {
	roles := &stubRoles{role: domainauth.RoleAdmin}
	g, _ := newGuard(t, roles)

	out, err := g.Evaluate(context.Background(), loadingState, Requirement{Path: "/admin", Role: domainauth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, guard.KindLoading, out.Kind)
	assert.Zero(t, roles.calls)
}

func TestGuard_AnonymousStudentDashboardRedirects(t *testing.T) {
	roles := &stubRoles{}
	g, _ := newGuard(t, roles)

	out, err := g.Evaluate(context.Background(), anonymousState,
		Requirement{Path: "/student-dashboard", Role: domainauth.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, guard.KindRedirect, out.Kind)
	assert.Equal(t, "/login", out.RedirectTo)
	assert.Equal(t, "/student-dashboard", out.From)
	assert.Zero(t, roles.calls)
}

func TestGuard_MissingEmailRedirects(t *testing.T) {
	roles := &stubRoles{role: domainauth.RoleAdmin}
	g, _ := newGuard(t, roles)

	st := domainauth.State{Phase: domainauth.PhaseAuthenticated, Identity: &domainauth.Identity{ID: "u-1"}}
	out, err := g.Evaluate(context.Background(), st, Requirement{Path: "/dashboard"})
	require.NoError(t, err)
	assert.Equal(t, guard.KindRedirect, out.Kind)
	assert.Zero(t, roles.calls)
}

func TestGuard_OpenProtectedSkipsRoleFetch(t *testing.T) {
	roles := &stubRoles{}
	g, _ := newGuard(t, roles)

	out, err := g.Evaluate(context.Background(), signedIn, Requirement{Path: "/dashboard"})
	require.NoError(t, err)
	assert.Equal(t, guard.KindAllow, out.Kind)
	assert.Zero(t, roles.calls)
}

func TestGuard_StudentOnAdminRouteIsForbidden(t *testing.T) {
	roles := &stubRoles{role: domainauth.RoleStudent}
	g, metrics := newGuard(t, roles)

	out, err := g.Evaluate(context.Background(), signedIn, Requirement{Path: "/admin-dashboard", Role: domainauth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, guard.KindForbidden, out.Kind)
	assert.Empty(t, out.RedirectTo)
	assert.Equal(t, 1, roles.calls)
	assert.Equal(t, int64(1), metrics.counts["gate.outcome"])
	assert.Equal(t, map[string]string{"kind": "forbidden"}, metrics.tags[0])
}

func TestGuard_AdminOnAdminRouteIsAllowed(t *testing.T) {
	roles := &stubRoles{role: domainauth.RoleAdmin}
	g, _ := newGuard(t, roles)

	out, err := g.Evaluate(context.Background(), signedIn, Requirement{Path: "/admin-dashboard", Role: domainauth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, guard.KindAllow, out.Kind)
	assert.Equal(t, domainauth.RoleAdmin, out.Role)
}

func TestGuard_ResolverFailureIsRoleError(t *testing.T) {
	for _, required := range domainauth.Roles() {
		roles := &stubRoles{err: errors.New("connection refused")}
		g, _ := newGuard(t, roles)

		out, err := g.Evaluate(context.Background(), signedIn, Requirement{Path: "/x", Role: required})
		require.NoError(t, err)
		assert.Equal(t, guard.KindRoleError, out.Kind, "required %s", required)
		assert.True(t, domainauth.IsRoleFetchError(out.Err))
	}
}

func TestGuard_EachEvaluationResolvesAgain(t *testing.T) {
	roles := &stubRoles{role: domainauth.RoleTeacher}
	g, _ := newGuard(t, roles)

	for range 2 {
		_, err := g.Evaluate(context.Background(), signedIn, Requirement{Path: "/t", Role: domainauth.RoleTeacher})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, roles.calls)
}

func TestGuard_CancelledContextDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	roles := &stubRoles{role: domainauth.RoleAdmin, hook: func(context.Context) { cancel() }}
	g, metrics := newGuard(t, roles)

	out, err := g.Evaluate(ctx, signedIn, Requirement{Path: "/admin", Role: domainauth.RoleAdmin})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, guard.Outcome{}, out)
	assert.Zero(t, metrics.counts["gate.outcome"])
}
