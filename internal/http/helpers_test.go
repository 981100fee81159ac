package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/edumanage/edugate/internal/adapters/memory"
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/mocks"
	mockauth "github.com/edumanage/edugate/internal/mocks/auth"
	"github.com/edumanage/edugate/internal/service"
	"github.com/edumanage/edugate/internal/session"
)

const testClient = "5b0c7f1e-8d1a-4c55-9f0e-2a6b3c4d5e6f"

// stubRoles is a RoleSource returning a fixed answer.
type stubRoles struct {
	mu    sync.Mutex
	role  domainauth.Role
	err   error
	calls int
}

func (s *stubRoles) ResolveRole(context.Context, string, string) (domainauth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.role, s.err
}

func (s *stubRoles) set(role domainauth.Role, err error) {
	s.mu.Lock()
	s.role, s.err = role, err
	s.mu.Unlock()
}

func (s *stubRoles) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	provider *mockauth.FakeIdentityProvider
	tokens   *memory.TokenStore
	minter   *mocks.MockTokenMinter
	manager  *session.Manager
	roles    *stubRoles
	guard    *service.Guard
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		provider: mockauth.NewFakeIdentityProvider(),
		tokens:   memory.NewTokenStore(),
		minter:   mocks.NewMockTokenMinter(ctrl),
		roles:    &stubRoles{},
	}
	m, err := session.NewManager(session.ManagerOptions{
		Provider: h.provider,
		Tokens:   h.tokens,
		Minter:   h.minter,
	})
	require.NoError(t, err)
	t.Cleanup(m.Dispose)
	h.manager = m

	g, err := service.NewGuard(service.GuardOptions{Roles: h.roles})
	require.NoError(t, err)
	h.guard = g
	return h
}

// mintAny lets passive and explicit exchanges succeed with token.
func (h *harness) mintAny(token string) {
	h.minter.EXPECT().MintToken(gomock.Any(), gomock.Any()).Return(token, nil).AnyTimes()
}

// store returns the initialised store of the test client.
func (h *harness) store(t *testing.T) *session.Store {
	t.Helper()
	s, err := h.manager.Get(context.Background(), testClient)
	require.NoError(t, err)
	return s
}

// signedIn emits identity as the client's first provider callback.
func (h *harness) signedIn(t *testing.T, email string) *session.Store {
	t.Helper()
	s := h.store(t)
	id := mockauth.IdentityFor(email)
	h.provider.Emit(testClient, &id)
	return s
}

func (h *harness) anonymous(t *testing.T) *session.Store {
	t.Helper()
	s := h.store(t)
	h.provider.Emit(testClient, nil)
	return s
}

func withClientCookie(r *http.Request) *http.Request {
	r.AddCookie(&http.Cookie{Name: ClientCookieName, Value: testClient})
	return r
}

func browserGet(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	return r
}

func apiGet(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Accept", "application/json")
	return r
}

func testLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
