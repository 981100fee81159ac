package httpx

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	mockauth "github.com/edumanage/edugate/internal/mocks/auth"
	"github.com/edumanage/edugate/internal/service"
)

var testRoutes = []ProtectedRoute{
	{Prefix: "/student-dashboard", Role: domainauth.RoleStudent},
	{Prefix: "/admin-dashboard", Role: domainauth.RoleAdmin},
	{Prefix: "/dashboard"},
}

func newTestRouter(t *testing.T, h *harness, mutate func(*RouterServices)) http.Handler {
	t.Helper()
	svcs := RouterServices{
		Sessions: h.manager,
		Guard:    h.guard,
		Routes:   testRoutes,
	}
	if mutate != nil {
		mutate(&svcs)
	}
	return NewRouter(svcs)
}

func jsonPost(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	return withClientCookie(r)
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func cookieFrom(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRouter_Health(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(t, h, func(s *RouterServices) {
		s.Health = map[string]HealthCheck{
			"redis":    func(context.Context) error { return nil },
			"postgres": func(context.Context) error { return errors.New("dial tcp: refused") },
		}
	})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, healthResponse, rec.Body.String())

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"ok"`)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestRouter_IssuesClientCookie(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(t, h, nil)

	rec := serve(router, apiGet("/auth/status"))

	require.Equal(t, http.StatusOK, rec.Code)
	c := cookieFrom(rec, ClientCookieName)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 1, h.manager.Len())

	body := decodeBody(t, rec)
	assert.Equal(t, "uninitialized", body["state"])
	assert.Equal(t, false, body["token_present"])
}

func TestRouter_SignInThenAdminView(t *testing.T) {
	h := newHarness(t)
	h.minter.EXPECT().MintToken(gomock.Any(), "adm@example.com").Return("tok-adm", nil)
	h.roles.set(domainauth.RoleAdmin, nil)
	router := newTestRouter(t, h, nil)

	rec := serve(router, jsonPost("/auth/signin", `{"email":"adm@example.com","password":"secret1"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, cookieFrom(rec, ClientCookieName), "valid client cookie is reused")

	rec = serve(router, withClientCookie(apiGet("/auth/status")))
	body := decodeBody(t, rec)
	assert.Equal(t, "authenticated", body["state"])
	assert.Equal(t, true, body["token_present"])

	rec = serve(router, withClientCookie(apiGet("/admin-dashboard/users")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	assert.Equal(t, "/admin-dashboard/users", body["view"])
	assert.Equal(t, "admin", body["role"])
}

func TestRouter_AuthErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		code domainauth.AuthErrorCode
		want int
	}{
		{"wrong password", domainauth.CodeWrongPassword, http.StatusUnauthorized},
		{"locked out", domainauth.CodeTooManyRequests, http.StatusTooManyRequests},
		{"invalid email", domainauth.CodeInvalidEmail, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.provider.SignInFunc = func(context.Context, string, domainauth.Credentials) (domainauth.Identity, error) {
				return domainauth.Identity{}, domainauth.NewAuthError(tt.code, nil)
			}
			router := newTestRouter(t, h, nil)

			rec := serve(router, jsonPost("/auth/signin", `{"email":"a@example.com","password":"x"}`))

			assert.Equal(t, tt.want, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, string(tt.code), body["error"])
			assert.Equal(t, domainauth.NewAuthError(tt.code, nil).Message(), body["message"])
		})
	}
}

func TestRouter_SignUpConflictAndCreated(t *testing.T) {
	h := newHarness(t)
	h.mintAny("tok-new")
	router := newTestRouter(t, h, nil)

	rec := serve(router, jsonPost("/auth/signup",
		`{"email":"new@example.com","password":"secret1","display_name":"New Student"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "New Student")

	h.provider.CreateUserFunc = func(context.Context, string, domainauth.Credentials) (domainauth.Identity, error) {
		return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeEmailInUse, nil)
	}
	rec = serve(router, jsonPost("/auth/signup", `{"email":"new@example.com","password":"secret1"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_TokenExchangeFailureIs502(t *testing.T) {
	h := newHarness(t)
	h.minter.EXPECT().MintToken(gomock.Any(), gomock.Any()).Return("", errors.New("backend 500"))
	router := newTestRouter(t, h, nil)

	rec := serve(router, jsonPost("/auth/signin", `{"email":"a@example.com","password":"secret1"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "token_exchange_failed", decodeBody(t, rec)["error"])
}

func TestRouter_InvalidJSON(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(t, h, nil)

	rec := serve(router, jsonPost("/auth/signin", `{"email":`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decodeBody(t, rec)["error"])
}

func TestRouter_SignOutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.mintAny("tok")
	router := newTestRouter(t, h, nil)
	require.Equal(t, http.StatusOK,
		serve(router, jsonPost("/auth/signin", `{"email":"a@example.com","password":"secret1"}`)).Code)

	for range 2 {
		rec := serve(router, jsonPost("/auth/signout", ""))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	tok, err := h.tokens.Load(context.Background(), testClient)
	require.NoError(t, err)
	assert.Empty(t, tok)

	rec := serve(router, withClientCookie(browserGet("/dashboard")))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestRouter_PasswordReset(t *testing.T) {
	h := newHarness(t)
	var requested, confirmed string
	h.provider.RequestPasswordResetFunc = func(_ context.Context, email string) error {
		requested = email
		return nil
	}
	h.provider.ConfirmPasswordResetFunc = func(_ context.Context, token, _ string) error {
		confirmed = token
		if token == "expired" {
			return domainauth.NewAuthError(domainauth.CodeInvalidResetToken, nil)
		}
		return nil
	}
	router := newTestRouter(t, h, nil)

	rec := serve(router, jsonPost("/auth/password-reset", `{"email":"a@example.com"}`))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "a@example.com", requested)

	rec = serve(router, jsonPost("/auth/password-reset/confirm", `{"token":"good","password":"secret2"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "good", confirmed)

	rec = serve(router, jsonPost("/auth/password-reset/confirm", `{"token":"expired","password":"secret2"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_FederatedDisabled(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(t, h, nil)

	rec := serve(router, withClientCookie(apiGet("/auth/federated")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(router, withClientCookie(apiGet("/auth/callback?code=x&state=y")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_FederatedFlow(t *testing.T) {
	h := newHarness(t)
	h.minter.EXPECT().MintToken(gomock.Any(), "fed.user@example.com").Return("tok-fed", nil)
	idp := mockauth.NewMockFederatedProvider()
	router := newTestRouter(t, h, func(s *RouterServices) {
		s.Federated = service.NewFederatedLogin(service.FederatedLoginOptions{Provider: idp})
	})

	rec := serve(router, withClientCookie(apiGet("/auth/federated?redirect_uri=/student-dashboard")))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, idp.AuthURL, rec.Header().Get("Location"))
	state := cookieFrom(rec, oauthStateCookie)
	nonce := cookieFrom(rec, oauthNonceCookie)
	post := cookieFrom(rec, postLoginCookie)
	require.NotNil(t, state)
	require.NotNil(t, nonce)
	require.NotNil(t, post)
	assert.Equal(t, "/student-dashboard", post.Value)

	// Mismatched state is rejected before any exchange.
	bad := withClientCookie(apiGet("/auth/callback?code=c&state=forged"))
	bad.AddCookie(state)
	rec = serve(router, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "uninitialized", string(h.store(t).Snapshot().Phase))

	cb := withClientCookie(apiGet("/auth/callback?code=c&state=" + url.QueryEscape(state.Value)))
	cb.AddCookie(state)
	cb.AddCookie(nonce)
	cb.AddCookie(post)
	rec = serve(router, cb)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/student-dashboard", rec.Header().Get("Location"))

	snap := h.store(t).Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "tok-fed", snap.Token)
}

func TestRouter_BackendProxyAttachesBearer(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotQuery string
		gotAuth  string
		gotCook  string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		gotAuth, gotCook = r.Header.Get("Authorization"), r.Header.Get("Cookie")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"courses":[]}`))
	}))
	defer backend.Close()
	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)

	h := newHarness(t)
	h.mintAny("tok-api")
	router := newTestRouter(t, h, func(s *RouterServices) { s.BackendURL = backendURL })
	require.Equal(t, http.StatusOK,
		serve(router, jsonPost("/auth/signin", `{"email":"a@example.com","password":"secret1"}`)).Code)

	r := withClientCookie(apiGet("/api/courses?page=2"))
	r.Header.Set("Authorization", "Bearer forged")
	rec := serve(router, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"courses":[]}`, rec.Body.String())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/courses", gotPath)
	assert.Equal(t, "page=2", gotQuery)
	assert.Equal(t, "Bearer tok-api", gotAuth)
	assert.Empty(t, gotCook)
}

func TestRouter_BackendDownIs502(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	backend.Close()

	h := newHarness(t)
	router := newTestRouter(t, h, func(s *RouterServices) { s.BackendURL = backendURL })

	rec := serve(router, withClientCookie(apiGet("/api/courses")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_unavailable", decodeBody(t, rec)["error"])
}

func TestRouter_SPAProxyAndPublicLogin(t *testing.T) {
	spa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>spa " + r.URL.Path + "</html>"))
	}))
	defer spa.Close()
	spaURL, err := url.Parse(spa.URL)
	require.NoError(t, err)

	h := newHarness(t)
	h.mintAny("tok")
	h.anonymous(t)
	router := newTestRouter(t, h, func(s *RouterServices) { s.SPAOrigin = spaURL })

	rec := serve(router, withClientCookie(browserGet("/login")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spa /login")

	rec = serve(router, withClientCookie(browserGet("/dashboard")))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	h.provider.Emit(testClient, &domainauth.Identity{ID: "u1", Email: "pat@example.com"})
	rec = serve(router, withClientCookie(browserGet("/dashboard")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spa /dashboard")
}

func TestRouter_RootRouteKeepsLoginPublic(t *testing.T) {
	h := newHarness(t)
	h.anonymous(t)
	router := newTestRouter(t, h, func(s *RouterServices) {
		s.Routes = []ProtectedRoute{{Prefix: "/"}}
	})

	rec := serve(router, withClientCookie(browserGet("/courses")))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	// No SPA origin: the login page is not found rather than gated.
	rec = serve(router, withClientCookie(browserGet("/login")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RootRouteKeepsPublicPrefixesReachable(t *testing.T) {
	spa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("spa " + r.URL.Path))
	}))
	defer spa.Close()
	spaURL, err := url.Parse(spa.URL)
	require.NoError(t, err)

	h := newHarness(t)
	h.anonymous(t)
	router := newTestRouter(t, h, func(s *RouterServices) {
		s.SPAOrigin = spaURL
		s.Routes = []ProtectedRoute{{Prefix: "/"}}
		s.PublicPrefixes = []string{"/assets/", "/favicon.ico", "/register"}
	})

	for _, path := range []string{"/login", "/assets/index.js", "/favicon.ico", "/register", "/register/confirm"} {
		r := withClientCookie(httptest.NewRequest(http.MethodGet, path, nil))
		r.Header.Set("Accept", "*/*")
		rec := serve(router, r)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "spa "+path, rec.Body.String())
	}

	rec := serve(router, withClientCookie(browserGet("/courses")))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	rec = serve(router, withClientCookie(browserGet("/assets-admin")))
	assert.Equal(t, http.StatusSeeOther, rec.Code, "prefix match is per path segment")
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	var buf bytes.Buffer
	handler := Recover(testLogger(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "boom")
}
