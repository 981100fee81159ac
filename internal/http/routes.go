package httpx

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/domain/guard"
)

// ProtectedRoute mounts the gate in front of a view prefix.
type ProtectedRoute struct {
	Prefix string
	Role   domainauth.Role // empty: any signed-in user
}

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Sessions  SessionSource    // Required
	Guard     GuardEvaluator   // Required
	Federated FederatedService // Optional

	Routes   []ProtectedRoute
	InitWait time.Duration
	// PublicPrefixes bypass the gate when "/" is protected.
	PublicPrefixes []string

	// SPAOrigin serves protected views and public pages when set.
	SPAOrigin *url.URL
	// BackendURL is the target of the authorised /api/ proxy; nil disables it.
	BackendURL *url.URL

	Cookies CookieOptions
	Health  map[string]HealthCheck
	Logger  *slog.Logger // Logger for HTTP errors (optional)
}

// NewRouter creates and configures a new HTTP router with browser middleware.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	withSession := ClientSession(services.Sessions, services.Cookies, logger)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Health))

	auth := &AuthHandlers{Federated: services.Federated, Cookies: services.Cookies, Logger: logger}
	registerAuthRoutes(mux, auth, withSession)

	if services.BackendURL != nil {
		mux.Handle(apiPrefix+"/", withSession(BackendProxy(services.BackendURL, logger)))
	}

	views := MustViews(logger)
	view := ViewHandler(services.SPAOrigin, logger)
	rootTaken := false
	for _, rt := range services.Routes {
		gated := withSession(Gate(GateOptions{
			Guard:    services.Guard,
			InitWait: services.InitWait,
			Views:    views,
			Logger:   logger,
		}, rt.Role)(view))

		prefix := strings.TrimSuffix(rt.Prefix, "/")
		if prefix == "" {
			mux.Handle("/", gated)
			rootTaken = true
			continue
		}
		mux.Handle(prefix, gated)
		mux.Handle(prefix+"/", gated)
	}

	if rootTaken {
		// The login page and its assets must stay reachable when everything
		// else is gated.
		public := publicFallback(services.SPAOrigin, logger)
		mux.Handle(guard.LoginPath, public)
		for _, p := range services.PublicPrefixes {
			p = strings.TrimSuffix(p, "/")
			if p == "" || p == guard.LoginPath {
				continue
			}
			mux.Handle(p, public)
			mux.Handle(p+"/", public)
		}
	} else {
		mux.Handle("/", publicFallback(services.SPAOrigin, logger))
	}

	return Recover(logger)(Logging(logger)(BrowserDetection()(mux)))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, withSession func(http.Handler) http.Handler) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, withSession(fn))
	}
	handle("POST /auth/signup", h.SignUp)
	handle("POST /auth/signin", h.SignIn)
	handle("POST /auth/signout", h.SignOut)
	handle("POST /auth/password-reset", h.RequestPasswordReset)
	handle("POST /auth/password-reset/confirm", h.ConfirmPasswordReset)
	handle("GET /auth/status", h.Status)
	handle("GET /auth/federated", h.BeginFederated)
	handle("GET /auth/callback", h.Callback)
}

// publicFallback serves unguarded pages such as /login from the SPA.
func publicFallback(spa *url.URL, logger *slog.Logger) http.Handler {
	if spa == nil {
		return http.NotFoundHandler()
	}
	return ViewHandler(spa, logger)
}
