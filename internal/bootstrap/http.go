package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edumanage/edugate/config"
	httpx "github.com/edumanage/edugate/internal/http"
)

// HTTPHandlerConfig contains what BuildHTTPHandler needs.
type HTTPHandlerConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	// DB and Redis back the readiness checks; either may be nil.
	DB     *sql.DB
	Redis  redis.UniversalClient
	Logger *slog.Logger
}

// BuildHTTPHandler assembles the gate router from configuration.
func BuildHTTPHandler(cfg HTTPHandlerConfig) (http.Handler, error) {
	if cfg.Config == nil || cfg.Services == nil {
		return nil, errors.New("http handler requires config and services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config

	rules, err := appCfg.Gate.Rules()
	if err != nil {
		return nil, fmt.Errorf("gate routes: %w", err)
	}
	public, err := appCfg.Gate.Public(rules)
	if err != nil {
		return nil, fmt.Errorf("gate public prefixes: %w", err)
	}
	routes := make([]httpx.ProtectedRoute, 0, len(rules))
	for _, r := range rules {
		routes = append(routes, httpx.ProtectedRoute{Prefix: r.Prefix, Role: r.Role})
	}

	var spa *url.URL
	if appCfg.HTTP.SPAOrigin != "" {
		spa, err = url.Parse(appCfg.HTTP.SPAOrigin)
		if err != nil || spa.Scheme == "" || spa.Host == "" {
			return nil, fmt.Errorf("invalid SPA_ORIGIN %q", appCfg.HTTP.SPAOrigin)
		}
	}

	services := httpx.RouterServices{
		Sessions:       cfg.Services.Sessions,
		Guard:          cfg.Services.Guard,
		Routes:         routes,
		InitWait:       appCfg.Gate.InitWait,
		PublicPrefixes: public,
		SPAOrigin:      spa,
		BackendURL:     cfg.Services.Backend.BaseURL(),
		Cookies: httpx.CookieOptions{
			Domain: appCfg.HTTP.CookieDomain,
			Secure: appCfg.HTTP.SecureCookies(),
		},
		Health: healthChecks(cfg.DB, cfg.Redis),
		Logger: logger,
	}
	// Leave the interface nil rather than holding a nil pointer.
	if cfg.Services.Federated != nil {
		services.Federated = cfg.Services.Federated
	}
	return httpx.NewRouter(services), nil
}

func healthChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.HealthCheck {
	checks := make(map[string]httpx.HealthCheck)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// NewHTTPServer returns a server with the gate's timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Role lookups and proxied backend calls can take up to the backend timeout.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	if server == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
