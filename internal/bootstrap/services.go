package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/edumanage/edugate/config"
	"github.com/edumanage/edugate/internal/adapters/backendapi"
	"github.com/edumanage/edugate/internal/observability/statsd"
	"github.com/edumanage/edugate/internal/service"
	"github.com/edumanage/edugate/internal/session"
)

// ServiceDeps holds the infrastructure NewServices wires together.
type ServiceDeps struct {
	Config *config.AppConfig
	DB     *sql.DB
	Redis  redis.UniversalClient
	Logger *slog.Logger
}

// ServiceContainer holds every service the gate runs.
type ServiceContainer struct {
	Identity  *IdentityStack
	Backend   *backendapi.Client
	Metrics   *statsd.Client
	Sessions  *session.Manager
	Roles     *service.RoleResolver
	Guard     *service.Guard
	Federated *service.FederatedLogin // nil when federated sign-in is off
}

// NewServices builds the service container.
func NewServices(ctx context.Context, deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("service deps missing AppConfig")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ident, err := BuildIdentity(ctx, IdentityDeps{
		Identity:  cfg.Identity,
		DB:        deps.DB,
		Redis:     deps.Redis,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	backend, err := backendapi.NewClient(backendapi.Config{
		BaseURL:     cfg.Backend.BaseURL,
		Timeout:     cfg.Backend.Timeout,
		SuccessExpr: cfg.Backend.SuccessExpr,
		RoleExpr:    cfg.Backend.RoleExpr,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	metricsClient, err := statsd.NewClient(statsd.Config{
		Enabled:    cfg.Observability.Metrics.IsEnabled(),
		Address:    cfg.Observability.Metrics.StatsdAddress,
		Prefix:     cfg.Observability.Metrics.Prefix,
		GlobalTags: map[string]string{"identity_mode": string(cfg.Identity.Mode)},
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create metrics client: %w", err)
	}

	sessions, err := session.NewManager(session.ManagerOptions{
		Provider:      ident.Provider,
		Tokens:        ident.Tokens,
		Minter:        backend,
		Logger:        logger,
		Metrics:       metricsClient,
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
		MaxStores:     cfg.Session.MaxStores,
	})
	if err != nil {
		return nil, errors.Join(err, metricsClient.Close())
	}

	roles, err := service.NewRoleResolver(service.RoleResolverOptions{
		Directory: backend,
		Logger:    logger,
		Metrics:   metricsClient,
	})
	if err != nil {
		return nil, errors.Join(err, metricsClient.Close())
	}
	guard, err := service.NewGuard(service.GuardOptions{Roles: roles, Logger: logger, Metrics: metricsClient})
	if err != nil {
		return nil, errors.Join(err, metricsClient.Close())
	}

	c := &ServiceContainer{
		Identity: ident,
		Backend:  backend,
		Metrics:  metricsClient,
		Sessions: sessions,
		Roles:    roles,
		Guard:    guard,
	}
	if ident.Federated != nil {
		c.Federated = service.NewFederatedLogin(service.FederatedLoginOptions{Provider: ident.Federated})
	}
	return c, nil
}

// Close disposes every session and closes the metrics socket.
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	if c.Sessions != nil {
		c.Sessions.Dispose()
	}
	return c.Metrics.Close()
}
