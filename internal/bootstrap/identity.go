package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/edumanage/edugate/config"
	"github.com/edumanage/edugate/internal/adapters/devauth"
	"github.com/edumanage/edugate/internal/adapters/identity"
	"github.com/edumanage/edugate/internal/adapters/logmailer"
	"github.com/edumanage/edugate/internal/adapters/memory"
	"github.com/edumanage/edugate/internal/adapters/oidc"
	redisadapter "github.com/edumanage/edugate/internal/adapters/redis"
	"github.com/edumanage/edugate/internal/data"
	"github.com/edumanage/edugate/internal/ports"
)

// IdentityDeps groups what BuildIdentity needs. DB and Redis are required in
// local mode and ignored in mock mode.
type IdentityDeps struct {
	Identity  config.IdentityConfig
	DB        *sql.DB
	Redis     redis.UniversalClient
	KeyPrefix string
	Logger    *slog.Logger
}

// IdentityStack is the identity provider and the stores behind it.
type IdentityStack struct {
	Provider *identity.Provider
	Accounts ports.AccountStore
	Tokens   ports.TokenStore
	// Federated is nil when neither OIDC nor the dev shortcut is configured.
	Federated ports.FederatedProvider
}

// BuildIdentity wires the identity provider for the configured mode.
func BuildIdentity(ctx context.Context, deps IdentityDeps) (*IdentityStack, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		stack  IdentityStack
		states ports.AuthStateStore
	)
	switch deps.Identity.Mode {
	case config.IdentityModeMock:
		accounts := memory.NewAccountStore()
		stack.Accounts = accounts
		stack.Tokens = memory.NewTokenStore()
		states = memory.NewAuthStateStore()

		seeds, err := devauth.ParseAccounts(deps.Identity.DevAuth.Accounts)
		if err != nil {
			return nil, err
		}
		if err := devauth.Seed(ctx, accounts, seeds, logger); err != nil {
			return nil, fmt.Errorf("seed dev accounts: %w", err)
		}
		logger.WarnContext(ctx, "identity running in mock mode; accounts are in memory", "seeded", len(seeds))

	default:
		if deps.DB == nil || deps.Redis == nil {
			return nil, errors.New("local identity mode requires postgres and redis")
		}
		stack.Accounts = data.NewAccountRepo(deps.DB)
		stack.Tokens = redisadapter.NewTokenStoreWithPrefix(deps.Redis, deps.KeyPrefix+"client:")
		states = redisadapter.NewAuthStateStoreWithPrefix(deps.Redis, deps.KeyPrefix+"authstate:")
	}

	prov, err := identity.NewProvider(identity.Config{
		Accounts:          stack.Accounts,
		States:            states,
		Mailer:            logmailer.New(logger),
		StateTTL:          deps.Identity.StateTTL,
		MaxFailedAttempts: deps.Identity.MaxFailedAttempts,
		Lockout:           deps.Identity.Lockout,
		ResetURL:          deps.Identity.ResetURL,
		ResetTTL:          deps.Identity.ResetTTL,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create identity provider: %w", err)
	}
	stack.Provider = prov

	fed, err := buildFederated(ctx, deps.Identity, logger)
	if err != nil {
		return nil, err
	}
	stack.Federated = fed
	return &stack, nil
}

// buildFederated prefers a configured OIDC issuer and falls back to the dev
// shortcut in mock mode. It returns nil when federated sign-in is off.
//
//nolint:ireturn // either provider satisfies the port; callers only need the interface.
func buildFederated(ctx context.Context, cfg config.IdentityConfig, logger *slog.Logger) (ports.FederatedProvider, error) {
	if cfg.OAuth.Enabled() {
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			Scope:        cfg.OAuth.Scope,
			DiscoveryURL: cfg.OAuth.DiscoveryURL,
			Prompt:       cfg.OAuth.Prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("create OIDC provider: %w", err)
		}
		logger.InfoContext(ctx, "federated sign-in enabled", "provider", "oidc")
		return prov, nil
	}

	if cfg.Mode == config.IdentityModeMock && cfg.DevAuth.FederatedEmail != "" {
		prov, err := devauth.NewProvider(devauth.Config{
			Email:       cfg.DevAuth.FederatedEmail,
			DisplayName: cfg.DevAuth.FederatedName,
		})
		if err != nil {
			return nil, fmt.Errorf("create dev federated provider: %w", err)
		}
		logger.InfoContext(ctx, "federated sign-in enabled", "provider", "dev")
		return prov, nil
	}

	return nil, nil
}
