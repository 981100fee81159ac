package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/edumanage/edugate/config"
	"github.com/edumanage/edugate/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	bootstrap.SetLogLevel(cfg.Observability.Level())

	logStartupInfo(ctx, logger, &cfg)

	var (
		db          *sql.DB
		redisClient redis.UniversalClient
	)
	if cfg.Identity.Mode == config.IdentityModeLocal {
		db, redisClient, err = initInfrastructure(ctx, &cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := db.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close database failed", "error", cerr)
			}
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()

		if cfg.Postgres.RunMigrationsOnStart {
			if err = bootstrap.RunMigrations(ctx, db, logger); err != nil {
				return err
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
	}

	services, err := bootstrap.NewServices(ctx, bootstrap.ServiceDeps{
		Config: &cfg,
		DB:     db,
		Redis:  redisClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := bootstrap.BuildHTTPHandler(bootstrap.HTTPHandlerConfig{
		Config:   &cfg,
		Services: services,
		DB:       db,
		Redis:    redisClient,
		Logger:   logger,
	})
	if err != nil {
		return errors.Join(err, services.Close())
	}

	return bootstrap.Run(ctx, bootstrap.RunConfig{
		Server:   bootstrap.NewHTTPServer(cfg.HTTP.Addr, handler),
		Services: services,
		Logger:   logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	attrs := []any{
		"addr", cfg.HTTP.Addr,
		"identity_mode", cfg.Identity.Mode,
		"backend", cfg.Backend.BaseURL,
		"federated", cfg.Identity.OAuth.Enabled(),
		"dev", cfg.IsDev,
	}
	if cfg.Identity.Mode == config.IdentityModeLocal {
		attrs = append(attrs,
			"db_host", cfg.Postgres.Host,
			"db_port", cfg.Postgres.Port,
			"db_name", cfg.Postgres.Name)
	}
	logger.InfoContext(ctx, "starting edugate", attrs...)
}

// initInfrastructure connects the stores backing local identity mode.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*sql.DB, redis.UniversalClient, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database after redis connect failure", "error", cerr)
			return nil, nil, fmt.Errorf("connect redis: %w", errors.Join(err, fmt.Errorf("close database: %w", cerr)))
		}
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	return db, redisClient, nil
}
