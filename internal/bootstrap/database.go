package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/edumanage/edugate/config"
	"github.com/edumanage/edugate/internal/migrate"
)

const connectTimeout = 5 * time.Second

// DatabaseConfig contains configuration for the account database and the
// Redis instance holding auth state and tokens.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// postgresURL renders cfg as a connection URL; url.UserPassword escapes
// credentials.
func postgresURL(cfg config.DBConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectDB opens the account database through the pgx stdlib bridge and
// verifies it answers.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(postgresURL(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	connCfg.RuntimeParams["application_name"] = "edugate"

	db := stdlib.OpenDB(*connCfg)
	// Account lookups are short; a small pool is plenty.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := pingOrClose(db, db.PingContext); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
		)
	}
	return db, nil
}

// ConnectRedis builds a direct, sentinel or cluster client from cfg and
// verifies it answers.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single, sentinel, or cluster clients at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	client, desc, err := newRedisClient(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := pingOrClose(client, ping); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", desc)
	}
	return client, nil
}

func pingOrClose(c io.Closer, ping func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err := ping(ctx)
	if err == nil {
		return nil
	}
	if closeErr := c.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close: %w", closeErr))
	}
	return err
}

// newRedisClient returns the client and a credential-free description of
// where it points.
//
//nolint:ireturn // see ConnectRedis.
func newRedisClient(cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	switch {
	case cfg.UseCluster:
		addrs := normalizeAddrs(cfg.ClusterNodes)
		opts := &redis.ClusterOptions{Addrs: addrs, Password: cfg.Password}
		if len(addrs) == 0 {
			// Fall back to the single URI as the cluster seed.
			seed, err := redisOptions(cfg.URI, cfg.Password)
			if err != nil {
				return nil, "", fmt.Errorf("redis cluster seed: %w", err)
			}
			opts.Addrs = []string{seed.Addr}
			opts.Username = seed.Username
			opts.Password = seed.Password
			opts.TLSConfig = seed.TLSConfig
		}
		return redis.NewClusterClient(opts), "cluster:" + strings.Join(opts.Addrs, ","), nil

	case cfg.UseSentinel:
		nodes := normalizeAddrs(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.SentinelMasterName,
			SentinelAddrs:    nodes,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
		}), "sentinel:" + cfg.SentinelMasterName, nil

	default:
		opts, err := redisOptions(cfg.URI, cfg.Password)
		if err != nil {
			return nil, "", err
		}
		return redis.NewClient(opts), opts.Addr, nil
	}
}

// redisOptions accepts either a redis:// or rediss:// URL or a bare
// host:port. password applies unless the URL carries its own.
func redisOptions(uri, password string) (*redis.Options, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("redis configuration requires a URI")
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		return &redis.Options{Addr: uri, Password: password}, nil
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Password == "" {
		opts.Password = password
	}
	return opts, nil
}

func normalizeAddrs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, addr := range raw {
		if a := strings.TrimSpace(addr); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// RunMigrations applies the embedded account schema.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations applied")
	}
	return nil
}
