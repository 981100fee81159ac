// Package testutil connects integration tests to Postgres and Redis.
// Tests skip when a service is unreachable unless TEST_REQUIRE_INFRA (or
// TEST_REQUIRE_DB / TEST_REQUIRE_REDIS) is set, in which case they fail.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/edumanage/edugate/internal/migrate"
)

const dialTimeout = 2 * time.Second

// TestDBConfig holds connection settings for the test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_*. The port defaults to 55432, the
// docker-compose test profile; CI sets TEST_DB_PORT=5432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "edugate"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "edugate"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "edugate"),
	}
}

func (c TestDBConfig) addr() string { return net.JoinHostPort(c.Host, c.Port) }

// dsn builds a connection URL; a non-empty schema becomes the search_path.
func (c TestDBConfig) dsn(schema string) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.addr(),
		Path:   "/" + c.DBName,
	}
	q := url.Values{"sslmode": {"disable"}}
	if schema != "" {
		q.Set("search_path", schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PostgresDB returns a handle bound to a fresh schema with the production
// migrations applied. The schema is dropped when the test ends.
func PostgresDB(t testing.TB) *sql.DB {
	t.Helper()
	cfg := DefaultTestDBConfig()
	if !reachable(cfg.addr()) {
		unavailable(t, requireDB(), "postgres", cfg.addr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin := openDB(t, cfg.dsn(""))
	schema := "test_" + randomHex(t, 6)
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db := openDB(t, cfg.dsn(schema))
	t.Cleanup(func() {
		_ = db.Close()
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		if _, err := admin.ExecContext(dropCtx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		_ = admin.Close()
	})

	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("migrate schema %s: %v", schema, err)
	}
	return db
}

func openDB(t testing.TB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		unavailable(t, requireDB(), "postgres", err.Error())
	}
	return db
}

// RedisClient returns a client on a flushed test DB (TEST_REDIS_DB, default
// 15). The DB is flushed again and the client closed when the test ends.
// Tests sharing a Redis DB must not run in parallel across packages.
func RedisClient(t testing.TB) *redis.Client {
	t.Helper()
	addr := getEnvOrDefault("TEST_REDIS_ADDR", getEnvOrDefault("REDIS_ADDR", "localhost:6379"))
	if !reachable(addr) {
		unavailable(t, requireRedis(), "redis", addr)
	}
	dbIndex, err := strconv.Atoi(getEnvOrDefault("TEST_REDIS_DB", "15"))
	if err != nil {
		t.Fatalf("TEST_REDIS_DB: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: dbIndex})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		unavailable(t, requireRedis(), "redis", err.Error())
	}
	t.Cleanup(func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), dialTimeout)
		defer flushCancel()
		_ = client.FlushDB(flushCtx).Err()
		_ = client.Close()
	})
	return client
}

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func reachable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func unavailable(t testing.TB, required bool, service, detail string) {
	t.Helper()
	if required {
		t.Fatalf("%s required but unavailable: %s", service, detail)
	}
	t.Skipf("%s unavailable (%s); set TEST_REQUIRE_INFRA=1 to fail instead", service, detail)
}

func randomHex(t testing.TB, n int) string {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("random schema name: %v", err)
	}
	return hex.EncodeToString(b)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
