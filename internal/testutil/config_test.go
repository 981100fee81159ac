package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to local test database port 55432", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(k, "")
		}
		cfg := DefaultTestDBConfig()
		assert.Equal(t, TestDBConfig{
			Host:     "localhost",
			Port:     "55432",
			User:     "edugate",
			Password: "edugate",
			DBName:   "edugate",
		}, cfg)
	})

	t.Run("respects TEST_DB_PORT", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
	})
}

func TestEnvBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "y"} {
		t.Setenv("TESTUTIL_FLAG", v)
		assert.True(t, envBool("TESTUTIL_FLAG"), v)
	}
	t.Setenv("TESTUTIL_FLAG", "no")
	assert.False(t, envBool("TESTUTIL_FLAG"))
}

func TestDSNSetsSearchPath(t *testing.T) {
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "edugate"}
	assert.Equal(t, "postgres://u:p@db:5432/edugate?sslmode=disable", cfg.dsn(""))
	assert.Equal(t, "postgres://u:p@db:5432/edugate?search_path=test_ab&sslmode=disable", cfg.dsn("test_ab"))
}
