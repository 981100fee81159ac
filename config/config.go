package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: identity provider, OAuth and dev-auth configuration
//   - backend.go: EduManage REST backend client
//   - database.go: Postgres and Redis connections
//   - gate.go: route guard and session store lifecycle
//   - http.go: HTTP server configuration
//   - observability.go: logging and metrics
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	Identity IdentityConfig
	Backend  BackendConfig

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP    HTTPConfig
	Gate    GateConfig
	Session SessionConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Identity.Sanitize()
	c.Backend.Sanitize()
	c.HTTP.Sanitize()
	c.Gate.Sanitize()
	c.Session.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// Validate reports configuration that cannot be repaired by Sanitize.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	if err := c.HTTP.ValidateCookieDomain(); err != nil {
		errs = append(errs, err)
	}
	if rules, err := c.Gate.Rules(); err != nil {
		errs = append(errs, fmt.Errorf("GATE_ROUTES: %w", err))
	} else if _, err := c.Gate.Public(rules); err != nil {
		errs = append(errs, fmt.Errorf("GATE_PUBLIC_PREFIXES: %w", err))
	}
	if c.Identity.Mode == IdentityModeMock && !c.IsDev {
		errs = append(errs, errors.New("IDENTITY_MODE=mock requires DEV=true"))
	}
	return errors.Join(errs...)
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
