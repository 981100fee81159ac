package config

import (
	"fmt"
	"strings"
	"time"
)

// IdentityMode selects where accounts and auth state live.
type IdentityMode string

const (
	// IdentityModeLocal keeps accounts in Postgres and auth state in Redis.
	IdentityModeLocal IdentityMode = "local"
	// IdentityModeMock keeps everything in memory and seeds DEV_AUTH_ACCOUNTS.
	IdentityModeMock IdentityMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for IdentityMode.
func (m *IdentityMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "local", "mock":
		*m = IdentityMode(v)
		return nil
	default:
		return fmt.Errorf("invalid IdentityMode: %q (valid options: local, mock)", v)
	}
}

// OAuthConfig contains OIDC configuration for federated sign-in.
// Federated sign-in is disabled when DiscoveryURL is empty.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"edugate"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://localhost:8080/auth/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	Prompt       string `env:"PROMPT"`
}

// Enabled reports whether an IdP is configured.
func (o OAuthConfig) Enabled() bool { return o.DiscoveryURL != "" }

// DevAuthConfig seeds development accounts and short-circuits federated sign-in.
type DevAuthConfig struct {
	// Accounts is "email:password[:display name];..."
	Accounts string `env:"ACCOUNTS"`

	// FederatedEmail, when set in mock mode without an IdP, is the identity
	// returned by the dev federated provider.
	FederatedEmail string `env:"FEDERATED_EMAIL"`
	FederatedName  string `env:"FEDERATED_NAME" envDefault:"Dev User"`
}

// IdentityConfig groups identity provider settings.
type IdentityConfig struct {
	Mode IdentityMode `env:"IDENTITY_MODE" envDefault:"local"`

	MaxFailedAttempts int           `env:"IDENTITY_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	Lockout           time.Duration `env:"IDENTITY_LOCKOUT"             envDefault:"15m"`
	StateTTL          time.Duration `env:"IDENTITY_STATE_TTL"           envDefault:"720h"`

	// ResetURL is the page the password reset link points at.
	ResetURL string        `env:"IDENTITY_RESET_URL" envDefault:"http://localhost:8080/reset-password"`
	ResetTTL time.Duration `env:"IDENTITY_RESET_TTL" envDefault:"1h"`

	OAuth   OAuthConfig   `envPrefix:"OAUTH_"`
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize applies guardrails to identity settings.
func (c *IdentityConfig) Sanitize() {
	if c.Mode == "" {
		c.Mode = IdentityModeLocal
	}
	if c.MaxFailedAttempts < 1 {
		c.MaxFailedAttempts = 5
	}
	if c.Lockout <= 0 {
		c.Lockout = 15 * time.Minute
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 720 * time.Hour
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = time.Hour
	}
	c.ResetURL = strings.TrimSpace(c.ResetURL)
	c.OAuth.DiscoveryURL = strings.TrimSpace(c.OAuth.DiscoveryURL)
	c.DevAuth.FederatedEmail = strings.TrimSpace(c.DevAuth.FederatedEmail)
}
