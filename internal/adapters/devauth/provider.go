// Package devauth provides development shortcuts for the identity layer:
// a federated provider that skips the IdP round-trip, and a seeder that
// creates accounts from configuration.
package devauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/ports"
)

var _ ports.FederatedProvider = (*Provider)(nil)

// Config controls the dev federated provider.
type Config struct {
	Email       string
	DisplayName string
}

// Provider implements ports.FederatedProvider for local development.
// Begin redirects straight back to the gate's callback with a locally
// generated state; Exchange ignores the code and returns the configured identity.
type Provider struct {
	identity domainauth.Identity
}

// NewProvider constructs a dev federated provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	email := strings.ToLower(strings.TrimSpace(cfg.Email))
	if email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	name := cfg.DisplayName
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return &Provider{
		identity: domainauth.Identity{
			ID:          "dev:" + email,
			Email:       email,
			DisplayName: name,
		},
	}, nil
}

// Begin returns a local callback URL and random state and nonce.
func (p *Provider) Begin(_ context.Context, _ ports.BeginInput) (string, string, string, error) {
	state, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}
	authURL := "/auth/callback?code=dev&state=" + url.QueryEscape(state)
	return authURL, state, nonce, nil
}

// Exchange returns the configured identity. State and nonce are checked by the handler.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("authorization code is required")
	}
	return p.identity, nil
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
