// Package oidc implements the federated sign-in provider over OpenID Connect.
// The gate begins the authorization-code flow, verifies the returned ID token
// and hands the identity to the local identity provider for linking.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/ports"
	"golang.org/x/oauth2"
)

var _ ports.FederatedProvider = (*Provider)(nil)

// Provider implements ports.FederatedProvider using go-oidc and x/oauth2.
type Provider struct {
	config       *oauth2.Config
	httpClient   *http.Client
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
	prompt       string
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string // space separated, defaults to "openid profile email"
	DiscoveryURL string
	Prompt       string       // optional prompt parameter, e.g. "select_account"
	HTTPClient   *http.Client // defaults to a client with a 30s timeout
}

// DiscoveryDocument is the subset of the OIDC discovery document the gate reads.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider performs discovery and returns a ready Provider.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	scope := config.Scope
	if strings.TrimSpace(scope) == "" {
		scope = "openid profile email"
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       strings.Fields(scope),
			Endpoint:     op.Endpoint(),
		},
		httpClient:   httpClient,
		oidcProvider: op,
		verifier:     op.Verifier(&gooidc.Config{ClientID: config.ClientID}),
		prompt:       config.Prompt,
	}, nil
}

// Begin returns the provider authorization URL with a fresh state and nonce.
// RedirectURL is where the SPA wants to land after sign-in; the gate keeps it
// alongside state, the OAuth redirect_uri stays the configured callback.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	if in.RedirectURL == "" {
		return "", "", "", errors.New("redirect URL is required")
	}

	state, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	opts := []oauth2.AuthCodeOption{gooidc.Nonce(nonce)}
	if p.prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", p.prompt))
	}
	return p.config.AuthCodeURL(state, opts...), state, nonce, nil
}

// Exchange redeems the authorization code and returns the verified identity.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("authorization code is required")
	}
	if in.State == "" {
		return domainauth.Identity{}, errors.New("state is required")
	}
	if in.Nonce == "" {
		return domainauth.Identity{}, errors.New("nonce is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, in.Code)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("exchange code for token: %w", err)
	}

	c, err := p.claimsFromIDToken(ctx, token, in.Nonce)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("extract id_token: %w", err)
	}
	if c.Email == "" || c.Name == "" {
		if fillErr := p.fillFromUserInfo(ctx, token, &c); fillErr != nil {
			return domainauth.Identity{}, fmt.Errorf("get user info: %w", fillErr)
		}
	}

	return toIdentity(c)
}

// claims is the union of ID token and userinfo claims the gate maps.
type claims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Mail          string `json:"mail"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
}

func (p *Provider) claimsFromIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) (claims, error) {
	var c claims
	if !slices.Contains(p.config.Scopes, "openid") {
		return c, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return c, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return c, fmt.Errorf("verify id_token: %w", err)
	}
	if claimsErr := idTok.Claims(&c); claimsErr != nil {
		return c, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	if c.Nonce != expectedNonce {
		return c, errors.New("invalid nonce")
	}
	return c, nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, tok *oauth2.Token, c *claims) error {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var extra claims
	if err := ui.Claims(&extra); err != nil {
		return fmt.Errorf("decode user info: %w", err)
	}
	mergeClaims(c, extra)
	return nil
}

// mergeClaims fills empty fields of dst from src.
func mergeClaims(dst *claims, src claims) {
	if dst.Sub == "" {
		dst.Sub = src.Sub
	}
	if dst.Email == "" {
		dst.Email = src.Email
		dst.EmailVerified = src.EmailVerified
	}
	if dst.Mail == "" {
		dst.Mail = src.Mail
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.GivenName == "" {
		dst.GivenName = src.GivenName
	}
	if dst.FamilyName == "" {
		dst.FamilyName = src.FamilyName
	}
	if dst.Picture == "" {
		dst.Picture = src.Picture
	}
}

// toIdentity maps claims to an Identity. An email the IdP explicitly marks
// unverified is rejected.
func toIdentity(c claims) (domainauth.Identity, error) {
	if c.Sub == "" {
		return domainauth.Identity{}, errors.New("missing subject claim")
	}
	email := firstNonEmpty(c.Email, c.Mail)
	if email == "" {
		return domainauth.Identity{}, errors.New("missing email claim")
	}
	if c.Email != "" && c.EmailVerified != nil && !*c.EmailVerified {
		return domainauth.Identity{}, errors.New("email is not verified")
	}
	name := c.Name
	if name == "" {
		name = strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	}
	return domainauth.Identity{
		ID:          c.Sub,
		Email:       email,
		DisplayName: name,
		PhotoURL:    c.Picture,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateRandomString generates a URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	b := make([]byte, (length*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
