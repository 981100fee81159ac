package service

import (
	"context"
	"errors"
	"fmt"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/ports"
)

// FederatedLoginOptions groups dependencies for FederatedLogin.
type FederatedLoginOptions struct {
	Provider ports.FederatedProvider
}

// FederatedLogin drives the redirect-based sign-in against an external IdP.
// The verified identity it returns is handed to the client's session store.
type FederatedLogin struct {
	provider ports.FederatedProvider
}

// NewFederatedLogin constructs a FederatedLogin.
func NewFederatedLogin(opts FederatedLoginOptions) *FederatedLogin {
	return &FederatedLogin{provider: opts.Provider}
}

// BeginLoginResult contains the result of beginning a login flow.
type BeginLoginResult struct {
	AuthURL string
	State   string
	Nonce   string
}

// BeginLogin initiates an authentication flow and returns the provider auth URL with state and nonce.
func (s *FederatedLogin) BeginLogin(ctx context.Context, redirectURL string) (*BeginLoginResult, error) {
	if redirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}

	authURL, state, nonce, err := s.provider.Begin(ctx, ports.BeginInput{RedirectURL: redirectURL})
	if err != nil {
		return nil, fmt.Errorf("begin auth flow: %w", err)
	}

	return &BeginLoginResult{
		AuthURL: authURL,
		State:   state,
		Nonce:   nonce,
	}, nil
}

// CompleteLoginInput groups parameters for completing a login flow.
type CompleteLoginInput struct {
	Code  string
	State string
	Nonce string
}

// CompleteLogin exchanges the authorization code for a verified identity.
// Failures are reported as a federated-failed AuthError.
func (s *FederatedLogin) CompleteLogin(ctx context.Context, input CompleteLoginInput) (domainauth.Identity, error) {
	switch {
	case input.Code == "":
		return domainauth.Identity{}, federatedErr(errors.New("authorization code is required"))
	case input.State == "":
		return domainauth.Identity{}, federatedErr(errors.New("state parameter is required"))
	case input.Nonce == "":
		return domainauth.Identity{}, federatedErr(errors.New("nonce parameter is required"))
	}

	identity, err := s.provider.Exchange(ctx, ports.ExchangeInput{
		Code:  input.Code,
		State: input.State,
		Nonce: input.Nonce,
	})
	if err != nil {
		return domainauth.Identity{}, federatedErr(fmt.Errorf("exchange authorization code: %w", err))
	}
	if !identity.HasEmail() {
		return domainauth.Identity{}, federatedErr(errors.New("provider returned no email"))
	}
	return identity, nil
}

func federatedErr(err error) error {
	return domainauth.NewAuthError(domainauth.CodeFederatedFailed, err)
}
