// Package ports defines interfaces (hexagonal ports) for the session gate.
// Implementations live in internal/adapters; orchestration in internal/session and internal/service.
package ports

import (
	"context"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
)

// IdentityListener receives identity changes for one client. A nil identity
// means the client is signed out.
type IdentityListener func(identity *domainauth.Identity)

// IdentityProvider is the external identity service. Every operation is
// scoped to a browser client so that sign-ins on one client do not leak
// into another.
type IdentityProvider interface {
	CreateUser(ctx context.Context, clientID string, creds domainauth.Credentials) (domainauth.Identity, error)
	SignIn(ctx context.Context, clientID string, creds domainauth.Credentials) (domainauth.Identity, error)

	// SignInWithFederated links an identity verified by a FederatedProvider to the client.
	SignInWithFederated(ctx context.Context, clientID string, identity domainauth.Identity) (domainauth.Identity, error)

	UpdateProfile(ctx context.Context, clientID string, profile domainauth.Profile) (domainauth.Identity, error)
	SignOut(ctx context.Context, clientID string) error

	// OnIdentityChange registers fn for clientID. The provider calls fn once
	// with the restored identity (or nil) and again on every change. The
	// returned func cancels the subscription.
	OnIdentityChange(clientID string, fn IdentityListener) (cancel func())

	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

// BeginInput carries inputs for initiating a federated sign-in.
type BeginInput struct {
	RedirectURL string
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code  string
	State string
	Nonce string
}

// FederatedProvider initiates and completes a redirect-based sign-in against an external IdP.
type FederatedProvider interface {
	// Begin starts the flow and returns the provider auth URL, an opaque state, and a nonce.
	Begin(ctx context.Context, in BeginInput) (authURL, state, nonce string, err error)

	// Exchange completes the flow, verifying state and nonce, and returns the verified identity.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// TokenMinter exchanges a verified email for a backend bearer token.
type TokenMinter interface {
	MintToken(ctx context.Context, email string) (string, error)
}

// UserRecord is the part of the backend user document the gate reads.
type UserRecord struct {
	ID   string
	Role string
}

// UserDirectory looks up users on the backend, authorized by bearer.
type UserDirectory interface {
	LookupUser(ctx context.Context, bearer, id string) (UserRecord, error)
}

// TokenStore persists the bearer token for a client under a fixed key.
// Clear must succeed when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context, clientID string) (string, error)
	Save(ctx context.Context, clientID, token string) error
	Clear(ctx context.Context, clientID string) error
}

// AuthStateStore persists the identity provider's per-client sign-in state.
type AuthStateStore interface {
	Save(ctx context.Context, state domainauth.AuthState) error
	Get(ctx context.Context, clientID string) (domainauth.AuthState, error)
	Delete(ctx context.Context, clientID string) error
}

// Account is a credential record held by the local identity provider.
type Account struct {
	ID             string
	Email          string
	PasswordHash   []byte
	DisplayName    string
	PhotoURL       string
	FailedAttempts int
	LockedUntil    time.Time
	CreatedAt      time.Time
}

// Identity projects the account to the public identity shape.
func (a Account) Identity() domainauth.Identity {
	return domainauth.Identity{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		PhotoURL:    a.PhotoURL,
	}
}

// FailureInput describes a failed sign-in attempt.
type FailureInput struct {
	AccountID   string
	MaxAttempts int
	LockFor     time.Duration
	Now         time.Time
}

// ResetTokenInput describes a password reset token to store.
type ResetTokenInput struct {
	AccountID string
	TokenHash []byte
	ExpiresAt time.Time
}

// AccountStore persists accounts for the local identity provider.
// Lookups of missing accounts return an error for which IsNotFound is true.
type AccountStore interface {
	Create(ctx context.Context, acct Account) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	RecordFailure(ctx context.Context, in FailureInput) (Account, error)
	ResetFailures(ctx context.Context, accountID string) error
	UpdateProfile(ctx context.Context, accountID string, profile domainauth.Profile) (Account, error)
	UpdatePassword(ctx context.Context, accountID string, hash []byte) error
	SetResetToken(ctx context.Context, in ResetTokenInput) error
	// ConsumeResetToken returns the account owning an unexpired token and invalidates it.
	ConsumeResetToken(ctx context.Context, tokenHash []byte, now time.Time) (Account, error)
}

// Mailer delivers account emails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}
