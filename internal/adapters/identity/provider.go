// Package identity implements the gate's identity provider on top of an
// account store. It plays the role a hosted auth service plays for the SPA:
// credential checks, per-client sign-in state, change notifications and
// password resets.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	restoreTimeout    = 5 * time.Second
	maxRestoreBackoff = 5 * time.Second
)

var _ ports.IdentityProvider = (*Provider)(nil)

// Config groups dependencies and tunables for Provider.
type Config struct {
	Accounts ports.AccountStore
	States   ports.AuthStateStore
	Mailer   ports.Mailer

	StateTTL          time.Duration // default 720h
	MaxFailedAttempts int           // default 5
	Lockout           time.Duration // default 15m
	ResetURL          string        // reset link base; the token is appended as ?token=
	ResetTTL          time.Duration // default 1h
	BcryptCost        int           // default bcrypt.DefaultCost
	RestoreBackoff    time.Duration // first retry delay when the state store fails; default 200ms

	Logger *slog.Logger
	Now    func() time.Time
}

// Provider implements ports.IdentityProvider.
type Provider struct {
	accounts ports.AccountStore
	states   ports.AuthStateStore
	mailer   ports.Mailer

	stateTTL    time.Duration
	maxAttempts int
	lockout     time.Duration
	resetURL    string
	resetTTL    time.Duration
	cost        int
	backoff     time.Duration

	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]ports.IdentityListener
	versions  map[string]uint64
}

// NewProvider constructs a Provider from cfg.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("identity: account store is required")
	}
	if cfg.States == nil {
		return nil, errors.New("identity: auth state store is required")
	}

	p := &Provider{
		accounts:    cfg.Accounts,
		states:      cfg.States,
		mailer:      cfg.Mailer,
		stateTTL:    cfg.StateTTL,
		maxAttempts: cfg.MaxFailedAttempts,
		lockout:     cfg.Lockout,
		resetURL:    cfg.ResetURL,
		resetTTL:    cfg.ResetTTL,
		cost:        cfg.BcryptCost,
		backoff:     cfg.RestoreBackoff,
		logger:      cfg.Logger,
		now:         cfg.Now,
		listeners:   make(map[string]map[uint64]ports.IdentityListener),
		versions:    make(map[string]uint64),
	}
	if p.stateTTL <= 0 {
		p.stateTTL = 720 * time.Hour
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 5
	}
	if p.lockout <= 0 {
		p.lockout = 15 * time.Minute
	}
	if p.resetTTL <= 0 {
		p.resetTTL = time.Hour
	}
	if p.cost == 0 {
		p.cost = bcrypt.DefaultCost
	}
	if p.backoff <= 0 {
		p.backoff = 200 * time.Millisecond
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// CreateUser registers a new account and signs the client in as it.
func (p *Provider) CreateUser(
	ctx context.Context,
	clientID string,
	creds domainauth.Credentials,
) (domainauth.Identity, error) {
	email, err := NormalizeEmail(creds.Email)
	if err != nil {
		return domainauth.Identity{}, err
	}
	hash, err := HashPassword(creds.Password, p.cost)
	if err != nil {
		return domainauth.Identity{}, err
	}

	acct, err := p.accounts.Create(ctx, ports.Account{Email: email, PasswordHash: hash})
	if err != nil {
		if apperrors.IsConflict(err) {
			return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeEmailInUse, err)
		}
		return domainauth.Identity{}, internalErr("create account", err)
	}

	return p.establish(ctx, clientID, acct.Identity())
}

// SignIn verifies email/password and signs the client in.
func (p *Provider) SignIn(
	ctx context.Context,
	clientID string,
	creds domainauth.Credentials,
) (domainauth.Identity, error) {
	email, err := NormalizeEmail(creds.Email)
	if err != nil {
		return domainauth.Identity{}, err
	}

	acct, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeUserNotFound, nil)
		}
		return domainauth.Identity{}, internalErr("get account", err)
	}

	now := p.now()
	if acct.LockedUntil.After(now) {
		return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeTooManyRequests, nil)
	}

	if cmpErr := bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(creds.Password)); cmpErr != nil {
		return domainauth.Identity{}, p.recordFailure(ctx, acct.ID, now)
	}

	if acct.FailedAttempts > 0 || !acct.LockedUntil.IsZero() {
		if resetErr := p.accounts.ResetFailures(ctx, acct.ID); resetErr != nil {
			p.logger.WarnContext(ctx, "reset failed attempts", "account_id", acct.ID, "error", resetErr)
		}
	}

	return p.establish(ctx, clientID, acct.Identity())
}

func (p *Provider) recordFailure(ctx context.Context, accountID string, now time.Time) error {
	acct, err := p.accounts.RecordFailure(ctx, ports.FailureInput{
		AccountID:   accountID,
		MaxAttempts: p.maxAttempts,
		LockFor:     p.lockout,
		Now:         now,
	})
	if err != nil {
		return internalErr("record failed attempt", err)
	}
	if acct.LockedUntil.After(now) {
		return domainauth.NewAuthError(domainauth.CodeTooManyRequests, nil)
	}
	return domainauth.NewAuthError(domainauth.CodeWrongPassword, nil)
}

// SignInWithFederated links a verified external identity to a local account,
// creating a password-less account on first use.
func (p *Provider) SignInWithFederated(
	ctx context.Context,
	clientID string,
	ext domainauth.Identity,
) (domainauth.Identity, error) {
	if !ext.HasEmail() {
		return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeFederatedFailed,
			errors.New("federated identity has no email"))
	}
	email := strings.ToLower(strings.TrimSpace(ext.Email))

	acct, err := p.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case apperrors.IsNotFound(err):
		acct, err = p.accounts.Create(ctx, ports.Account{
			Email:       email,
			DisplayName: ext.DisplayName,
			PhotoURL:    ext.PhotoURL,
		})
		if err != nil {
			return domainauth.Identity{}, internalErr("create federated account", err)
		}
	default:
		return domainauth.Identity{}, internalErr("get account", err)
	}

	return p.establish(ctx, clientID, acct.Identity())
}

// UpdateProfile changes display attributes of the client's signed-in account.
func (p *Provider) UpdateProfile(
	ctx context.Context,
	clientID string,
	profile domainauth.Profile,
) (domainauth.Identity, error) {
	st, err := p.states.Get(ctx, clientID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeUserNotFound, err)
		}
		return domainauth.Identity{}, internalErr("get auth state", err)
	}

	acct, err := p.accounts.UpdateProfile(ctx, st.Identity.ID, profile)
	if err != nil {
		return domainauth.Identity{}, internalErr("update profile", err)
	}
	return p.establish(ctx, clientID, acct.Identity())
}

// SignOut forgets the client's sign-in. Signing out twice is not an error.
func (p *Provider) SignOut(ctx context.Context, clientID string) error {
	if err := p.states.Delete(ctx, clientID); err != nil {
		return internalErr("delete auth state", err)
	}
	p.notify(clientID, nil)
	return nil
}

func (p *Provider) establish(
	ctx context.Context,
	clientID string,
	identity domainauth.Identity,
) (domainauth.Identity, error) {
	st := domainauth.AuthState{
		ClientID:  clientID,
		Identity:  identity,
		ExpiresAt: p.now().Add(p.stateTTL),
	}
	if err := p.states.Save(ctx, st); err != nil {
		return domainauth.Identity{}, internalErr("save auth state", err)
	}
	id := identity
	p.notify(clientID, &id)
	return identity, nil
}

// OnIdentityChange subscribes fn to clientID. The first call carries the
// restored identity (or nil) and happens asynchronously, unless a live change
// is delivered first.
func (p *Provider) OnIdentityChange(clientID string, fn ports.IdentityListener) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	if p.listeners[clientID] == nil {
		p.listeners[clientID] = make(map[uint64]ports.IdentityListener)
	}
	p.listeners[clientID][id] = fn
	version := p.versions[clientID]
	p.mu.Unlock()

	go p.restore(clientID, id, version)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners[clientID], id)
		if len(p.listeners[clientID]) == 0 {
			delete(p.listeners, clientID)
		}
	}
}

// restore delivers the persisted identity to a new listener. A state store
// failure is not a sign-out: the listener gets nothing and the read is retried
// with backoff until it succeeds, the listener cancels, or a live change
// supersedes it.
func (p *Provider) restore(clientID string, listenerID, version uint64) {
	backoff := p.backoff
	for {
		identity, err := p.loadState(clientID)
		if err == nil {
			if fn, ok := p.pending(clientID, listenerID, version); ok {
				fn(identity)
			}
			return
		}
		p.logger.Warn("restore auth state failed; client stays loading",
			"client_id", clientID, "error", err, "retry_in", backoff)

		time.Sleep(backoff)
		if _, ok := p.pending(clientID, listenerID, version); !ok {
			return
		}
		backoff = min(backoff*2, maxRestoreBackoff)
	}
}

// loadState returns the persisted identity, or nil when none is stored.
func (p *Provider) loadState(clientID string) (*domainauth.Identity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	st, err := p.states.Get(ctx, clientID)
	switch {
	case err == nil:
		return &st.Identity, nil
	case apperrors.IsNotFound(err):
		return nil, nil
	default:
		return nil, err
	}
}

// pending returns the listener when it is still subscribed and no live change
// has reached it since it subscribed.
func (p *Provider) pending(clientID string, listenerID, version uint64) (ports.IdentityListener, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.listeners[clientID][listenerID]
	if !ok || p.versions[clientID] != version {
		return nil, false
	}
	return fn, true
}

func (p *Provider) notify(clientID string, identity *domainauth.Identity) {
	p.mu.Lock()
	p.versions[clientID]++
	fns := make([]ports.IdentityListener, 0, len(p.listeners[clientID]))
	for _, fn := range p.listeners[clientID] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		var cp *domainauth.Identity
		if identity != nil {
			v := *identity
			cp = &v
		}
		fn(cp)
	}
}

// NormalizeEmail lowercases and trims raw and rejects anything that is not a
// bare address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", domainauth.NewAuthError(domainauth.CodeInvalidEmail, nil)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domainauth.NewAuthError(domainauth.CodeInvalidEmail, err)
	}
	return email, nil
}

// HashPassword enforces the minimum length and returns the bcrypt hash.
// A cost of zero uses bcrypt.DefaultCost.
func HashPassword(password string, cost int) ([]byte, error) {
	if len(password) < minPasswordLength {
		return nil, domainauth.NewAuthError(domainauth.CodeWeakPassword, nil)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, domainauth.NewAuthError(domainauth.CodeWeakPassword, err)
	}
	return hash, nil
}

func internalErr(op string, err error) error {
	return domainauth.NewAuthError(domainauth.CodeInternal, fmt.Errorf("%s: %w", op, err))
}
