// Package session holds the per-client Session Store and the Manager that
// owns its lifecycle.
//
// A Store is created on a client's first request, initialised once from the
// identity provider's first callback, and disposed when the client goes idle
// or the process shuts down. It is the only writer of the client's bearer token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/ports"
)

const (
	passiveExchangeTimeout = 10 * time.Second
	abandonTimeout         = 5 * time.Second
)

// ErrDisposed is returned by operations on a disposed Store.
var ErrDisposed = errors.New("session store disposed")

// Config groups the dependencies of a Store.
type Config struct {
	ClientID string
	Provider ports.IdentityProvider
	Tokens   ports.TokenStore
	Minter   ports.TokenMinter
	Logger   *slog.Logger
	Now      func() time.Time
}

// Store is the session state of one browser client.
type Store struct {
	clientID string
	provider ports.IdentityProvider
	tokens   ports.TokenStore
	minter   ports.TokenMinter
	logger   *slog.Logger
	now      func() time.Time

	initMu      sync.Mutex
	initialized bool

	// persistMu serializes writes of the persisted token.
	persistMu sync.Mutex

	mu         sync.Mutex
	state      domainauth.State
	tokenEmail string // email the current token was minted for; empty when restored
	explicit   int    // explicit sign-in flows in flight
	exchanging bool
	disposed   bool
	unsub      func()

	ready     chan struct{}
	readyOnce sync.Once

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	lastSeen atomic.Int64
}

// NewStore validates cfg and returns an uninitialised Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("session: client ID is required")
	}
	if cfg.Provider == nil || cfg.Tokens == nil || cfg.Minter == nil {
		return nil, errors.New("session: provider, token store and minter are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Store{
		clientID: cfg.ClientID,
		provider: cfg.Provider,
		tokens:   cfg.Tokens,
		minter:   cfg.Minter,
		logger:   logger.With("component", "session", "client", shortID(cfg.ClientID)),
		now:      now,
		state:    domainauth.State{Phase: domainauth.PhaseUninitialized},
		ready:    make(chan struct{}),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
	s.Touch()
	return s, nil
}

// ClientID returns the client this store belongs to.
func (s *Store) ClientID() string { return s.clientID }

// Init restores the persisted token and subscribes to identity changes.
// Calling Init more than once is a no-op.
func (s *Store) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.isDisposed() {
		return ErrDisposed
	}
	if s.initialized {
		return nil
	}

	tok, err := s.tokens.Load(ctx, s.clientID)
	if err != nil {
		// A missing token only costs a re-exchange; keep going.
		s.logger.WarnContext(ctx, "load persisted token failed", "error", err)
		tok = ""
	}
	s.mu.Lock()
	if s.state.Token == "" {
		s.state.Token = tok
	}
	s.mu.Unlock()

	unsub := s.provider.OnIdentityChange(s.clientID, s.onIdentity)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		unsub()
		return ErrDisposed
	}
	s.unsub = unsub
	s.mu.Unlock()

	s.initialized = true
	return nil
}

// onIdentity handles a provider callback. The first call ends loading.
func (s *Store) onIdentity(identity *domainauth.Identity) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}

	if identity == nil {
		s.state = domainauth.State{Phase: domainauth.PhaseAnonymous}
		s.tokenEmail = ""
		s.mu.Unlock()
		s.markReady()
		s.clearPersisted(s.bgCtx)
		return
	}

	cp := *identity
	s.state.Phase = domainauth.PhaseAuthenticated
	s.state.Identity = &cp
	needsExchange := identity.HasEmail() &&
		!s.tokenMatches(identity.Email) &&
		s.explicit == 0 &&
		!s.exchanging
	if needsExchange {
		s.exchanging = true
		s.bg.Add(1)
	}
	s.mu.Unlock()
	s.markReady()

	if needsExchange {
		go s.passiveExchange(identity.Email)
	}
}

// tokenMatches reports whether the held token belongs to email. A token
// restored from storage is assumed to match. Callers hold s.mu.
func (s *Store) tokenMatches(email string) bool {
	if s.state.Token == "" {
		return false
	}
	return s.tokenEmail == "" || strings.EqualFold(s.tokenEmail, email)
}

// passiveExchange mints a token for an identity the provider pushed on its
// own. Failures are logged and swallowed; the client stays unauthorized for
// backend calls until its next explicit sign-in.
func (s *Store) passiveExchange(email string) {
	defer s.bg.Done()
	defer func() {
		s.mu.Lock()
		s.exchanging = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.bgCtx, passiveExchangeTimeout)
	defer cancel()

	tok, err := s.minter.MintToken(ctx, email)
	if err != nil {
		s.logger.WarnContext(ctx, "passive token exchange failed",
			"error", &domainauth.TokenExchangeError{Email: email, Err: err})
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	current := s.state.Identity
	stillValid := !s.disposed &&
		s.state.Phase == domainauth.PhaseAuthenticated &&
		current != nil && strings.EqualFold(current.Email, email)
	s.mu.Unlock()
	if !stillValid {
		return
	}

	if err := s.tokens.Save(ctx, s.clientID, tok); err != nil {
		s.logger.WarnContext(ctx, "persist token after passive exchange failed", "error", err)
		return
	}
	s.mu.Lock()
	s.state.Token = tok
	s.tokenEmail = email
	s.mu.Unlock()
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Store) clearPersisted(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.tokens.Clear(ctx, s.clientID); err != nil {
		s.logger.WarnContext(ctx, "clear persisted token failed", "error", err)
	}
}

// SignUp creates an account, applies the optional profile and mints a token.
func (s *Store) SignUp(
	ctx context.Context,
	email, password string,
	profile domainauth.Profile,
) (domainauth.Identity, error) {
	done, err := s.beginExplicit()
	if err != nil {
		return domainauth.Identity{}, err
	}
	defer done()

	id, err := s.provider.CreateUser(ctx, s.clientID, domainauth.Credentials{Email: email, Password: password})
	if err != nil {
		return domainauth.Identity{}, err
	}
	if profile != (domainauth.Profile{}) {
		id, err = s.provider.UpdateProfile(ctx, s.clientID, profile)
		if err != nil {
			return domainauth.Identity{}, s.abandon(ctx, err)
		}
	}
	return s.establish(ctx, id)
}

// SignIn verifies credentials with the provider and mints a token.
func (s *Store) SignIn(ctx context.Context, email, password string) (domainauth.Identity, error) {
	done, err := s.beginExplicit()
	if err != nil {
		return domainauth.Identity{}, err
	}
	defer done()

	id, err := s.provider.SignIn(ctx, s.clientID, domainauth.Credentials{Email: email, Password: password})
	if err != nil {
		return domainauth.Identity{}, err
	}
	return s.establish(ctx, id)
}

// SignInWithFederated links a federated identity and mints a token.
func (s *Store) SignInWithFederated(ctx context.Context, ext domainauth.Identity) (domainauth.Identity, error) {
	done, err := s.beginExplicit()
	if err != nil {
		return domainauth.Identity{}, err
	}
	defer done()

	id, err := s.provider.SignInWithFederated(ctx, s.clientID, ext)
	if err != nil {
		return domainauth.Identity{}, err
	}
	return s.establish(ctx, id)
}

// UpdateProfile changes display attributes of the signed-in identity.
func (s *Store) UpdateProfile(ctx context.Context, profile domainauth.Profile) (domainauth.Identity, error) {
	if s.isDisposed() {
		return domainauth.Identity{}, ErrDisposed
	}
	return s.provider.UpdateProfile(ctx, s.clientID, profile)
}

func (s *Store) beginExplicit() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrDisposed
	}
	s.explicit++
	return func() {
		s.mu.Lock()
		s.explicit--
		s.mu.Unlock()
	}, nil
}

// establish mints and persists a token for id and records it in the state.
func (s *Store) establish(ctx context.Context, id domainauth.Identity) (domainauth.Identity, error) {
	if !id.HasEmail() {
		// No verified email yet; the token is minted once one is pushed.
		s.setIdentity(id)
		return id, nil
	}

	tok, err := s.minter.MintToken(ctx, id.Email)
	if err != nil {
		return domainauth.Identity{}, s.abandon(ctx, &domainauth.TokenExchangeError{Email: id.Email, Err: err})
	}

	s.persistMu.Lock()
	if err := s.tokens.Save(ctx, s.clientID, tok); err != nil {
		s.persistMu.Unlock()
		return domainauth.Identity{}, s.abandon(ctx, fmt.Errorf("persist token: %w", err))
	}
	s.mu.Lock()
	cp := id
	s.state = domainauth.State{Phase: domainauth.PhaseAuthenticated, Identity: &cp, Token: tok}
	s.tokenEmail = id.Email
	s.mu.Unlock()
	s.persistMu.Unlock()
	s.markReady()
	return id, nil
}

// abandon undoes a sign-in the provider accepted but whose token could not be
// established. The client ends anonymous, never signed in without a bearer.
// It returns cause.
func (s *Store) abandon(ctx context.Context, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()

	if err := s.provider.SignOut(ctx, s.clientID); err != nil {
		s.logger.WarnContext(ctx, "provider sign out after failed sign-in", "error", err)
	}
	s.clearPersisted(ctx)

	s.mu.Lock()
	s.state = domainauth.State{Phase: domainauth.PhaseAnonymous}
	s.tokenEmail = ""
	s.mu.Unlock()
	s.markReady()
	return cause
}

func (s *Store) setIdentity(id domainauth.Identity) {
	s.mu.Lock()
	cp := id
	s.state.Phase = domainauth.PhaseAuthenticated
	s.state.Identity = &cp
	s.mu.Unlock()
	s.markReady()
}

// SignOut signs the client out and erases the token. It is idempotent and
// succeeds when no token is stored.
func (s *Store) SignOut(ctx context.Context) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	if err := s.provider.SignOut(ctx, s.clientID); err != nil {
		return fmt.Errorf("provider sign out: %w", err)
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.tokens.Clear(ctx, s.clientID); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}

	s.mu.Lock()
	s.state = domainauth.State{Phase: domainauth.PhaseAnonymous}
	s.tokenEmail = ""
	s.mu.Unlock()
	s.markReady()
	return nil
}

// RequestPasswordReset asks the provider to send a reset link.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	return s.provider.RequestPasswordReset(ctx, email)
}

// ConfirmPasswordReset sets a new password using a reset token.
func (s *Store) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return s.provider.ConfirmPasswordReset(ctx, token, newPassword)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domainauth.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.Identity != nil {
		cp := *st.Identity
		st.Identity = &cp
	}
	return st
}

// Token returns the bearer token currently held, possibly restored from storage.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// Ready is closed once the provider has reported for the first time.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// WaitReady blocks until the store is ready, ctx is done, or d elapses.
// It reports whether the store is ready.
func (s *Store) WaitReady(ctx context.Context, d time.Duration) bool {
	select {
	case <-s.ready:
		return true
	default:
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ready:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

// Touch records activity for idle eviction.
func (s *Store) Touch() { s.lastSeen.Store(s.now().UnixNano()) }

// LastSeen returns the time of the last recorded activity.
func (s *Store) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Dispose unsubscribes from the provider and stops background work.
// Callbacks arriving afterwards are ignored. Dispose is idempotent.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.bgCancel()
	s.bg.Wait()
}

func (s *Store) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
