// Package auth contains hand-written test doubles for the identity ports.
// They are lightweight and let tests drive identity callbacks explicitly.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/ports"
)

var (
	_ ports.IdentityProvider  = (*FakeIdentityProvider)(nil)
	_ ports.FederatedProvider = (*MockFederatedProvider)(nil)
)

// FakeIdentityProvider records subscriptions per client and lets tests push
// identity changes with Emit. It never calls back on its own at subscribe
// time; tests emit the first callback to end loading.
//
// Credential operations default to succeeding with an identity derived from
// the email and, like the real provider, notify the client's listeners.
// Set the *Func fields to override.
type FakeIdentityProvider struct {
	CreateUserFunc           func(ctx context.Context, clientID string, creds domainauth.Credentials) (domainauth.Identity, error)
	SignInFunc               func(ctx context.Context, clientID string, creds domainauth.Credentials) (domainauth.Identity, error)
	SignInWithFederatedFunc  func(ctx context.Context, clientID string, id domainauth.Identity) (domainauth.Identity, error)
	UpdateProfileFunc        func(ctx context.Context, clientID string, p domainauth.Profile) (domainauth.Identity, error)
	SignOutFunc              func(ctx context.Context, clientID string) error
	RequestPasswordResetFunc func(ctx context.Context, email string) error
	ConfirmPasswordResetFunc func(ctx context.Context, token, newPassword string) error

	mu            sync.Mutex
	nextID        int
	listeners     map[string]map[int]ports.IdentityListener
	subscriptions int
	signOuts      int
	current       map[string]domainauth.Identity
}

// NewFakeIdentityProvider returns a ready FakeIdentityProvider.
func NewFakeIdentityProvider() *FakeIdentityProvider {
	return &FakeIdentityProvider{
		listeners: make(map[string]map[int]ports.IdentityListener),
		current:   make(map[string]domainauth.Identity),
	}
}

// IdentityFor builds the identity the fake hands out for email.
func IdentityFor(email string) domainauth.Identity {
	local, _, _ := strings.Cut(email, "@")
	return domainauth.Identity{ID: "uid-" + local, Email: email, DisplayName: local}
}

func (f *FakeIdentityProvider) CreateUser(
	ctx context.Context,
	clientID string,
	creds domainauth.Credentials,
) (domainauth.Identity, error) {
	if f.CreateUserFunc != nil {
		return f.signedIn(clientID)(f.CreateUserFunc(ctx, clientID, creds))
	}
	return f.signedIn(clientID)(IdentityFor(creds.Email), nil)
}

func (f *FakeIdentityProvider) SignIn(
	ctx context.Context,
	clientID string,
	creds domainauth.Credentials,
) (domainauth.Identity, error) {
	if f.SignInFunc != nil {
		return f.signedIn(clientID)(f.SignInFunc(ctx, clientID, creds))
	}
	return f.signedIn(clientID)(IdentityFor(creds.Email), nil)
}

func (f *FakeIdentityProvider) SignInWithFederated(
	ctx context.Context,
	clientID string,
	id domainauth.Identity,
) (domainauth.Identity, error) {
	if f.SignInWithFederatedFunc != nil {
		return f.signedIn(clientID)(f.SignInWithFederatedFunc(ctx, clientID, id))
	}
	return f.signedIn(clientID)(id, nil)
}

func (f *FakeIdentityProvider) UpdateProfile(
	ctx context.Context,
	clientID string,
	p domainauth.Profile,
) (domainauth.Identity, error) {
	if f.UpdateProfileFunc != nil {
		return f.signedIn(clientID)(f.UpdateProfileFunc(ctx, clientID, p))
	}
	f.mu.Lock()
	id, ok := f.current[clientID]
	f.mu.Unlock()
	if !ok {
		return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeUserNotFound, nil)
	}
	id.DisplayName = p.DisplayName
	id.PhotoURL = p.PhotoURL
	return f.signedIn(clientID)(id, nil)
}

func (f *FakeIdentityProvider) SignOut(ctx context.Context, clientID string) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	if f.SignOutFunc != nil {
		if err := f.SignOutFunc(ctx, clientID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	delete(f.current, clientID)
	f.mu.Unlock()
	f.Emit(clientID, nil)
	return nil
}

func (f *FakeIdentityProvider) RequestPasswordReset(ctx context.Context, email string) error {
	if f.RequestPasswordResetFunc != nil {
		return f.RequestPasswordResetFunc(ctx, email)
	}
	return nil
}

func (f *FakeIdentityProvider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if f.ConfirmPasswordResetFunc != nil {
		return f.ConfirmPasswordResetFunc(ctx, token, newPassword)
	}
	return nil
}

func (f *FakeIdentityProvider) OnIdentityChange(clientID string, fn ports.IdentityListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subscriptions++
	if f.listeners[clientID] == nil {
		f.listeners[clientID] = make(map[int]ports.IdentityListener)
	}
	f.listeners[clientID][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners[clientID], id)
	}
}

// Emit delivers identity to every listener of clientID synchronously.
func (f *FakeIdentityProvider) Emit(clientID string, identity *domainauth.Identity) {
	f.mu.Lock()
	fns := make([]ports.IdentityListener, 0, len(f.listeners[clientID]))
	for _, fn := range f.listeners[clientID] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		var cp *domainauth.Identity
		if identity != nil {
			v := *identity
			cp = &v
		}
		fn(cp)
	}
}

// Listeners reports the number of active subscriptions for clientID.
func (f *FakeIdentityProvider) Listeners(clientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[clientID])
}

// Subscriptions reports how many times OnIdentityChange was called.
func (f *FakeIdentityProvider) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions
}

// SignOuts reports how many times SignOut was called.
func (f *FakeIdentityProvider) SignOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func (f *FakeIdentityProvider) signedIn(clientID string) func(domainauth.Identity, error) (domainauth.Identity, error) {
	return func(id domainauth.Identity, err error) (domainauth.Identity, error) {
		if err != nil {
			return domainauth.Identity{}, err
		}
		f.mu.Lock()
		f.current[clientID] = id
		f.mu.Unlock()
		f.Emit(clientID, &id)
		return id, nil
	}
}

// MockFederatedProvider simulates an IdP with deterministic state and nonce.
type MockFederatedProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (authURL, state, nonce string, err error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error)

	AuthURL     string
	DefaultUser domainauth.Identity

	mu        sync.Mutex
	callCount int
}

// NewMockFederatedProvider creates a MockFederatedProvider with sensible defaults.
func NewMockFederatedProvider() *MockFederatedProvider {
	return &MockFederatedProvider{
		AuthURL:     "https://mock-idp/auth",
		DefaultUser: domainauth.Identity{ID: "fed-1", Email: "fed.user@example.com", DisplayName: "Fed User"},
	}
}

func (m *MockFederatedProvider) Begin(ctx context.Context, in ports.BeginInput) (string, string, string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()

	authURL := m.AuthURL
	if authURL == "" {
		authURL = "https://mock-idp/auth"
	}
	return authURL, fmt.Sprintf("state-%d", n), fmt.Sprintf("nonce-%d", n), nil
}

func (m *MockFederatedProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	return m.DefaultUser, nil
}
