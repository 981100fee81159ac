package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/edumanage/edugate/internal/adapters/memory"
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/mocks"
	mockauth "github.com/edumanage/edugate/internal/mocks/auth"
)

const client = "client-aaaaaaaa"

type fixture struct {
	provider *mockauth.FakeIdentityProvider
	tokens   *memory.TokenStore
	minter   *mocks.MockTokenMinter
	store    *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		provider: mockauth.NewFakeIdentityProvider(),
		tokens:   memory.NewTokenStore(),
		minter:   mocks.NewMockTokenMinter(ctrl),
	}
	s, err := NewStore(Config{
		ClientID: client,
		Provider: f.provider,
		Tokens:   f.tokens,
		Minter:   f.minter,
	})
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	f.store = s
	return f
}

func (f *fixture) persisted(t *testing.T) string {
	t.Helper()
	tok, err := f.tokens.Load(context.Background(), client)
	require.NoError(t, err)
	return tok
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Config{})
	require.Error(t, err)
	_, err = NewStore(Config{ClientID: client})
	require.Error(t, err)
}

func TestStore_InitIsIdempotentAndLoadsUntilFirstCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.Save(ctx, client, "restored"))

	require.NoError(t, f.store.Init(ctx))
	require.NoError(t, f.store.Init(ctx))
	assert.Equal(t, 1, f.provider.Subscriptions())

	snap := f.store.Snapshot()
	assert.True(t, snap.Loading())
	assert.Equal(t, "restored", snap.Token, "restored token is held while loading")
	assert.False(t, f.store.WaitReady(ctx, 10*time.Millisecond))

	// Restored token is assumed to match; no exchange is triggered.
	id := mockauth.IdentityFor("ann@example.com")
	f.provider.Emit(client, &id)

	assert.True(t, f.store.WaitReady(ctx, 0))
	snap = f.store.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "restored", snap.Token)
}

func TestStore_FirstCallbackNilIsAnonymousAndClearsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.Save(ctx, client, "stale"))
	require.NoError(t, f.store.Init(ctx))

	f.provider.Emit(client, nil)

	snap := f.store.Snapshot()
	assert.Equal(t, domainauth.PhaseAnonymous, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.Empty(t, snap.Token)
	assert.Empty(t, f.persisted(t))
	select {
	case <-f.store.Ready():
	default:
		t.Fatal("expected ready after first callback")
	}
}

func TestStore_PassiveExchangeRunsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))

	f.minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").Return("minted", nil).Times(1)

	id := mockauth.IdentityFor("ann@example.com")
	f.provider.Emit(client, &id)
	f.provider.Emit(client, &id)

	require.Eventually(t, func() bool { return f.store.Token() == "minted" }, time.Second, 5*time.Millisecond)
	f.provider.Emit(client, &id)
	f.store.Dispose()
	assert.Equal(t, "minted", f.persisted(t))
}

func TestStore_PassiveExchangeFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))

	called := make(chan struct{})
	f.minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").
		DoAndReturn(func(context.Context, string) (string, error) {
			close(called)
			return "", errors.New("backend down")
		})

	id := mockauth.IdentityFor("ann@example.com")
	f.provider.Emit(client, &id)
	<-called
	f.store.Dispose()

	snap := f.store.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Empty(t, snap.Token)
	assert.Empty(t, f.persisted(t))
}

func TestStore_IdentityWithoutEmailDoesNotExchange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Init(context.Background()))

	f.provider.Emit(client, &domainauth.Identity{ID: "u-1"})

	snap := f.store.Snapshot()
	assert.Equal(t, domainauth.PhaseAuthenticated, snap.Phase)
	assert.False(t, snap.Authenticated())
	assert.Empty(t, snap.Token)
}

func TestStore_SignInMintsAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	f.provider.Emit(client, nil)

	f.minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").Return("tok-1", nil).Times(1)

	id, err := f.store.SignIn(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", id.Email)

	snap := f.store.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "tok-1", snap.Token)
	assert.Equal(t, "tok-1", f.persisted(t))
}

func TestStore_SignInAuthErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	f.provider.Emit(client, nil)
	f.provider.SignInFunc = func(context.Context, string, domainauth.Credentials) (domainauth.Identity, error) {
		return domainauth.Identity{}, domainauth.NewAuthError(domainauth.CodeWrongPassword, nil)
	}

	_, err := f.store.SignIn(ctx, "ann@example.com", "nope")
	ae, ok := domainauth.IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, domainauth.CodeWrongPassword, ae.Code)

	snap := f.store.Snapshot()
	assert.Equal(t, domainauth.PhaseAnonymous, snap.Phase)
	assert.Empty(t, snap.Token)
}

func TestStore_SignInMintFailureIsTokenExchangeError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	f.provider.Emit(client, nil)

	f.minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").Return("", errors.New("503"))

	_, err := f.store.SignIn(ctx, "ann@example.com", "secret1")
	require.Error(t, err)
	assert.True(t, domainauth.IsTokenExchangeError(err))
	assert.Empty(t, f.store.Token())
	assert.Empty(t, f.persisted(t))

	snap := f.store.Snapshot()
	assert.Equal(t, domainauth.PhaseAnonymous, snap.Phase, "failed sign-in must not leave the client signed in")
	assert.False(t, snap.Authenticated())
	assert.Nil(t, snap.Identity)
	assert.Equal(t, 1, f.provider.SignOuts(), "provider session is rolled back")
}

func TestStore_SignInPersistFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mockauth.NewFakeIdentityProvider()
	tokens := mocks.NewMockTokenStore(ctrl)
	minter := mocks.NewMockTokenMinter(ctrl)
	s, err := NewStore(Config{ClientID: client, Provider: provider, Tokens: tokens, Minter: minter})
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	ctx := context.Background()
	tokens.EXPECT().Load(gomock.Any(), client).Return("", nil)
	tokens.EXPECT().Clear(gomock.Any(), client).Return(nil).AnyTimes()
	require.NoError(t, s.Init(ctx))
	provider.Emit(client, nil)

	minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").Return("tok-ann", nil)
	tokens.EXPECT().Save(gomock.Any(), client, "tok-ann").Return(errors.New("redis down"))

	_, err = s.SignIn(ctx, "ann@example.com", "secret1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist token")

	snap := s.Snapshot()
	assert.Equal(t, domainauth.PhaseAnonymous, snap.Phase)
	assert.Empty(t, snap.Token)
}

func TestStore_SignInMintFailureThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	f.provider.Emit(client, nil)

	gomock.InOrder(
		f.minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").Return("", errors.New("503")),
		f.minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").Return("tok-ann", nil),
	)

	_, err := f.store.SignIn(ctx, "ann@example.com", "secret1")
	require.Error(t, err)

	_, err = f.store.SignIn(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	snap := f.store.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "tok-ann", snap.Token)
	assert.Equal(t, "tok-ann", f.persisted(t))
}

func TestStore_SignUpAppliesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	f.provider.Emit(client, nil)

	f.minter.EXPECT().MintToken(gomock.Any(), "new@example.com").Return("tok-new", nil)

	id, err := f.store.SignUp(ctx, "new@example.com", "secret1", domainauth.Profile{DisplayName: "New Person"})
	require.NoError(t, err)
	assert.Equal(t, "New Person", id.DisplayName)

	snap := f.store.Snapshot()
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "New Person", snap.Identity.DisplayName)
	assert.Equal(t, "tok-new", snap.Token)
}

func TestStore_SignInWithFederated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	f.provider.Emit(client, nil)

	fed := mockauth.NewMockFederatedProvider().DefaultUser
	f.minter.EXPECT().MintToken(gomock.Any(), fed.Email).Return("tok-fed", nil)

	id, err := f.store.SignInWithFederated(ctx, fed)
	require.NoError(t, err)
	assert.Equal(t, fed.Email, id.Email)
	assert.Equal(t, "tok-fed", f.persisted(t))
}

func TestStore_SignOutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	f.provider.Emit(client, nil)

	f.minter.EXPECT().MintToken(gomock.Any(), gomock.Any()).Return("tok-1", nil)
	_, err := f.store.SignIn(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.store.SignOut(ctx))
	require.NoError(t, f.store.SignOut(ctx))
	assert.Equal(t, 2, f.provider.SignOuts())

	snap := f.store.Snapshot()
	assert.Equal(t, domainauth.PhaseAnonymous, snap.Phase)
	assert.Empty(t, snap.Token)
	assert.Empty(t, f.persisted(t))
}

func TestStore_SignOutClearFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenStore(ctrl)
	provider := mockauth.NewFakeIdentityProvider()
	s, err := NewStore(Config{
		ClientID: client,
		Provider: provider,
		Tokens:   tokens,
		Minter:   mocks.NewMockTokenMinter(ctrl),
	})
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	tokens.EXPECT().Load(gomock.Any(), client).Return("", errors.New("redis down"))
	require.NoError(t, s.Init(context.Background()), "load failure is not fatal")

	// Once from the provider's nil callback, once from SignOut itself.
	tokens.EXPECT().Clear(gomock.Any(), client).Return(nil)
	tokens.EXPECT().Clear(gomock.Any(), client).Return(errors.New("redis down"))
	require.Error(t, s.SignOut(context.Background()))
}

func TestStore_PasswordResetPassesThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var gotEmail, gotToken, gotPassword string
	f.provider.RequestPasswordResetFunc = func(_ context.Context, email string) error {
		gotEmail = email
		return nil
	}
	f.provider.ConfirmPasswordResetFunc = func(_ context.Context, token, pw string) error {
		gotToken, gotPassword = token, pw
		return domainauth.NewAuthError(domainauth.CodeInvalidResetToken, nil)
	}

	require.NoError(t, f.store.RequestPasswordReset(ctx, "ann@example.com"))
	assert.Equal(t, "ann@example.com", gotEmail)

	err := f.store.ConfirmPasswordReset(ctx, "tkn", "newpass")
	ae, ok := domainauth.IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, domainauth.CodeInvalidResetToken, ae.Code)
	assert.Equal(t, "tkn", gotToken)
	assert.Equal(t, "newpass", gotPassword)
}

func TestStore_DisposeStopsCallbacksAndOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Init(ctx))
	require.Equal(t, 1, f.provider.Listeners(client))

	f.store.Dispose()
	f.store.Dispose()
	assert.Equal(t, 0, f.provider.Listeners(client))

	id := mockauth.IdentityFor("ann@example.com")
	f.provider.Emit(client, &id)
	assert.True(t, f.store.Snapshot().Loading())

	_, err := f.store.SignIn(ctx, "ann@example.com", "secret1")
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, f.store.SignOut(ctx), ErrDisposed)
	assert.ErrorIs(t, f.store.Init(ctx), ErrDisposed)
}

func TestStore_ClientsAreIsolated(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mockauth.NewFakeIdentityProvider()
	tokens := memory.NewTokenStore()
	minter := mocks.NewMockTokenMinter(ctrl)
	minter.EXPECT().MintToken(gomock.Any(), "ann@example.com").Return("tok-a", nil)

	newStore := func(id string) *Store {
		s, err := NewStore(Config{ClientID: id, Provider: provider, Tokens: tokens, Minter: minter})
		require.NoError(t, err)
		require.NoError(t, s.Init(context.Background()))
		t.Cleanup(s.Dispose)
		return s
	}
	a := newStore("client-a")
	b := newStore("client-b")
	provider.Emit("client-a", nil)
	provider.Emit("client-b", nil)

	_, err := a.SignIn(context.Background(), "ann@example.com", "secret1")
	require.NoError(t, err)

	assert.True(t, a.Snapshot().Authenticated())
	assert.Equal(t, domainauth.PhaseAnonymous, b.Snapshot().Phase)
	assert.Empty(t, b.Token())
}

func TestStore_WaitReadyHonoursContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, f.store.WaitReady(ctx, time.Second))

	var wg sync.WaitGroup
	wg.Add(1)
	var ready bool
	go func() {
		defer wg.Done()
		ready = f.store.WaitReady(context.Background(), time.Second)
	}()
	f.provider.Emit(client, nil)
	wg.Wait()
	assert.True(t, ready)
}
