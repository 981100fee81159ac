package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/testutil"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.RedisClient(t)
}

func TestAuthStateStore_SaveAndGet(t *testing.T) {
	client := setupTestRedis(t)

	store := NewAuthStateStore(client)
	ctx := context.Background()

	st := domainauth.AuthState{
		ClientID:  "client-1",
		Identity:  domainauth.Identity{ID: "u-1", Email: "u@example.com", DisplayName: "U"},
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, store.Save(ctx, st))

	got, err := store.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, st.Identity, got.Identity)
	assert.WithinDuration(t, st.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestAuthStateStore_GetMissing(t *testing.T) {
	client := setupTestRedis(t)

	store := NewAuthStateStore(client)
	_, err := store.Get(context.Background(), "nobody")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = store.Get(context.Background(), "")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAuthStateStore_Delete(t *testing.T) {
	client := setupTestRedis(t)

	store := NewAuthStateStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domainauth.AuthState{
		ClientID:  "client-del",
		Identity:  domainauth.Identity{ID: "u"},
		ExpiresAt: time.Now().Add(time.Minute),
	}))
	require.NoError(t, store.Delete(ctx, "client-del"))

	_, err := store.Get(ctx, "client-del")
	assert.True(t, apperrors.IsNotFound(err))

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx, "client-del"))
}

func TestAuthStateStore_TTLExpiration(t *testing.T) {
	client := setupTestRedis(t)

	store := NewAuthStateStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domainauth.AuthState{
		ClientID:  "client-ttl",
		Identity:  domainauth.Identity{ID: "u"},
		ExpiresAt: time.Now().Add(100 * time.Millisecond),
	}))

	time.Sleep(200 * time.Millisecond)

	_, err := store.Get(ctx, "client-ttl")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAuthStateStore_SaveValidation(t *testing.T) {
	client := setupTestRedis(t)

	store := NewAuthStateStoreWithPrefix(client, "test-authstate:")
	ctx := context.Background()

	err := store.Save(ctx, domainauth.AuthState{ExpiresAt: time.Now().Add(time.Minute)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client ID cannot be empty")

	err = store.Save(ctx, domainauth.AuthState{ClientID: "c", ExpiresAt: time.Now().Add(-time.Hour)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth state is expired")

	require.NoError(t, store.Save(ctx, domainauth.AuthState{ClientID: "c", ExpiresAt: time.Now().Add(time.Minute)}))
	assert.Equal(t, int64(1), client.Exists(ctx, "test-authstate:c").Val())
}
