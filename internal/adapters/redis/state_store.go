package redis

// Package redis provides Redis-based storage adapters for the gate.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
)

// ErrNotFound is returned when no auth state is stored for a client.
var ErrNotFound = apperrors.NotFound("auth state not found")

// AuthStateStore persists the identity provider's per-client sign-in state.
// Entries expire with the state's ExpiresAt via Redis TTL.
type AuthStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewAuthStateStore creates a Redis-backed AuthStateStore using the "authstate:" prefix.
func NewAuthStateStore(client redis.UniversalClient) *AuthStateStore {
	return NewAuthStateStoreWithPrefix(client, "authstate:")
}

// NewAuthStateStoreWithPrefix creates an AuthStateStore with a custom key prefix.
func NewAuthStateStoreWithPrefix(client redis.UniversalClient, prefix string) *AuthStateStore {
	return &AuthStateStore{client: client, prefix: prefix}
}

func (s *AuthStateStore) Save(ctx context.Context, st domainauth.AuthState) error {
	if st.ClientID == "" {
		return errors.New("client ID cannot be empty")
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}

	var ttl time.Duration
	if !st.ExpiresAt.IsZero() {
		ttl = time.Until(st.ExpiresAt)
		if ttl <= 0 {
			return errors.New("auth state is expired")
		}
	}

	return s.client.Set(ctx, s.prefix+st.ClientID, data, ttl).Err()
}

func (s *AuthStateStore) Get(ctx context.Context, clientID string) (domainauth.AuthState, error) {
	if clientID == "" {
		return domainauth.AuthState{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+clientID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.AuthState{}, ErrNotFound
		}
		return domainauth.AuthState{}, fmt.Errorf("redis get: %w", err)
	}

	var st domainauth.AuthState
	if unmarshalErr := json.Unmarshal([]byte(data), &st); unmarshalErr != nil {
		return domainauth.AuthState{}, fmt.Errorf("unmarshal auth state: %w", unmarshalErr)
	}

	// TTL normally handles this; clock skew between nodes can leave a stale entry.
	if st.Expired(time.Now()) {
		if deleteErr := s.Delete(ctx, clientID); deleteErr != nil {
			return domainauth.AuthState{}, fmt.Errorf("cleanup expired auth state: %w", deleteErr)
		}
		return domainauth.AuthState{}, ErrNotFound
	}

	return st, nil
}

func (s *AuthStateStore) Delete(ctx context.Context, clientID string) error {
	if clientID == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+clientID).Err()
}
