package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TokenKey is the fixed storage key of the bearer token within a client's namespace.
const TokenKey = "access-token"

// TokenStore persists bearer tokens at "<prefix><clientID>:access-token".
type TokenStore struct {
	client redis.UniversalClient
	prefix string
}

// NewTokenStore creates a Redis-backed TokenStore using the "client:" prefix.
func NewTokenStore(client redis.UniversalClient) *TokenStore {
	return NewTokenStoreWithPrefix(client, "client:")
}

// NewTokenStoreWithPrefix creates a TokenStore with a custom key prefix.
func NewTokenStoreWithPrefix(client redis.UniversalClient, prefix string) *TokenStore {
	return &TokenStore{client: client, prefix: prefix}
}

func (s *TokenStore) key(clientID string) string {
	return s.prefix + clientID + ":" + TokenKey
}

// Load returns the stored token, or "" when nothing is stored.
func (s *TokenStore) Load(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		return "", nil
	}
	tok, err := s.client.Get(ctx, s.key(clientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get token: %w", err)
	}
	return tok, nil
}

func (s *TokenStore) Save(ctx context.Context, clientID, token string) error {
	if clientID == "" {
		return errors.New("client ID cannot be empty")
	}
	if token == "" {
		return errors.New("token cannot be empty")
	}
	return s.client.Set(ctx, s.key(clientID), token, 0).Err()
}

// Clear removes the token. Deleting a missing key is not an error.
func (s *TokenStore) Clear(ctx context.Context, clientID string) error {
	if clientID == "" {
		return nil
	}
	return s.client.Del(ctx, s.key(clientID)).Err()
}
