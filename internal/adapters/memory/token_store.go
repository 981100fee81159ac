package memory

import (
	"context"
	"sync"

	"github.com/edumanage/edugate/internal/ports"
)

var _ ports.TokenStore = (*TokenStore)(nil)

// TokenStore keeps bearer tokens per client in a map.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]string)}
}

// Load returns the stored token or "" when none is stored.
func (s *TokenStore) Load(_ context.Context, clientID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[clientID], nil
}

func (s *TokenStore) Save(_ context.Context, clientID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[clientID] = token
	return nil
}

func (s *TokenStore) Clear(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, clientID)
	return nil
}
