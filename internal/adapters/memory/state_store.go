package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
)

var _ ports.AuthStateStore = (*AuthStateStore)(nil)

// AuthStateStore keeps identity provider auth state per client.
type AuthStateStore struct {
	mu     sync.Mutex
	states map[string]domainauth.AuthState
	now    func() time.Time
}

// NewAuthStateStore creates an empty AuthStateStore.
func NewAuthStateStore() *AuthStateStore {
	return NewAuthStateStoreWithClock(time.Now)
}

// NewAuthStateStoreWithClock creates an AuthStateStore that judges expiry against now.
func NewAuthStateStoreWithClock(now func() time.Time) *AuthStateStore {
	return &AuthStateStore{states: make(map[string]domainauth.AuthState), now: now}
}

func (s *AuthStateStore) Save(_ context.Context, st domainauth.AuthState) error {
	if st.ClientID == "" {
		return errors.New("client ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ClientID] = st
	return nil
}

// Get returns the state for clientID; expired entries are dropped and reported as not found.
func (s *AuthStateStore) Get(_ context.Context, clientID string) (domainauth.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[clientID]
	if !ok {
		return domainauth.AuthState{}, apperrors.NotFound("auth state not found")
	}
	if st.Expired(s.now()) {
		delete(s.states, clientID)
		return domainauth.AuthState{}, apperrors.NotFound("auth state not found")
	}
	return st, nil
}

func (s *AuthStateStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, clientID)
	return nil
}
