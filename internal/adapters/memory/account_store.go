package memory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
)

var _ ports.AccountStore = (*AccountStore)(nil)

type resetToken struct {
	hash      []byte
	expiresAt time.Time
}

// AccountStore is a mutex-guarded map of accounts keyed by ID.
// Emails are matched case-insensitively.
type AccountStore struct {
	mu       sync.Mutex
	byID     map[string]ports.Account
	emailIdx map[string]string
	resets   map[string]resetToken
	now      func() time.Time
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		byID:     make(map[string]ports.Account),
		emailIdx: make(map[string]string),
		resets:   make(map[string]resetToken),
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AccountStore) Create(_ context.Context, acct ports.Account) (ports.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeEmail(acct.Email)
	if key == "" {
		return ports.Account{}, apperrors.Validation("email is required")
	}
	if _, exists := s.emailIdx[key]; exists {
		return ports.Account{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeConflict,
			Message: "This value already exists.",
			Field:   "email",
		}
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = s.now()
	}
	acct.Email = key
	s.byID[acct.ID] = acct
	s.emailIdx[key] = acct.ID
	return acct, nil
}

func (s *AccountStore) GetByEmail(_ context.Context, email string) (ports.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emailIdx[normalizeEmail(email)]
	if !ok {
		return ports.Account{}, apperrors.NotFound("account not found")
	}
	return s.byID[id], nil
}

func (s *AccountStore) GetByID(_ context.Context, id string) (ports.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *AccountStore) getLocked(id string) (ports.Account, error) {
	acct, ok := s.byID[id]
	if !ok {
		return ports.Account{}, apperrors.NotFoundf("account %s not found", id)
	}
	return acct, nil
}

func (s *AccountStore) RecordFailure(_ context.Context, in ports.FailureInput) (ports.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, err := s.getLocked(in.AccountID)
	if err != nil {
		return ports.Account{}, err
	}
	acct.FailedAttempts++
	if in.MaxAttempts > 0 && acct.FailedAttempts >= in.MaxAttempts {
		acct.LockedUntil = in.Now.Add(in.LockFor)
		acct.FailedAttempts = 0
	}
	s.byID[acct.ID] = acct
	return acct, nil
}

func (s *AccountStore) ResetFailures(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, err := s.getLocked(accountID)
	if err != nil {
		return err
	}
	acct.FailedAttempts = 0
	acct.LockedUntil = time.Time{}
	s.byID[acct.ID] = acct
	return nil
}

func (s *AccountStore) UpdateProfile(
	_ context.Context,
	accountID string,
	profile domainauth.Profile,
) (ports.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, err := s.getLocked(accountID)
	if err != nil {
		return ports.Account{}, err
	}
	acct.DisplayName = profile.DisplayName
	acct.PhotoURL = profile.PhotoURL
	s.byID[acct.ID] = acct
	return acct, nil
}

func (s *AccountStore) UpdatePassword(_ context.Context, accountID string, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, err := s.getLocked(accountID)
	if err != nil {
		return err
	}
	acct.PasswordHash = append([]byte(nil), hash...)
	s.byID[acct.ID] = acct
	return nil
}

func (s *AccountStore) SetResetToken(_ context.Context, in ports.ResetTokenInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLocked(in.AccountID); err != nil {
		return err
	}
	s.resets[in.AccountID] = resetToken{hash: append([]byte(nil), in.TokenHash...), expiresAt: in.ExpiresAt}
	return nil
}

func (s *AccountStore) ConsumeResetToken(_ context.Context, tokenHash []byte, now time.Time) (ports.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rt := range s.resets {
		if !bytes.Equal(rt.hash, tokenHash) {
			continue
		}
		delete(s.resets, id)
		if now.After(rt.expiresAt) {
			break
		}
		return s.getLocked(id)
	}
	return ports.Account{}, apperrors.NotFound("reset token not found")
}
