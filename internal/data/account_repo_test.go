package data

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
	"github.com/edumanage/edugate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountRepo(t *testing.T) (*AccountRepo, time.Time) {
	t.Helper()
	db := testutil.PostgresDB(t)
	now := testutil.TestTime()
	return NewAccountRepoWithClock(db, func() time.Time { return now }), now
}

func TestAccountRepo_CreateAndGet(t *testing.T) {
	repo, _ := newTestAccountRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, ports.Account{
		Email:        "Student@Example.com",
		PasswordHash: []byte("hash"),
		DisplayName:  "Stu",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "student@example.com", created.Email)
	assert.Equal(t, []byte("hash"), created.PasswordHash)

	byEmail, err := repo.GetByEmail(ctx, "STUDENT@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Stu", byID.DisplayName)
}

func TestAccountRepo_DuplicateEmailIsConflict(t *testing.T) {
	repo, _ := newTestAccountRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, ports.Account{Email: "dup@example.com"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, ports.Account{Email: "DUP@example.com"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, "email", apperrors.GetField(err))
}

func TestAccountRepo_MissingAccountIsNotFound(t *testing.T) {
	repo, _ := newTestAccountRepo(t)
	ctx := context.Background()

	_, err := repo.GetByEmail(ctx, "nobody@example.com")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = repo.GetByID(ctx, "not-a-uuid")
	assert.True(t, apperrors.IsNotFound(err))

	err = repo.ResetFailures(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAccountRepo_RecordFailureLocksAtThreshold(t *testing.T) {
	repo, now := newTestAccountRepo(t)
	ctx := context.Background()

	acct, err := repo.Create(ctx, ports.Account{Email: "lock@example.com"})
	require.NoError(t, err)

	in := ports.FailureInput{AccountID: acct.ID, MaxAttempts: 3, LockFor: 10 * time.Minute, Now: now}
	for i := 1; i < 3; i++ {
		got, err := repo.RecordFailure(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, i, got.FailedAttempts)
		assert.True(t, got.LockedUntil.IsZero())
	}

	got, err := repo.RecordFailure(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedAttempts)
	assert.True(t, got.LockedUntil.Equal(now.Add(10*time.Minute)))

	require.NoError(t, repo.ResetFailures(ctx, acct.ID))
	got, err = repo.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.LockedUntil.IsZero())
}

func TestAccountRepo_UpdateProfileAndPassword(t *testing.T) {
	repo, _ := newTestAccountRepo(t)
	ctx := context.Background()

	acct, err := repo.Create(ctx, ports.Account{Email: "p@example.com"})
	require.NoError(t, err)

	updated, err := repo.UpdateProfile(ctx, acct.ID, domainauth.Profile{DisplayName: "Pat", PhotoURL: "https://img/p.png"})
	require.NoError(t, err)
	assert.Equal(t, "Pat", updated.DisplayName)
	assert.Equal(t, "https://img/p.png", updated.PhotoURL)

	require.NoError(t, repo.UpdatePassword(ctx, acct.ID, []byte("new-hash")))
	got, err := repo.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new-hash"), got.PasswordHash)
}

func TestAccountRepo_ResetTokenSingleUse(t *testing.T) {
	repo, now := newTestAccountRepo(t)
	ctx := context.Background()

	acct, err := repo.Create(ctx, ports.Account{Email: "reset@example.com"})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("token"))
	require.NoError(t, repo.SetResetToken(ctx, ports.ResetTokenInput{
		AccountID: acct.ID,
		TokenHash: sum[:],
		ExpiresAt: now.Add(time.Hour),
	}))

	got, err := repo.ConsumeResetToken(ctx, sum[:], now)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = repo.ConsumeResetToken(ctx, sum[:], now)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAccountRepo_ExpiredResetToken(t *testing.T) {
	repo, now := newTestAccountRepo(t)
	ctx := context.Background()

	acct, err := repo.Create(ctx, ports.Account{Email: "late@example.com"})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("late"))
	require.NoError(t, repo.SetResetToken(ctx, ports.ResetTokenInput{
		AccountID: acct.ID,
		TokenHash: sum[:],
		ExpiresAt: now.Add(time.Minute),
	}))

	_, err = repo.ConsumeResetToken(ctx, sum[:], now.Add(2*time.Minute))
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, 0, countResetTokens(t, repo, acct.ID), "expired token is purged when presented")
}

func TestAccountRepo_SetResetTokenPurgesExpired(t *testing.T) {
	repo, now := newTestAccountRepo(t)
	ctx := context.Background()

	stale, err := repo.Create(ctx, ports.Account{Email: "stale@example.com"})
	require.NoError(t, err)
	fresh, err := repo.Create(ctx, ports.Account{Email: "fresh@example.com"})
	require.NoError(t, err)

	staleSum := sha256.Sum256([]byte("stale"))
	require.NoError(t, repo.SetResetToken(ctx, ports.ResetTokenInput{
		AccountID: stale.ID,
		TokenHash: staleSum[:],
		ExpiresAt: now.Add(-time.Minute),
	}))
	freshSum := sha256.Sum256([]byte("fresh"))
	require.NoError(t, repo.SetResetToken(ctx, ports.ResetTokenInput{
		AccountID: fresh.ID,
		TokenHash: freshSum[:],
		ExpiresAt: now.Add(time.Hour),
	}))

	assert.Equal(t, 0, countResetTokens(t, repo, stale.ID))
	assert.Equal(t, 1, countResetTokens(t, repo, fresh.ID))
}

func countResetTokens(t *testing.T, repo *AccountRepo, accountID string) int {
	t.Helper()
	var n int
	require.NoError(t, repo.DB.QueryRowContext(context.Background(),
		`SELECT count(*) FROM password_resets WHERE account_id = $1::uuid`, accountID,
	).Scan(&n))
	return n
}
