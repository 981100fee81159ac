package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edumanage/edugate/internal/data/pgxutil"
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ ports.AccountStore = (*AccountRepo)(nil)

const accountColumns = `id::text AS id, email, password_hash, display_name, photo_url,
	failed_attempts, locked_until, created_at`

// accountRow mirrors the accounts table for pgx.RowToStructByName.
type accountRow struct {
	ID             string     `db:"id"`
	Email          string     `db:"email"`
	PasswordHash   []byte     `db:"password_hash"`
	DisplayName    string     `db:"display_name"`
	PhotoURL       string     `db:"photo_url"`
	FailedAttempts int        `db:"failed_attempts"`
	LockedUntil    *time.Time `db:"locked_until"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (r accountRow) toAccount() ports.Account {
	acct := ports.Account{
		ID:             r.ID,
		Email:          r.Email,
		PasswordHash:   r.PasswordHash,
		DisplayName:    r.DisplayName,
		PhotoURL:       r.PhotoURL,
		FailedAttempts: r.FailedAttempts,
		CreatedAt:      r.CreatedAt,
	}
	if r.LockedUntil != nil {
		acct.LockedUntil = *r.LockedUntil
	}
	return acct
}

// AccountRepo persists local identity-provider accounts in Postgres.
type AccountRepo struct {
	DB  *sql.DB
	now func() time.Time
}

// NewAccountRepo creates an AccountRepo on the wall clock.
func NewAccountRepo(db *sql.DB) *AccountRepo {
	return NewAccountRepoWithClock(db, time.Now)
}

// NewAccountRepoWithClock creates an AccountRepo that stamps rows with now().
func NewAccountRepoWithClock(db *sql.DB, now func() time.Time) *AccountRepo {
	return &AccountRepo{DB: db, now: now}
}

// Create inserts acct. A duplicate email yields a conflict on field "email".
func (r *AccountRepo) Create(ctx context.Context, acct ports.Account) (ports.Account, error) {
	email := strings.ToLower(strings.TrimSpace(acct.Email))
	if email == "" {
		return ports.Account{}, apperrors.Validation("email is required")
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}

	out, err := r.queryOne(ctx, `
		INSERT INTO accounts (id, email, password_hash, display_name, photo_url, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $6)
		RETURNING `+accountColumns,
		acct.ID, email, acct.PasswordHash, acct.DisplayName, acct.PhotoURL, createdAt,
	)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsConflict(mapped) {
			return ports.Account{}, &apperrors.AppError{
				Code:    apperrors.ErrCodeConflict,
				Message: "An account with this email already exists.",
				Field:   "email",
				Cause:   err,
			}
		}
		return ports.Account{}, fmt.Errorf("create account: %w", mapped)
	}
	return out, nil
}

// GetByEmail looks an account up by case-insensitive email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (ports.Account, error) {
	out, err := r.queryOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	)
	if err != nil {
		return ports.Account{}, r.mapReadErr(err, "account not found")
	}
	return out, nil
}

// GetByID looks an account up by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (ports.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ports.Account{}, apperrors.NotFoundf("account %s not found", id)
	}
	out, err := r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1::uuid`, id)
	if err != nil {
		return ports.Account{}, r.mapReadErr(err, "account "+id+" not found")
	}
	return out, nil
}

// RecordFailure counts a failed sign-in. Reaching MaxAttempts locks the
// account until Now+LockFor and restarts the counter.
func (r *AccountRepo) RecordFailure(ctx context.Context, in ports.FailureInput) (ports.Account, error) {
	lockedUntil := in.Now.Add(in.LockFor).UTC()
	out, err := r.queryOne(ctx, `
		UPDATE accounts SET
			failed_attempts = CASE WHEN $2 > 0 AND failed_attempts + 1 >= $2 THEN 0 ELSE failed_attempts + 1 END,
			locked_until    = CASE WHEN $2 > 0 AND failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
			updated_at      = $4
		WHERE id = $1::uuid
		RETURNING `+accountColumns,
		in.AccountID, in.MaxAttempts, lockedUntil, r.now().UTC(),
	)
	if err != nil {
		return ports.Account{}, r.mapReadErr(err, "account "+in.AccountID+" not found")
	}
	return out, nil
}

// ResetFailures clears the failure counter and any lockout.
func (r *AccountRepo) ResetFailures(ctx context.Context, accountID string) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1::uuid`,
		accountID, r.now().UTC(),
	)
}

// UpdateProfile sets the display name and photo URL.
func (r *AccountRepo) UpdateProfile(
	ctx context.Context,
	accountID string,
	profile domainauth.Profile,
) (ports.Account, error) {
	out, err := r.queryOne(ctx, `
		UPDATE accounts SET display_name = $2, photo_url = $3, updated_at = $4
		WHERE id = $1::uuid
		RETURNING `+accountColumns,
		accountID, profile.DisplayName, profile.PhotoURL, r.now().UTC(),
	)
	if err != nil {
		return ports.Account{}, r.mapReadErr(err, "account "+accountID+" not found")
	}
	return out, nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepo) UpdatePassword(ctx context.Context, accountID string, hash []byte) error {
	return r.exec(ctx, accountID, `
		UPDATE accounts SET password_hash = $2, updated_at = $3
		WHERE id = $1::uuid`,
		accountID, hash, r.now().UTC(),
	)
}

// SetResetToken stores the hash of a reset token, replacing any previous one.
// Expired tokens of every account are purged in the same transaction.
func (r *AccountRepo) SetResetToken(ctx context.Context, in ports.ResetTokenInput) error {
	now := r.now().UTC()
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO password_resets (account_id, token_hash, expires_at, created_at)
				VALUES ($1::uuid, $2, $3, $4)
				ON CONFLICT (account_id) DO UPDATE
				SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
				in.AccountID, in.TokenHash, in.ExpiresAt.UTC(), now,
			)
			return err
		},
	})
	if err != nil {
		return fmt.Errorf("set reset token: %w", apperrors.MapDBError(err))
	}
	return nil
}

// ConsumeResetToken deletes the token row and returns its account when the
// token has not expired. The row is deleted either way; an expired token is
// reported as not found.
func (r *AccountRepo) ConsumeResetToken(
	ctx context.Context,
	tokenHash []byte,
	now time.Time,
) (ports.Account, error) {
	out, err := r.queryOne(ctx, `
		WITH consumed AS (
			DELETE FROM password_resets WHERE token_hash = $1
			RETURNING account_id, expires_at
		)
		SELECT `+accountColumns+`
		FROM accounts JOIN consumed ON consumed.account_id = accounts.id
		WHERE consumed.expires_at > $2`,
		tokenHash, now.UTC(),
	)
	if err != nil {
		return ports.Account{}, r.mapReadErr(err, "reset token not found")
	}
	return out, nil
}

func (r *AccountRepo) queryOne(ctx context.Context, query string, args ...any) (ports.Account, error) {
	var out accountRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[accountRow])
		return err
	})
	if err != nil {
		return ports.Account{}, err
	}
	return out.toAccount(), nil
}

func (r *AccountRepo) exec(ctx context.Context, accountID, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("account %s not found", accountID)
	}
	return nil
}

func (r *AccountRepo) mapReadErr(err error, notFoundMsg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(notFoundMsg)
	}
	return apperrors.MapDBError(err)
}
