package devauth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

// SeedAccount is one development account parsed from configuration.
type SeedAccount struct {
	Email       string
	Password    string
	DisplayName string
}

// ParseAccounts parses "email:password[:name];..." entries. Blank entries are skipped.
func ParseAccounts(raw string) ([]SeedAccount, error) {
	var out []SeedAccount
	for entry := range strings.SplitSeq(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || parts[1] == "" {
			return nil, fmt.Errorf("dev auth account %q: want email:password[:name]", entry)
		}
		acct := SeedAccount{Email: strings.TrimSpace(parts[0]), Password: parts[1]}
		if len(parts) == 3 {
			acct.DisplayName = strings.TrimSpace(parts[2])
		}
		out = append(out, acct)
	}
	return out, nil
}

// Seed creates each account that does not exist yet. Existing accounts are left untouched.
func Seed(ctx context.Context, store ports.AccountStore, accounts []SeedAccount, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, a := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", a.Email, err)
		}
		_, err = store.Create(ctx, ports.Account{
			Email:        a.Email,
			PasswordHash: hash,
			DisplayName:  a.DisplayName,
		})
		switch {
		case err == nil:
			logger.InfoContext(ctx, "seeded dev account", "email", a.Email)
		case apperrors.IsConflict(err):
			logger.DebugContext(ctx, "dev account exists", "email", a.Email)
		default:
			return fmt.Errorf("seed account %s: %w", a.Email, err)
		}
	}
	return nil
}
