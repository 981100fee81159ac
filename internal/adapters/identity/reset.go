package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
)

// RequestPasswordReset issues a single-use reset token for email and mails the link.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	acct, err := p.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domainauth.NewAuthError(domainauth.CodeUserNotFound, nil)
		}
		return internalErr("get account", err)
	}

	token, err := newResetToken()
	if err != nil {
		return internalErr("generate reset token", err)
	}
	sum := sha256.Sum256([]byte(token))
	if setErr := p.accounts.SetResetToken(ctx, ports.ResetTokenInput{
		AccountID: acct.ID,
		TokenHash: sum[:],
		ExpiresAt: p.now().Add(p.resetTTL),
	}); setErr != nil {
		return internalErr("store reset token", setErr)
	}

	if p.mailer == nil {
		return internalErr("send reset email", errors.New("no mailer configured"))
	}
	if mailErr := p.mailer.SendPasswordReset(ctx, acct.Email, p.resetLink(token)); mailErr != nil {
		return internalErr("send reset email", mailErr)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a token from RequestPasswordReset.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	hash, err := HashPassword(newPassword, p.cost)
	if err != nil {
		return err
	}
	if token == "" {
		return domainauth.NewAuthError(domainauth.CodeInvalidResetToken, nil)
	}

	sum := sha256.Sum256([]byte(token))
	acct, err := p.accounts.ConsumeResetToken(ctx, sum[:], p.now())
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domainauth.NewAuthError(domainauth.CodeInvalidResetToken, nil)
		}
		return internalErr("consume reset token", err)
	}

	if updErr := p.accounts.UpdatePassword(ctx, acct.ID, hash); updErr != nil {
		return internalErr("update password", updErr)
	}
	if resetErr := p.accounts.ResetFailures(ctx, acct.ID); resetErr != nil {
		p.logger.WarnContext(ctx, "reset failed attempts", "account_id", acct.ID, "error", resetErr)
	}
	return nil
}

func (p *Provider) resetLink(token string) string {
	base := p.resetURL
	if base == "" {
		base = "/reset-password"
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
