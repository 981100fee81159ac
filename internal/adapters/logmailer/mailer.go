// Package logmailer implements ports.Mailer by writing messages to the log.
// It stands in for a real mail relay in development and mock mode.
package logmailer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/edumanage/edugate/internal/ports"
)

var _ ports.Mailer = (*Mailer)(nil)

// Mailer logs outgoing mail at INFO level.
type Mailer struct {
	logger *slog.Logger
}

// New returns a Mailer writing to logger (slog.Default when nil).
func New(logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{logger: logger.With("component", "mailer")}
}

func (m *Mailer) SendPasswordReset(ctx context.Context, email, link string) error {
	if email == "" {
		return errors.New("recipient email is required")
	}
	m.logger.InfoContext(ctx, "password reset email", "to", email, "link", link)
	return nil
}
