package auth

import (
	"errors"
	"fmt"
)

// AuthErrorCode is a provider-reported failure reason for credential operations.
type AuthErrorCode string

const (
	CodeInvalidCredentials AuthErrorCode = "invalid-credentials"
	CodeUserNotFound       AuthErrorCode = "user-not-found"
	CodeWrongPassword      AuthErrorCode = "wrong-password"
	CodeEmailInUse         AuthErrorCode = "email-already-in-use"
	CodeWeakPassword       AuthErrorCode = "weak-password"
	CodeInvalidEmail       AuthErrorCode = "invalid-email"
	CodeTooManyRequests    AuthErrorCode = "too-many-requests"
	CodeInvalidResetToken  AuthErrorCode = "invalid-reset-token"
	CodeFederatedFailed    AuthErrorCode = "federated-failed"
	CodeInternal           AuthErrorCode = "internal"
)

var codeMessages = map[AuthErrorCode]string{
	CodeInvalidCredentials: "Invalid email or password.",
	CodeUserNotFound:       "No account found with this email.",
	CodeWrongPassword:      "Incorrect password. Please try again.",
	CodeEmailInUse:         "An account with this email already exists.",
	CodeWeakPassword:       "Password should be at least 6 characters.",
	CodeInvalidEmail:       "Please enter a valid email address.",
	CodeTooManyRequests:    "Too many attempts. Please try again later.",
	CodeInvalidResetToken:  "This password reset link is invalid or has expired.",
	CodeFederatedFailed:    "Sign-in with the external provider failed.",
	CodeInternal:           "Something went wrong. Please try again.",
}

// AuthError is raised by the identity provider during credential operations.
// It is always surfaced to the user and never retried automatically.
type AuthError struct {
	Code AuthErrorCode
	Err  error
}

// NewAuthError builds an AuthError for code, wrapping an optional cause.
func NewAuthError(code AuthErrorCode, cause error) *AuthError {
	return &AuthError{Code: code, Err: cause}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Code, e.Err)
	}
	return "auth " + string(e.Code)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message returns the user-facing text for the error code.
func (e *AuthError) Message() string {
	if msg, ok := codeMessages[e.Code]; ok {
		return msg
	}
	return codeMessages[CodeInternal]
}

// TokenExchangeError is raised when the backend refuses to mint a bearer token.
type TokenExchangeError struct {
	Email string
	Err   error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange for %s: %v", e.Email, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// RoleFetchError is raised when the authoritative role cannot be resolved.
// It is transient and retryable, unlike a forbidden outcome.
type RoleFetchError struct {
	IdentityID string
	Err        error
}

func (e *RoleFetchError) Error() string {
	return fmt.Sprintf("resolve role for %s: %v", e.IdentityID, e.Err)
}

func (e *RoleFetchError) Unwrap() error { return e.Err }

// IsAuthError reports whether err wraps an AuthError and returns it.
func IsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsTokenExchangeError reports whether err wraps a TokenExchangeError.
func IsTokenExchangeError(err error) bool {
	var te *TokenExchangeError
	return errors.As(err, &te)
}

// IsRoleFetchError reports whether err wraps a RoleFetchError.
func IsRoleFetchError(err error) bool {
	var re *RoleFetchError
	return errors.As(err, &re)
}
