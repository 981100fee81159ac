package httpx

import (
	"errors"
	"net/http"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/session"
)

const tokenExchangeMessage = "You are signed in, but the course service did not issue a session. Please try again."

// authStatus maps provider error codes to HTTP statuses.
func authStatus(code domainauth.AuthErrorCode) int {
	switch code {
	case domainauth.CodeTooManyRequests:
		return http.StatusTooManyRequests
	case domainauth.CodeEmailInUse:
		return http.StatusConflict
	case domainauth.CodeInvalidCredentials,
		domainauth.CodeUserNotFound,
		domainauth.CodeWrongPassword,
		domainauth.CodeFederatedFailed:
		return http.StatusUnauthorized
	case domainauth.CodeWeakPassword,
		domainauth.CodeInvalidEmail,
		domainauth.CodeInvalidResetToken:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeSessionError renders an error returned by a session store operation.
// Auth and token exchange errors carry user-facing messages for the toast.
func writeSessionError(w http.ResponseWriter, err error) {
	if ae, ok := domainauth.IsAuthError(err); ok {
		WriteError(w, ErrorParams{Code: authStatus(ae.Code), ErrCode: string(ae.Code), Message: ae.Message()})
		return
	}
	if domainauth.IsTokenExchangeError(err) {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadGateway,
			ErrCode: "token_exchange_failed",
			Message: tokenExchangeMessage,
		})
		return
	}
	if errors.Is(err, session.ErrDisposed) || errors.Is(err, session.ErrManagerClosed) {
		WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "session_unavailable", Err: err})
		return
	}
	WriteError(w, ErrorParams{
		Code:    http.StatusInternalServerError,
		ErrCode: string(domainauth.CodeInternal),
		Message: (&domainauth.AuthError{Code: domainauth.CodeInternal}).Message(),
	})
}
