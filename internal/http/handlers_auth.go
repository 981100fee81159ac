package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/service"
	"github.com/edumanage/edugate/internal/session"
)

// FederatedService begins and completes redirect-based sign-in.
// *service.FederatedLogin implements it.
type FederatedService interface {
	BeginLogin(ctx context.Context, redirectURL string) (*service.BeginLoginResult, error)
	CompleteLogin(ctx context.Context, input service.CompleteLoginInput) (domainauth.Identity, error)
}

// AuthHandlers provides HTTP handlers for authentication operations.
// Every handler runs behind ClientSession and acts on that client's store.
type AuthHandlers struct {
	Federated FederatedService // Optional; federated routes answer 404 when nil
	Cookies   CookieOptions
	Logger    *slog.Logger
}

const (
	oauthStateCookie    = "oauth_state"
	oauthNonceCookie    = "oauth_nonce"
	postLoginCookie     = "post_login_redirect"
	oauthCookieLifetime = 10 * time.Minute
)

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// SignUp creates an account and signs the client in.
// POST /auth/signup.
func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var req signUpRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	id, err := store.SignUp(r.Context(), req.Email, req.Password, domainauth.Profile{
		DisplayName: req.DisplayName,
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		h.logFailure(r, "sign up", err)
		writeSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"user": id})
}

// SignIn signs the client in with email and password.
// POST /auth/signin.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var req signInRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	id, err := store.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure(r, "sign in", err)
		writeSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"user": id})
}

// SignOut signs the client out. Signing out twice is not an error.
// POST /auth/signout.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := store.SignOut(r.Context()); err != nil {
		h.logFailure(r, "sign out", err)
		writeSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out", "redirect_to": "/"})
}

// RequestPasswordReset sends a reset link. The answer does not reveal
// whether the email belongs to an account.
// POST /auth/password-reset.
func (h *AuthHandlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := store.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.logFailure(r, "request password reset", err)
		writeSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// ConfirmPasswordReset sets a new password from a reset token.
// POST /auth/password-reset/confirm.
func (h *AuthHandlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var req resetConfirmRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := store.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		h.logFailure(r, "confirm password reset", err)
		writeSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
}

// Status reports the client's session phase.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	st := store.Snapshot()
	body := map[string]any{
		"state":         string(st.Phase),
		"token_present": st.Token != "",
	}
	if st.Authenticated() {
		body["user"] = st.Identity
	}
	WriteJSON(w, http.StatusOK, body)
}

// BeginFederated starts the external IdP flow.
// GET /auth/federated?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) BeginFederated(w http.ResponseWriter, r *http.Request) {
	if h.Federated == nil {
		writeFederatedDisabled(w)
		return
	}
	redirectURI := safeRedirectPath(r.URL.Query().Get("redirect_uri"))

	result, err := h.Federated.BeginLogin(r.Context(), redirectURI)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin federated login", "error", err)
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "login_failed", Err: err})
		return
	}

	h.setCookie(w, r, oauthStateCookie, result.State)
	h.setCookie(w, r, oauthNonceCookie, result.Nonce)
	h.setCookie(w, r, postLoginCookie, redirectURI)
	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

// Callback completes the external IdP flow and signs the client in.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	if h.Federated == nil {
		writeFederatedDisabled(w)
		return
	}
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_state",
			Err:     errors.New("invalid or missing state parameter"),
		})
		return
	}
	nonce := ""
	if c, cerr := r.Cookie(oauthNonceCookie); cerr == nil {
		nonce = c.Value
	}

	identity, err := h.Federated.CompleteLogin(r.Context(), service.CompleteLoginInput{
		Code:  code,
		State: state,
		Nonce: nonce,
	})
	if err == nil {
		_, err = store.SignInWithFederated(r.Context(), identity)
	}
	h.clearCookie(w, r, oauthStateCookie)
	h.clearCookie(w, r, oauthNonceCookie)
	if err != nil {
		h.logFailure(r, "federated sign in", err)
		writeSessionError(w, err)
		return
	}

	redirectURI := "/"
	if c, cerr := r.Cookie(postLoginCookie); cerr == nil {
		redirectURI = safeRedirectPath(c.Value)
	}
	h.clearCookie(w, r, postLoginCookie)
	http.Redirect(w, r, redirectURI, http.StatusSeeOther)
}

func (h *AuthHandlers) store(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	s, ok := StoreFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "session_unavailable",
			Message: "Session service is unavailable. Please try again.",
		})
	}
	return s, ok
}

// logFailure logs provider-reported failures at INFO and everything else at ERROR.
func (h *AuthHandlers) logFailure(r *http.Request, op string, err error) {
	if _, ok := domainauth.IsAuthError(err); ok {
		h.logger().InfoContext(r.Context(), op+" rejected", "error", err)
		return
	}
	h.logger().ErrorContext(r.Context(), op+" failed", "error", err)
}

func writeFederatedDisabled(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusNotFound,
		ErrCode: "federated_disabled",
		Message: "Federated sign-in is not configured.",
	})
}

func (h *AuthHandlers) setCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.Cookies.Domain,
		HttpOnly: true,
		Secure:   h.Cookies.secure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthCookieLifetime.Seconds()),
	})
}

// clearCookie mirrors the attributes used when setting the cookie so
// browsers accept the deletion.
func (h *AuthHandlers) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.Cookies.Domain,
		HttpOnly: true,
		Secure:   h.Cookies.secure(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}
