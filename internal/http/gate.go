package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/domain/guard"
	"github.com/edumanage/edugate/internal/service"
)

// GuardEvaluator decides a protected route for a session snapshot.
// *service.Guard implements it.
type GuardEvaluator interface {
	Evaluate(ctx context.Context, state domainauth.State, req service.Requirement) (guard.Outcome, error)
}

// GateOptions groups dependencies for Gate.
type GateOptions struct {
	Guard GuardEvaluator // Required
	// InitWait bounds how long a request waits for the client's first
	// identity callback before the loading view is served.
	InitWait time.Duration
	Views    *Views       // Optional; embedded pages by default
	Logger   *slog.Logger // Optional
}

// loadingRetryAfter is the client poll interval while a session is loading.
const loadingRetryAfter = "1"

// Gate returns a middleware that admits a request to a protected view only
// when the guard allows it. required is empty for routes open to any
// signed-in user.
func Gate(opts GateOptions, required domainauth.Role) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	views := opts.Views
	if views == nil {
		views = MustViews(logger)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store, ok := StoreFromContext(r.Context())
			if !ok {
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "session_unavailable",
					Message: "Session service is unavailable. Please try again.",
				})
				return
			}

			store.WaitReady(r.Context(), opts.InitWait)
			from := redirectPathForRequest(r)
			out, err := opts.Guard.Evaluate(r.Context(), store.Snapshot(), service.Requirement{
				Path: from,
				Role: required,
			})
			if err != nil {
				// The client went away; nothing to render.
				logger.DebugContext(r.Context(), "gate evaluation abandoned", "path", r.URL.Path, "error", err)
				return
			}

			switch out.Kind {
			case guard.KindAllow:
				access := Access{Role: out.Role}
				if out.Identity != nil {
					access.Identity = *out.Identity
				}
				next.ServeHTTP(w, r.WithContext(withAccess(r.Context(), access)))
			case guard.KindLoading:
				renderLoading(w, r, views)
			case guard.KindRedirect:
				renderRedirect(w, r, out.From)
			case guard.KindRoleError:
				renderRoleError(w, r, views)
			case guard.KindForbidden:
				renderForbidden(w, r, views, out)
			default:
				logger.ErrorContext(r.Context(), "unknown gate outcome", "kind", out.Kind.String())
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		})
	}
}

func renderLoading(w http.ResponseWriter, r *http.Request, views *Views) {
	w.Header().Set("Retry-After", loadingRetryAfter)
	if !IsBrowserRequest(r) {
		WriteJSON(w, http.StatusAccepted, map[string]string{"state": guard.KindLoading.String()})
		return
	}
	views.render(w, r, http.StatusOK, viewData{Kind: guard.KindLoading.String(), Refresh: 1})
}

func renderRedirect(w http.ResponseWriter, r *http.Request, from string) {
	if !IsBrowserRequest(r) {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{
			"error":     "authentication_required",
			"message":   "Please sign in to continue.",
			"login_url": loginURL(from),
		})
		return
	}
	redirectToLogin(w, r, from)
}

func renderRoleError(w http.ResponseWriter, r *http.Request, views *Views) {
	if !IsBrowserRequest(r) {
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "role_fetch_failed",
			Message: "Could not verify your access. Please try again.",
		})
		return
	}
	views.render(w, r, http.StatusServiceUnavailable, viewData{
		Kind:  guard.KindRoleError.String(),
		Retry: safeRedirectPath(r.URL.RequestURI()),
	})
}

func renderForbidden(w http.ResponseWriter, r *http.Request, views *Views, out guard.Outcome) {
	if !IsBrowserRequest(r) {
		WriteJSON(w, http.StatusForbidden, map[string]string{
			"error":    "forbidden",
			"message":  "You do not have access to this page.",
			"role":     string(out.Role),
			"required": string(out.Required),
		})
		return
	}
	views.render(w, r, http.StatusForbidden, viewData{
		Kind:     guard.KindForbidden.String(),
		Role:     out.Role,
		Required: out.Required,
	})
}
