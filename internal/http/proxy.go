package httpx

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

const apiPrefix = "/api"

// BackendProxy forwards /api/ calls to the backend with the client's bearer
// token. The browser's own cookies and Authorization header never reach it.
func BackendProxy(backend *url.URL, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, apiPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(backend)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			if store, ok := StoreFromContext(pr.In.Context()); ok {
				if tok := store.Token(); tok != "" {
					pr.Out.Header.Set("Authorization", "Bearer "+tok)
				}
			}
		},
		ErrorHandler: proxyErrorHandler(logger, "backend"),
	}
}

// ViewHandler serves an admitted protected view. With an SPA origin it
// proxies the page; otherwise it answers with a JSON descriptor of the view.
func ViewHandler(spa *url.URL, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if spa == nil {
		return http.HandlerFunc(viewDescriptor)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(spa)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
		},
		ErrorHandler: proxyErrorHandler(logger, "spa"),
	}
}

func viewDescriptor(w http.ResponseWriter, r *http.Request) {
	access, _ := AccessFromContext(r.Context())
	body := map[string]any{
		"view": r.URL.Path,
		"user": access.Identity,
	}
	if access.Role != "" {
		body["role"] = access.Role
	}
	WriteJSON(w, http.StatusOK, body)
}

func proxyErrorHandler(logger *slog.Logger, upstream string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if r.Context().Err() != nil {
			return
		}
		logger.WarnContext(r.Context(), "proxy upstream failed",
			"upstream", upstream,
			"path", r.URL.Path,
			"error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusBadGateway,
			ErrCode: "upstream_unavailable",
			Message: "The service is temporarily unavailable.",
		})
	}
}
