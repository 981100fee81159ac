package httpx

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
	"github.com/edumanage/edugate/internal/domain/guard"
)

//go:embed templates/*.html
var templateFS embed.FS

// Views renders the gate's own pages. Each outcome kind gets its own
// template so error and forbidden markup never share a page.
type Views struct {
	pages  map[guard.Kind]*template.Template
	logger *slog.Logger
}

// viewData is the data handed to every gate page.
type viewData struct {
	Kind     string
	Title    string
	Refresh  int
	Role     domainauth.Role
	Required domainauth.Role
	Retry    string
}

var pageFiles = map[guard.Kind]struct{ file, title string }{
	guard.KindLoading:   {"templates/loading.html", "Loading"},
	guard.KindForbidden: {"templates/forbidden.html", "Access denied"},
	guard.KindRoleError: {"templates/role_error.html", "Something went wrong"},
}

// NewViews parses the embedded gate templates.
func NewViews(logger *slog.Logger) (*Views, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Views{pages: make(map[guard.Kind]*template.Template, len(pageFiles)), logger: logger}
	for kind, page := range pageFiles {
		t, err := template.ParseFS(templateFS, "templates/layout.html", page.file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page.file, err)
		}
		v.pages[kind] = t
	}
	return v, nil
}

// MustViews is NewViews for the embedded templates, which are known to parse.
func MustViews(logger *slog.Logger) *Views {
	v, err := NewViews(logger)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Views) render(w http.ResponseWriter, r *http.Request, status int, data viewData) {
	t, ok := v.pages[guard.Kind(data.Kind)]
	if !ok {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if data.Title == "" {
		data.Title = pageFiles[guard.Kind(data.Kind)].title
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		v.logger.ErrorContext(r.Context(), "render gate view", "kind", data.Kind, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
