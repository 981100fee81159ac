package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domainauth "github.com/edumanage/edugate/internal/domain/auth"
)

const defaultGateRoutes = "/dashboard=any;/student-dashboard=student;/teacher-dashboard=teacher;/admin-dashboard=admin"

// reservedPrefixes are served by the gate itself and cannot be protected views.
var reservedPrefixes = []string{"/login", "/auth", "/api", "/healthz", "/readyz"}

// GateConfig configures the route guard.
type GateConfig struct {
	// InitWait is how long a request waits for a new session to finish
	// loading before the loading view is served.
	InitWait time.Duration `env:"GATE_INIT_WAIT" envDefault:"300ms"`

	// Routes lists protected path prefixes as "path=role;..." where role is
	// student, teacher, admin or any.
	Routes string `env:"GATE_ROUTES" envDefault:"/dashboard=any;/student-dashboard=student;/teacher-dashboard=teacher;/admin-dashboard=admin"`

	// PublicPrefixes stay reachable without a session when "/" is protected,
	// so the login page can still load its bundles and sibling pages.
	PublicPrefixes []string `env:"GATE_PUBLIC_PREFIXES" envSeparator:"," envDefault:"/assets,/favicon.ico,/register,/forgot-password"`
}

// Sanitize clamps the init wait.
func (c *GateConfig) Sanitize() {
	if c.InitWait < 0 {
		c.InitWait = 0
	}
	if c.InitWait > 5*time.Second {
		c.InitWait = 5 * time.Second
	}
	if strings.TrimSpace(c.Routes) == "" {
		c.Routes = defaultGateRoutes
	}
	public := c.PublicPrefixes[:0]
	for _, p := range c.PublicPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			public = append(public, p)
		}
	}
	c.PublicPrefixes = public
}

// Public validates PublicPrefixes against the protected rules and returns
// them normalized without a trailing slash.
func (c *GateConfig) Public(rules []RouteRule) ([]string, error) {
	out := make([]string, 0, len(c.PublicPrefixes))
	seen := make(map[string]bool)
	for _, raw := range c.PublicPrefixes {
		p := strings.TrimRight(strings.TrimSpace(raw), "/")
		if p == "" || !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("invalid public prefix %q", raw)
		}
		if isReserved(p) {
			return nil, fmt.Errorf("public prefix %q overlaps a gate endpoint", p)
		}
		for _, r := range rules {
			if r.Prefix != "/" && (p == r.Prefix || strings.HasPrefix(p, r.Prefix+"/")) {
				return nil, fmt.Errorf("public prefix %q is inside protected route %q", p, r.Prefix)
			}
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Rules parses Routes.
func (c *GateConfig) Rules() ([]RouteRule, error) {
	return ParseRouteRules(c.Routes)
}

// RouteRule protects every path under Prefix. An empty Role admits any
// signed-in user.
type RouteRule struct {
	Prefix string
	Role   domainauth.Role
}

// ParseRouteRules parses "path=role;..." and returns the rules ordered from
// the longest prefix to the shortest so the most specific rule matches first.
func ParseRouteRules(s string) ([]RouteRule, error) {
	var rules []RouteRule
	seen := make(map[string]bool)
	for part := range strings.SplitSeq(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		path, roleStr, ok := strings.Cut(part, "=")
		path = strings.TrimSpace(path)
		if !ok || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid route %q (want /path=role)", part)
		}
		if len(path) > 1 {
			path = strings.TrimRight(path, "/")
		}
		if isReserved(path) {
			return nil, fmt.Errorf("route %q overlaps a gate endpoint", path)
		}
		if seen[path] {
			return nil, fmt.Errorf("duplicate route %q", path)
		}
		seen[path] = true

		rule := RouteRule{Prefix: path}
		if r := strings.TrimSpace(roleStr); !strings.EqualFold(r, "any") && r != "" {
			role, err := domainauth.ParseRole(r)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", path, err)
			}
			rule.Role = role
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, errors.New("no protected routes")
	}
	sort.SliceStable(rules, func(i, j int) bool { return len(rules[i].Prefix) > len(rules[j].Prefix) })
	return rules, nil
}

func isReserved(path string) bool {
	for _, p := range reservedPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// SessionConfig controls the per-client session store lifecycle.
type SessionConfig struct {
	IdleTTL       time.Duration `env:"SESSION_STORE_IDLE_TTL"       envDefault:"30m"`
	SweepInterval time.Duration `env:"SESSION_STORE_SWEEP_INTERVAL" envDefault:"1m"`
	// MaxStores bounds live stores; the least recently seen is evicted first.
	MaxStores int `env:"SESSION_STORE_MAX" envDefault:"10000"`
}

// Sanitize keeps the sweep interval below the idle TTL.
func (c *SessionConfig) Sanitize() {
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.SweepInterval <= 0 || c.SweepInterval > c.IdleTTL {
		c.SweepInterval = min(time.Minute, c.IdleTTL)
	}
	if c.MaxStores <= 0 {
		c.MaxStores = 10000
	}
}
