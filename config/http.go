package config

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the externally visible URL of the gate.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for the client and flow cookies.
	// Leave empty to use the request host.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// SPAOrigin is where allowed views are proxied. Empty renders JSON view
	// descriptors instead.
	SPAOrigin string `env:"SPA_ORIGIN" envDefault:""`
}

// Sanitize normalises the cookie domain and origins.
func (h *HTTPConfig) Sanitize() {
	h.CookieDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h.CookieDomain), "."))
	h.BaseURL = strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	h.SPAOrigin = strings.TrimRight(strings.TrimSpace(h.SPAOrigin), "/")
}

// ValidateCookieDomain rejects a cookie domain that is a public suffix
// (for example "com" or "co.uk"); browsers drop such cookies.
func (h *HTTPConfig) ValidateCookieDomain() error {
	if h.CookieDomain == "" || h.CookieDomain == "localhost" {
		return nil
	}
	suffix, icann := publicsuffix.PublicSuffix(h.CookieDomain)
	if suffix == h.CookieDomain && (icann || strings.Contains(suffix, ".")) {
		return fmt.Errorf("APP_COOKIE_DOMAIN %q is a public suffix", h.CookieDomain)
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(h.CookieDomain); err != nil {
		return fmt.Errorf("APP_COOKIE_DOMAIN %q: %w", h.CookieDomain, err)
	}
	return nil
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (h *HTTPConfig) SecureCookies() bool {
	u, err := url.Parse(h.BaseURL)
	return err == nil && u.Scheme == "https"
}
