package config

import (
	"strings"
	"time"
)

// BackendConfig points the gate at the EduManage REST backend.
type BackendConfig struct {
	BaseURL string        `env:"BACKEND_BASE_URL"`
	Timeout time.Duration `env:"BACKEND_TIMEOUT"  envDefault:"10s"`

	// JMESPath expressions evaluated against the GET /users/{id} body.
	SuccessExpr string `env:"BACKEND_SUCCESS_EXPR" envDefault:"success"`
	RoleExpr    string `env:"BACKEND_ROLE_EXPR"    envDefault:"user.role"`
}

// Sanitize trims the base URL and restores empty expressions to defaults.
func (c *BackendConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(c.SuccessExpr) == "" {
		c.SuccessExpr = "success"
	}
	if strings.TrimSpace(c.RoleExpr) == "" {
		c.RoleExpr = "user.role"
	}
}
