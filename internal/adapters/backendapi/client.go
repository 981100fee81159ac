// Package backendapi talks to the EduManage REST backend: it mints bearer
// tokens for verified emails and looks up users for role resolution.
package backendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/edumanage/edugate/internal/ports"
)

var (
	_ ports.TokenMinter   = (*Client)(nil)
	_ ports.UserDirectory = (*Client)(nil)
)

const maxErrorBody = 4 << 10

// Config configures the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration // default 10s

	// SuccessExpr is a JMESPath expression over the lookup body that must
	// evaluate to true. Default "success".
	SuccessExpr string
	// RoleExpr is a JMESPath expression selecting the role string. Default "user.role".
	RoleExpr string

	Client *http.Client
	Logger *slog.Logger
}

// Client implements ports.TokenMinter and ports.UserDirectory over HTTP.
type Client struct {
	baseURL *url.URL
	client  *http.Client
	logger  *slog.Logger

	successExpr searcher
	roleExpr    searcher
}

// searcher is a compiled JMESPath expression.
type searcher interface {
	Search(data any) (any, error)
}

// NewClient validates cfg and compiles the lookup expressions.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend base URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", raw)
	}

	successExpr, err := jmespath.Compile(fallback(cfg.SuccessExpr, "success"))
	if err != nil {
		return nil, fmt.Errorf("compile success expression: %w", err)
	}
	roleExpr, err := jmespath.Compile(fallback(cfg.RoleExpr, "user.role"))
	if err != nil {
		return nil, fmt.Errorf("compile role expression: %w", err)
	}

	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     base,
		client:      hc,
		logger:      logger.With("component", "backendapi"),
		successExpr: successExpr,
		roleExpr:    roleExpr,
	}, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

type mintRequest struct {
	Email string `json:"email"`
}

type mintResponse struct {
	Token string `json:"token"`
}

// MintToken exchanges a verified email for a bearer token via POST /jwt.
func (c *Client) MintToken(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", errors.New("email is required")
	}
	body, err := json.Marshal(mintRequest{Email: email})
	if err != nil {
		return "", fmt.Errorf("encode mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("jwt"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out mintResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("mint token: response has no token")
	}

	c.logTokenExpiry(ctx, out.Token)
	return out.Token, nil
}

// logTokenExpiry records when a JWT-shaped token expires. The backend owns
// verification; the gate only reads the claim.
func (c *Client) logTokenExpiry(ctx context.Context, token string) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		c.logger.DebugContext(ctx, "minted token is not a JWT", "error", err)
		return
	}
	if claims.ExpiresAt != nil {
		c.logger.DebugContext(ctx, "minted token", "expires_at", claims.ExpiresAt.Time)
	}
}

// LookupUser fetches GET /users/{id} with bearer and extracts the role.
// A body whose success expression is not true is an error.
func (c *Client) LookupUser(ctx context.Context, bearer, id string) (ports.UserRecord, error) {
	if id == "" {
		return ports.UserRecord{}, errors.New("user id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("users", id), nil)
	if err != nil {
		return ports.UserRecord{}, fmt.Errorf("create lookup request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")

	var doc any
	if err := c.do(req, &doc); err != nil {
		return ports.UserRecord{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := c.successExpr.Search(doc)
	if err != nil {
		return ports.UserRecord{}, fmt.Errorf("evaluate success expression: %w", err)
	}
	if b, isBool := ok.(bool); !isBool || !b {
		return ports.UserRecord{}, errors.New("lookup user: backend reported failure")
	}

	roleVal, err := c.roleExpr.Search(doc)
	if err != nil {
		return ports.UserRecord{}, fmt.Errorf("evaluate role expression: %w", err)
	}
	role, _ := roleVal.(string)
	return ports.UserRecord{ID: id, Role: role}, nil
}

func (c *Client) endpoint(segments ...string) string {
	return c.baseURL.JoinPath(segments...).String()
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
