package auth

// Package auth contains domain-level types for identities, session state and roles.
// It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"strings"
	"time"
)

// Role is the authorization tier of a user. The backend is authoritative for it.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Roles returns the closed set of valid roles.
func Roles() []Role {
	return []Role{RoleStudent, RoleTeacher, RoleAdmin}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole normalizes s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Identity is the authenticated principal as reported by the identity provider.
// Email stays empty until the provider has verified it.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// HasEmail reports whether the identity carries a verified email.
func (i *Identity) HasEmail() bool {
	return i != nil && strings.TrimSpace(i.Email) != ""
}

// Phase is the lifecycle position of a client's session.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseAuthenticated Phase = "authenticated"
	PhaseAnonymous     Phase = "anonymous"
)

// State is a point-in-time view of a client's session.
// While Phase is uninitialized the Identity is unknown, even if a Token
// was restored from persistent storage.
type State struct {
	Phase    Phase
	Identity *Identity
	Token    string
}

// Loading reports whether the identity provider has not reported yet.
func (s State) Loading() bool { return s.Phase == PhaseUninitialized || s.Phase == "" }

// Authenticated reports whether the state holds a usable identity.
func (s State) Authenticated() bool {
	return s.Phase == PhaseAuthenticated && s.Identity.HasEmail()
}

// Profile carries the optional display attributes set after sign-up.
type Profile struct {
	DisplayName string
	PhotoURL    string
}

// Credentials groups an email/password pair.
type Credentials struct {
	Email    string
	Password string
}

// AuthState is what the identity provider persists for a client between requests.
type AuthState struct {
	ClientID  string    `json:"client_id"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the auth state is no longer valid at now.
func (a AuthState) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
