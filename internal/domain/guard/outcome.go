// Package guard decides whether a protected view may render for a session.
//
// Decide is a pure function of the session state, the required role and the
// result of the role lookup. All I/O (resolving the role) happens in the
// service layer, which uses NeedsRoleFetch to know when a lookup is due.
package guard

import (
	domainauth "github.com/edumanage/edugate/internal/domain/auth"
)

// LoginPath is where anonymous visitors are sent.
const LoginPath = "/login"

// Kind enumerates the possible guard outcomes.
type Kind string

const (
	KindLoading   Kind = "loading"
	KindRedirect  Kind = "redirect"
	KindAllow     Kind = "allow"
	KindRoleError Kind = "role_error"
	KindForbidden Kind = "forbidden"
)

func (k Kind) String() string { return string(k) }

// RoleFetch is the result of a role lookup. The zero value means the lookup
// has not completed.
type RoleFetch struct {
	Done bool
	Role domainauth.Role
	Err  error
}

// Input is everything Decide looks at.
type Input struct {
	State    domainauth.State
	Path     string
	Required domainauth.Role // empty for routes open to any signed-in user
	Fetch    RoleFetch
}

// Outcome is the tagged result of a guard evaluation.
type Outcome struct {
	Kind Kind

	// Redirect
	RedirectTo string
	From       string

	// Allow / Forbidden
	Identity *domainauth.Identity
	Role     domainauth.Role
	Required domainauth.Role

	// RoleError
	Err error
}

// NeedsRoleFetch reports whether a role lookup must run before Decide can
// settle. It is false while loading, for anonymous sessions, and for routes
// without a required role.
func NeedsRoleFetch(in Input) bool {
	if in.State.Loading() || !in.State.Authenticated() {
		return false
	}
	return in.Required != "" && !in.Fetch.Done
}

// Decide maps an Input to an Outcome.
// Loading wins over everything, authentication is checked before role, and a
// failed lookup is a RoleError, never Forbidden.
func Decide(in Input) Outcome {
	if in.State.Loading() {
		return Outcome{Kind: KindLoading}
	}
	if !in.State.Authenticated() {
		return Outcome{Kind: KindRedirect, RedirectTo: LoginPath, From: in.Path}
	}
	if in.Required == "" {
		return Outcome{Kind: KindAllow, Identity: in.State.Identity}
	}
	if !in.Fetch.Done {
		return Outcome{Kind: KindLoading, Required: in.Required}
	}
	if in.Fetch.Err != nil {
		return Outcome{Kind: KindRoleError, Required: in.Required, Err: in.Fetch.Err}
	}
	if in.Fetch.Role != in.Required {
		return Outcome{
			Kind:     KindForbidden,
			Identity: in.State.Identity,
			Role:     in.Fetch.Role,
			Required: in.Required,
		}
	}
	return Outcome{
		Kind:     KindAllow,
		Identity: in.State.Identity,
		Role:     in.Fetch.Role,
		Required: in.Required,
	}
}
