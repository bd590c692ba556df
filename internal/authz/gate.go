// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

// Package authz decides, per request path and caller identity, whether a
// request may reach its handler.
package authz

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/hrtrack/hrtrack/internal/auth"
)

// Outcome is the result class of an authorization decision.
type Outcome int

// Decision outcomes.
const (
	Allow Outcome = iota
	Redirect
	Deny
)

var outcomeStrings = [...]string{
	"allow",
	"redirect",
	"deny",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeStrings) {
		return outcomeStrings[o]
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// Decision is computed fresh for every request. Target is set only for
// Redirect.
type Decision struct {
	Outcome Outcome
	Target  string
}

// Login and dashboard paths.
const (
	LoginPath         = "/login"
	EmployerLoginPath = "/employer/login"
	EmployeeLoginPath = "/employee/login"

	// Pages opened from emailed setup and reset links. Their visitors have
	// no session yet.
	SetupPasswordPath = "/setup-password"
	ResetPasswordPath = "/reset-password"
)

// DefaultPublicPaths are reachable without a session. Patterns are globs
// with '/' as separator; "**" also spans segments.
var DefaultPublicPaths = []string{
	"/",
	LoginPath,
	EmployerLoginPath,
	EmployeeLoginPath,
	SetupPasswordPath,
	ResetPasswordPath,
	"/api/auth/**",
	"/api/health**",
}

// Gate evaluates the decision table. It is immutable after construction.
type Gate struct {
	public []compiledPattern
}

type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// NewGate creates a Gate with the given public path patterns. A nil slice
// uses DefaultPublicPaths.
func NewGate(publicPaths []string) (*Gate, error) {
	if publicPaths == nil {
		publicPaths = DefaultPublicPaths
	}
	compiled := make([]compiledPattern, 0, len(publicPaths))
	for _, p := range publicPaths {
		if !strings.HasPrefix(p, "/") {
			return nil, oops.In("authz").
				Code("INVALID_PUBLIC_PATH").
				With("pattern", p).
				Errorf("public path must start with /")
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, oops.In("authz").
				Code("INVALID_PUBLIC_PATH").
				With("pattern", p).
				Wrap(err)
		}
		compiled = append(compiled, compiledPattern{pattern: p, glob: g})
	}
	return &Gate{public: compiled}, nil
}

var defaultGate = mustGate(DefaultPublicPaths)

func mustGate(publicPaths []string) *Gate {
	g, err := NewGate(publicPaths)
	if err != nil {
		panic("invalid default public path: " + err.Error())
	}
	return g
}

// Decide evaluates p against the default public paths.
func Decide(p string, id auth.Identity) Decision {
	return defaultGate.Decide(p, id)
}

// Decide evaluates the decision table, first match wins:
//  1. public path: allow
//  2. anonymous: redirect to the login page of the path's section
//  3. UI section of the other role: redirect to the caller's own dashboard
//  4. API section of the other role: deny
//  5. allow
func (g *Gate) Decide(p string, id auth.Identity) Decision {
	p = cleanPath(p)

	if g.IsPublic(p) {
		return Decision{Outcome: Allow}
	}

	if id.IsAnonymous() {
		return Decision{Outcome: Redirect, Target: loginTarget(p)}
	}

	if section := uiSection(p); section != "" && section != id.Role {
		// Sends the caller to their own dashboard rather than a denial page.
		return Decision{Outcome: Redirect, Target: DashboardPath(id.Role)}
	}

	if section := apiSection(p); section != "" && section != id.Role {
		return Decision{Outcome: Deny}
	}

	return Decision{Outcome: Allow}
}

// IsPublic reports whether p matches a public path pattern.
func (g *Gate) IsPublic(p string) bool {
	for _, c := range g.public {
		if c.glob.Match(p) {
			return true
		}
	}
	return false
}

// DashboardPath returns the landing page of role.
func DashboardPath(role auth.Role) string {
	return "/" + role.Section() + "/dashboard"
}

// LoginPathFor returns the login page of role, or the generic login page.
func LoginPathFor(role auth.Role) string {
	switch role {
	case auth.RoleEmployer:
		return EmployerLoginPath
	case auth.RoleEmployee:
		return EmployeeLoginPath
	default:
		return LoginPath
	}
}

func loginTarget(p string) string {
	return LoginPathFor(uiSection(p))
}

func uiSection(p string) auth.Role {
	return sectionUnder(p, "/")
}

func apiSection(p string) auth.Role {
	return sectionUnder(p, "/api/")
}

// sectionUnder returns the role whose section p falls in below base. The
// match is per path segment, so "/employers" is not in "/employer".
func sectionUnder(p, base string) auth.Role {
	for _, role := range []auth.Role{auth.RoleEmployer, auth.RoleEmployee} {
		if hasSegmentPrefix(p, base+role.Section()) {
			return role
		}
	}
	return ""
}

func hasSegmentPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// cleanPath resolves dot segments and duplicate slashes so that a public
// prefix cannot be used to reach a protected path. A trailing slash is kept.
func cleanPath(p string) string {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
