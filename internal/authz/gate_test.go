// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package authz

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/pkg/errutil"
)

var (
	employee = auth.Identity{AccountID: ulid.Make(), Role: auth.RoleEmployee}
	employer = auth.Identity{AccountID: ulid.Make(), Role: auth.RoleEmployer}
)

func allow() Decision { return Decision{Outcome: Allow} }
func deny() Decision { return Decision{Outcome: Deny} }
func redirect(target string) Decision { return Decision{Outcome: Redirect, Target: target} }

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		id   auth.Identity
		path string
		want Decision
	}{
		{"anonymous employer page goes to employer login", auth.Anonymous, "/employer/dashboard", redirect("/employer/login")},
		{"anonymous employee page goes to employee login", auth.Anonymous, "/employee/timesheets", redirect("/employee/login")},
		{"anonymous elsewhere goes to generic login", auth.Anonymous, "/settings", redirect("/login")},
		{"anonymous employer API goes to generic login", auth.Anonymous, "/api/employer/reports", redirect("/login")},
		{"employee on employer page goes to own dashboard", employee, "/employer/dashboard", redirect("/employee/dashboard")},
		{"employer on employee page goes to own dashboard", employer, "/employee", redirect("/employer/dashboard")},
		{"employee on employer API is denied", employee, "/api/employer/reports", deny()},
		{"employer on employee API is denied", employer, "/api/employee/me", deny()},
		{"health is public", auth.Anonymous, "/api/health", allow()},
		{"health subpath is public", auth.Anonymous, "/api/health/db", allow()},
		{"auth API is public", auth.Anonymous, "/api/auth/login", allow()},
		{"root is public", auth.Anonymous, "/", allow()},
		{"generic login is public", auth.Anonymous, "/login", allow()},
		{"employer login is public", auth.Anonymous, "/employer/login", allow()},
		{"emailed setup link is public", auth.Anonymous, "/setup-password", allow()},
		{"emailed reset link is public", auth.Anonymous, "/reset-password", allow()},
		{"employee login is public to employers", employer, "/employee/login", allow()},
		{"employer on own dashboard", employer, "/employer/dashboard", allow()},
		{"employee on own API", employee, "/api/employee/me", allow()},
		{"authenticated on neutral path", employee, "/settings", allow()},
		{"section match is per segment", employee, "/employers/about", allow()},
		{"api section match is per segment", employee, "/api/employerx", allow()},
		{"login prefix is not public", auth.Anonymous, "/login/extra", redirect("/login")},
		{"dot segments cannot escape the public prefix", auth.Anonymous, "/api/auth/../employer/reports", redirect("/employer/login")},
		{"dot segments resolved before role checks", employee, "/api/employee/../employer/x", deny()},
		{"duplicate slashes are collapsed", employee, "//employer//dashboard", redirect("/employee/dashboard")},
		{"empty path is root", auth.Anonymous, "", allow()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.path, tt.id))
		})
	}
}

func TestDecide_RedirectsOnlyCarryTargets(t *testing.T) {
	for _, id := range []auth.Identity{auth.Anonymous, employee, employer} {
		for _, p := range []string{"/", "/employer/x", "/employee/x", "/api/employer/x", "/api/employee/x", "/other"} {
			d := Decide(p, id)
			if d.Outcome == Redirect {
				assert.NotEmpty(t, d.Target, "%s %s", id.Role, p)
			} else {
				assert.Empty(t, d.Target, "%s %s", id.Role, p)
			}
		}
	}
}

func TestNewGate_CustomPublicPaths(t *testing.T) {
	g, err := NewGate([]string{"/", "/docs/**", "/status/*"})
	require.NoError(t, err)

	assert.Equal(t, allow(), g.Decide("/docs/guide/intro", auth.Anonymous))
	assert.Equal(t, allow(), g.Decide("/status/db", auth.Anonymous))
	assert.Equal(t, redirect("/login"), g.Decide("/status/db/extra", auth.Anonymous))
	assert.Equal(t, redirect("/employer/login"), g.Decide("/employer/login", auth.Anonymous),
		"login pages are only public when listed")
}

func TestNewGate_RejectsBadPatterns(t *testing.T) {
	for _, p := range []string{"relative/path", "/[unclosed"} {
		_, err := NewGate([]string{p})
		require.Error(t, err, p)
		errutil.AssertErrorCode(t, err, "INVALID_PUBLIC_PATH")
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "redirect", Redirect.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "unknown(9)", Outcome(9).String())
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/employer/dashboard", DashboardPath(auth.RoleEmployer))
	assert.Equal(t, "/employee/dashboard", DashboardPath(auth.RoleEmployee))
	assert.Equal(t, "/login", LoginPathFor(""))
}
