// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package authz

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hrtrack/hrtrack/internal/auth"
)

// IdentitySource resolves the caller of a request. *auth.SessionOracle
// implements it.
type IdentitySource interface {
	CurrentIdentity(r *http.Request) auth.Identity
}

// ForbiddenMessage is the error body sent on Deny.
const ForbiddenMessage = "Forbidden"

// Middleware gates every request. Allowed requests carry the caller's
// identity in their context (see auth.IdentityFromContext).
func (g *Gate) Middleware(src IdentitySource, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := src.CurrentIdentity(r)
			d := g.Decide(r.URL.Path, id)
			Decisions.WithLabelValues(d.Outcome.String()).Inc()
			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("authz.outcome", d.Outcome.String()),
				attribute.String("authz.role", string(id.Role)),
			)

			switch d.Outcome {
			case Allow:
				next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
			case Redirect:
				http.Redirect(w, r, d.Target, http.StatusTemporaryRedirect)
			default:
				logger.InfoContext(r.Context(), "request denied",
					"path", r.URL.Path,
					"role", string(id.Role))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				//nolint:errcheck // client may have gone away
				_ = json.NewEncoder(w).Encode(map[string]string{"error": ForbiddenMessage})
			}
		})
	}
}
