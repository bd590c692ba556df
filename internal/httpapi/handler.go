// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

// Package httpapi exposes the HRTrack authentication API over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/authz"
	"github.com/hrtrack/hrtrack/internal/notify"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Pages the emailed links point at, relative to the public base URL. The
// gate lets anonymous visitors reach both.
const (
	SetupPagePath = authz.SetupPasswordPath
	ResetPagePath = authz.ResetPasswordPath
)

// HealthChecker reports whether the backing store answers.
type HealthChecker func(ctx context.Context) error

// Config holds the collaborators of a Handler.
type Config struct {
	Sessions *auth.SessionOracle
	Tokens   *auth.TokenService
	Accounts auth.AccountRepository
	Mailer   notify.Mailer
	Gate     *authz.Gate
	Health   HealthChecker
	Logger   *slog.Logger

	// PublicURL is the externally visible base URL used in emailed links.
	PublicURL string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// Handler serves the HRTrack API.
type Handler struct {
	sessions      *auth.SessionOracle
	tokens        *auth.TokenService
	accounts      auth.AccountRepository
	mailer        notify.Mailer
	gate          *authz.Gate
	health        HealthChecker
	logger        *slog.Logger
	publicURL     *url.URL
	secureCookies bool
}

// NewHandler validates cfg and builds a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").Errorf("session oracle is required")
	case cfg.Tokens == nil:
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").Errorf("token service is required")
	case cfg.Accounts == nil:
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").Errorf("account repository is required")
	case cfg.Mailer == nil:
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").Errorf("mailer is required")
	case cfg.Gate == nil:
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").Errorf("gate is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.PublicURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.Code("HTTPAPI_CONFIG_INVALID").
			With("public_url", cfg.PublicURL).
			Errorf("public URL must be absolute")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		sessions:      cfg.Sessions,
		tokens:        cfg.Tokens,
		accounts:      cfg.Accounts,
		mailer:        cfg.Mailer,
		gate:          cfg.Gate,
		health:        cfg.Health,
		logger:        logger,
		publicURL:     base,
		secureCookies: cfg.SecureCookies,
	}, nil
}

// Routes returns the API mux without middleware.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.handleHealth)

	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/session", h.handleSession)
	mux.HandleFunc("POST /api/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("GET /api/auth/reset-password", h.handleCheckResetToken)
	mux.HandleFunc("POST /api/auth/reset-password", h.handleResetPassword)

	mux.HandleFunc("POST /api/employer/employees", h.handleCreateEmployee)
	mux.HandleFunc("POST /api/employer/employees/{id}/resend-setup", h.handleResendSetup)
	mux.HandleFunc("GET /api/employer/me", h.handleMe)
	mux.HandleFunc("GET /api/employee/me", h.handleMe)
	return mux
}

// Handler returns the full middleware chain: tracing, request logging, the
// authorization gate and the routes.
func (h *Handler) Handler() http.Handler {
	gated := h.gate.Middleware(h.sessions, h.logger)(h.Routes())
	return otelhttp.NewHandler(logRequests(h.logger, gated), "hrtrack.http")
}

// decode reads a JSON body into v, rejecting unknown fields and trailing data.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return oops.Code("HTTPAPI_BAD_JSON").Wrap(fmt.Errorf("%w: %w", auth.ErrValidation, err))
	}
	if dec.More() {
		return oops.Code("HTTPAPI_BAD_JSON").Wrap(fmt.Errorf("%w: trailing data after JSON body", auth.ErrValidation))
	}
	return nil
}

// Link builds the page link delivered for an issued token, relative to the
// absolute base URL.
func Link(base *url.URL, issued *auth.IssuedToken) string {
	page := ResetPagePath
	if issued.Purpose == auth.PurposeSetup {
		page = SetupPagePath
	}
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + page
	q := url.Values{}
	q.Set("token", issued.Token)
	q.Set("role", issued.Account.Role.Section())
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) message(issued *auth.IssuedToken) notify.Message {
	return notify.Message{
		AccountID:   issued.Account.ID,
		Address:     issued.Account.Email,
		DisplayName: issued.Account.Name,
		Role:        issued.Account.Role,
		Link:        Link(h.publicURL, issued),
		ExpiresAt:   issued.ExpiresAt,
	}
}
