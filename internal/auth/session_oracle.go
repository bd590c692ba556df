// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "hrtrack_session"

// dummyPasswordHash is verified when an account is missing or has no password
// so that response time does not reveal which case occurred. It matches no
// password.
//
//nolint:gosec // G101: not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// SessionOracle resolves request identities and performs password login.
type SessionOracle struct {
	accounts AccountRepository
	hasher   PasswordHasher
	signer   SessionSigner
	verifier SessionVerifier
	logger   *slog.Logger
	now      func() time.Time
	ttl      time.Duration
}

// SessionOracleOption configures a SessionOracle.
type SessionOracleOption func(*SessionOracle)

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionOracleOption {
	return func(o *SessionOracle) { o.now = now }
}

// WithSessionTTL sets the lifetime of minted sessions.
func WithSessionTTL(ttl time.Duration) SessionOracleOption {
	return func(o *SessionOracle) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOracleOption {
	return func(o *SessionOracle) { o.logger = logger }
}

// NewSessionOracle creates a new SessionOracle.
func NewSessionOracle(
	accounts AccountRepository,
	hasher PasswordHasher,
	signer SessionSigner,
	verifier SessionVerifier,
	opts ...SessionOracleOption,
) (*SessionOracle, error) {
	if accounts == nil {
		return nil, oops.Code("SESSION_ORACLE_INVALID").Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("SESSION_ORACLE_INVALID").Errorf("password hasher is required")
	}
	if signer == nil {
		return nil, oops.Code("SESSION_ORACLE_INVALID").Errorf("session signer is required")
	}
	if verifier == nil {
		return nil, oops.Code("SESSION_ORACLE_INVALID").Errorf("session verifier is required")
	}

	o := &SessionOracle{
		accounts: accounts,
		hasher:   hasher,
		signer:   signer,
		verifier: verifier,
		logger:   slog.Default(),
		now:      time.Now,
		ttl:      DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		return nil, oops.Code("SESSION_ORACLE_INVALID").Errorf("logger cannot be nil")
	}
	return o, nil
}

// TTL returns the lifetime of minted sessions.
func (o *SessionOracle) TTL() time.Duration {
	return o.ttl
}

// CurrentIdentity returns the identity carried by the request's session token,
// or Anonymous when the token is absent or does not verify. It never consults
// the account store.
func (o *SessionOracle) CurrentIdentity(r *http.Request) Identity {
	token := sessionToken(r)
	if token == "" {
		return Anonymous
	}
	session, err := o.verifier.Verify(token)
	if err != nil {
		o.logger.DebugContext(r.Context(), "session token rejected", "error", err)
		return Anonymous
	}
	return session.Identity()
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// Login checks the password of the account identified by (email, role) and
// returns a signed session. A missing account, an account without a password
// and a wrong password all fail with the same ErrAuthFailure.
func (o *SessionOracle) Login(ctx context.Context, email, password string, role Role) (Session, string, error) {
	ctx, span := tracer.Start(ctx, "session.login", trace.WithAttributes(
		attribute.String("account.role", string(role)),
	))
	defer span.End()

	if !role.Valid() {
		return Session{}, "", oops.Code("AUTH_INVALID_ROLE").
			With("role", string(role)).
			Wrap(fmt.Errorf("%w: unknown role", ErrValidation))
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, "", oops.Code("AUTH_MISSING_CREDENTIALS").
			Wrap(fmt.Errorf("%w: email and password are required", ErrValidation))
	}

	account, lookupErr := o.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)), role)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		recordLogin(role, ResultError)
		return Session{}, "", spanError(span, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "GetByEmail").
			Wrap(lookupErr))
	}

	exists := lookupErr == nil
	hasHash := exists && account.PasswordHash != nil && *account.PasswordHash != ""
	target := dummyPasswordHash
	if hasHash {
		target = *account.PasswordHash
	}

	// Verify even without an account to keep timing uniform.
	valid := CheckPassword(o.hasher, password, target)
	now := o.now()

	if !hasHash || !valid {
		if hasHash {
			account.RecordFailure(now)
			if err := o.accounts.RecordLoginFailure(ctx, account.ID, account.FailedAttempts, account.LockedUntil, now); err != nil {
				o.logger.WarnContext(ctx, "failed to record login failure",
					"account_id", account.ID.String(), "error", err)
			}
		}
		recordLogin(role, ResultFailure)
		return Session{}, "", errAuthFailure()
	}

	// Lockout is reported only after a correct password.
	if account.IsLockedAt(now) {
		recordLogin(role, ResultLocked)
		return Session{}, "", oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", account.LockedUntil).
			Wrap(ErrAccountLocked)
	}

	// LastLoginAt marks setup as complete, so a lost write must fail the login.
	if err := o.accounts.RecordLogin(ctx, account.ID, now); err != nil {
		recordLogin(role, ResultError)
		return Session{}, "", spanError(span, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "RecordLogin").
			With("account_id", account.ID.String()).
			Wrap(err))
	}

	if o.hasher.NeedsUpgrade(target) {
		o.upgradeHash(ctx, account.ID, password, target, now)
	}

	session := Session{
		AccountID: account.ID,
		Role:      account.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(o.ttl),
	}
	token, err := o.signer.Sign(session)
	if err != nil {
		recordLogin(role, ResultError)
		return Session{}, "", spanError(span, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "Sign").
			Wrap(err))
	}

	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	recordLogin(role, ResultSuccess)
	o.logger.InfoContext(ctx, "login succeeded", "account_id", account.ID.String(), "role", string(role))
	return session, token, nil
}

// upgradeHash rehashes a legacy digest. The write is conditional on the
// digest that was just verified, so a password reset that landed during the
// login wins. Failures only cost the upgrade, never the login.
func (o *SessionOracle) upgradeHash(ctx context.Context, id ulid.ULID, password, oldHash string, now time.Time) {
	upgraded, err := o.hasher.Hash(password)
	if err != nil {
		o.logger.WarnContext(ctx, "password hash upgrade failed",
			"account_id", id.String(), "error", err)
		return
	}
	replaced, err := o.accounts.UpgradePasswordHash(ctx, id, oldHash, upgraded, now)
	switch {
	case err != nil:
		o.logger.WarnContext(ctx, "password hash upgrade failed",
			"account_id", id.String(), "error", err)
	case !replaced:
		o.logger.InfoContext(ctx, "password hash upgrade skipped, password changed concurrently",
			"account_id", id.String())
	}
}

func errAuthFailure() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrAuthFailure)
}

// SessionCookie builds the cookie carrying token until the session expires.
func SessionCookie(token string, session Session, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(session.ExpiresAt.Sub(session.IssuedAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie builds a cookie that removes the session cookie.
func ClearSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
