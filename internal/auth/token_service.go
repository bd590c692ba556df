// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Password policy for newly chosen passwords.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// IssuedToken is the result of issuing a setup or reset token. Token is the
// plaintext value to deliver to Account; it is never stored.
type IssuedToken struct {
	Token     string
	Account   *Account
	Purpose   TokenPurpose
	ExpiresAt time.Time
}

// TokenService issues, validates and consumes single-use password tokens.
type TokenService struct {
	accounts AccountRepository
	tokens   ResetTokenRepository
	hasher   PasswordHasher
	logger   *slog.Logger
	now      func() time.Time
	setupTTL time.Duration
	resetTTL time.Duration
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

// WithTokenTTLs sets the default lifetimes for setup and reset tokens.
// Non-positive values keep the defaults.
func WithTokenTTLs(setup, reset time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		if setup > 0 {
			s.setupTTL = setup
		}
		if reset > 0 {
			s.resetTTL = reset
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *slog.Logger) TokenServiceOption {
	return func(s *TokenService) { s.logger = logger }
}

// NewTokenService creates a new TokenService.
func NewTokenService(
	accounts AccountRepository,
	tokens ResetTokenRepository,
	hasher PasswordHasher,
	opts ...TokenServiceOption,
) (*TokenService, error) {
	if accounts == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("account repository is required")
	}
	if tokens == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("token repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("password hasher is required")
	}

	s := &TokenService{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		logger:   slog.Default(),
		now:      time.Now,
		setupTTL: DefaultSetupTokenTTL,
		resetTTL: DefaultResetTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("logger cannot be nil")
	}
	return s, nil
}

// TTL returns the default lifetime for purpose.
func (s *TokenService) TTL(purpose TokenPurpose) time.Duration {
	if purpose == PurposeSetup {
		return s.setupTTL
	}
	return s.resetTTL
}

// Issue creates a new token for the account, replacing any live token.
// A non-positive ttl selects the default for purpose.
func (s *TokenService) Issue(ctx context.Context, accountID ulid.ULID, purpose TokenPurpose, ttl time.Duration) (*IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "token.issue", trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.String("token.purpose", string(purpose)),
	))
	defer span.End()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		recordTokenOp("issue", ResultError)
		return nil, spanError(span, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "GetByID").
			With("account_id", accountID.String()).
			Wrap(err))
	}

	issued, err := s.issueFor(ctx, account, purpose, ttl)
	if err != nil {
		recordTokenOp("issue", ResultError)
		return nil, spanError(span, err)
	}
	recordTokenOp("issue", ResultSuccess)
	return issued, nil
}

// Enroll creates an account pending password setup and issues its setup
// token. A taken (email, role) fails with ErrDuplicateAccount.
func (s *TokenService) Enroll(ctx context.Context, email, name string, role Role) (*IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "token.enroll", trace.WithAttributes(
		attribute.String("account.role", string(role)),
	))
	defer span.End()

	account, err := NewAccount(email, name, role)
	if err != nil {
		recordTokenOp("enroll", ResultInvalid)
		return nil, err
	}
	now := s.now()
	account.CreatedAt, account.UpdatedAt = now, now

	if err := s.accounts.Create(ctx, account); err != nil {
		recordTokenOp("enroll", ResultError)
		return nil, spanError(span, oops.Code("ACCOUNT_ENROLL_FAILED").
			With("operation", "Create").
			With("email", account.Email).
			Wrap(err))
	}

	issued, err := s.issueFor(ctx, account, PurposeSetup, 0)
	if err != nil {
		recordTokenOp("enroll", ResultError)
		return nil, spanError(span, err)
	}
	recordTokenOp("enroll", ResultSuccess)
	return issued, nil
}

// ResendSetup issues a fresh setup token for an account that has not completed
// setup. It refuses with ErrAlreadyHasPassword once the account has both a
// password and a recorded login.
func (s *TokenService) ResendSetup(ctx context.Context, accountID ulid.ULID) (*IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "token.resend_setup", trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
	))
	defer span.End()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		recordTokenOp("resend_setup", ResultError)
		return nil, spanError(span, oops.Code("TOKEN_RESEND_FAILED").
			With("operation", "GetByID").
			With("account_id", accountID.String()).
			Wrap(err))
	}

	if account.HasPassword() {
		recordTokenOp("resend_setup", ResultRefused)
		return nil, oops.Code("TOKEN_ALREADY_HAS_PASSWORD").
			With("account_id", accountID.String()).
			Wrap(fmt.Errorf("%w: setup already completed", ErrAlreadyHasPassword))
	}

	issued, err := s.issueFor(ctx, account, PurposeSetup, 0)
	if err != nil {
		recordTokenOp("resend_setup", ResultError)
		return nil, spanError(span, err)
	}
	recordTokenOp("resend_setup", ResultSuccess)
	return issued, nil
}

// RequestReset issues a reset token for the account with the given email and
// role. An unknown address returns (nil, nil) so callers cannot tell whether
// the account exists.
func (s *TokenService) RequestReset(ctx context.Context, email string, role Role) (*IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "token.request_reset", trace.WithAttributes(
		attribute.String("account.role", string(role)),
	))
	defer span.End()

	if !role.Valid() {
		return nil, oops.Code("TOKEN_INVALID_ROLE").
			With("role", string(role)).
			Wrap(fmt.Errorf("%w: unknown role", ErrValidation))
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, normalized, role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			recordTokenOp("request_reset", ResultNotFound)
			return nil, nil
		}
		recordTokenOp("request_reset", ResultError)
		return nil, spanError(span, oops.Code("TOKEN_RESET_REQUEST_FAILED").
			With("operation", "GetByEmail").
			Wrap(err))
	}

	issued, err := s.issueFor(ctx, account, PurposeReset, 0)
	if err != nil {
		recordTokenOp("request_reset", ResultError)
		return nil, spanError(span, err)
	}
	recordTokenOp("request_reset", ResultSuccess)
	return issued, nil
}

func (s *TokenService) issueFor(ctx context.Context, account *Account, purpose TokenPurpose, ttl time.Duration) (*IssuedToken, error) {
	if ttl <= 0 {
		ttl = s.TTL(purpose)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").With("operation", "GenerateResetToken").Wrap(err)
	}

	record, err := NewResetToken(account.ID, account.Role, purpose, hash, s.now(), ttl)
	if err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").With("operation", "NewResetToken").Wrap(err)
	}

	if err := s.tokens.Upsert(ctx, record); err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "Upsert").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password token issued",
		"account_id", account.ID.String(),
		"purpose", string(purpose),
		"expires_at", record.ExpiresAt)

	return &IssuedToken{
		Token:     token,
		Account:   account,
		Purpose:   purpose,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Validate returns the owning account of a live token. A missing token, a
// role mismatch and an expired token all yield the same ErrTokenInvalid.
func (s *TokenService) Validate(ctx context.Context, token string, expectedRole Role) (ulid.ULID, error) {
	ctx, span := tracer.Start(ctx, "token.validate")
	defer span.End()

	record, found, err := s.lookup(ctx, token)
	if err != nil {
		recordTokenOp("validate", ResultError)
		return ulid.ULID{}, spanError(span, err)
	}

	// Every check runs regardless of the others.
	ok := 1
	if !found {
		ok = 0
	}
	ok &= subtle.ConstantTimeCompare([]byte(record.Role), []byte(expectedRole))
	if record.IsExpiredAt(s.now()) {
		ok = 0
	}

	if ok != 1 {
		recordTokenOp("validate", ResultInvalid)
		return ulid.ULID{}, errTokenInvalid()
	}
	recordTokenOp("validate", ResultSuccess)
	return record.AccountID, nil
}

func (s *TokenService) lookup(ctx context.Context, token string) (*ResetToken, bool, error) {
	missing := &ResetToken{}
	if token == "" {
		return missing, false, nil
	}
	record, err := s.tokens.GetByTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return missing, false, nil
		}
		return nil, false, oops.Code("TOKEN_VALIDATE_FAILED").
			With("operation", "GetByTokenHash").
			Wrap(err)
	}
	return record, true, nil
}

// Consume atomically validates the token, writes passwordHash to its account
// and clears the token. Of two concurrent calls with the same token at most
// one succeeds; the other gets ErrTokenInvalid. On failure the password is
// untouched.
func (s *TokenService) Consume(ctx context.Context, token string, expectedRole Role, passwordHash string) (ulid.ULID, error) {
	ctx, span := tracer.Start(ctx, "token.consume")
	defer span.End()

	if token == "" {
		recordTokenOp("consume", ResultInvalid)
		return ulid.ULID{}, errTokenInvalid()
	}
	if passwordHash == "" {
		return ulid.ULID{}, oops.Code("TOKEN_CONSUME_INVALID").
			Wrap(fmt.Errorf("%w: password hash cannot be empty", ErrValidation))
	}

	accountID, err := s.tokens.Consume(ctx, ConsumeRequest{
		TokenHash:    HashResetToken(token),
		Role:         expectedRole,
		At:           s.now(),
		PasswordHash: passwordHash,
	})
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			if errors.Is(err, ErrConsumeUnconfirmed) {
				s.logger.WarnContext(ctx, "password token missing after retried consume, an earlier attempt may have set the password",
					"token_hash_prefix", HashResetToken(token)[:12], "role", string(expectedRole))
			}
			recordTokenOp("consume", ResultInvalid)
			return ulid.ULID{}, errTokenInvalid()
		}
		recordTokenOp("consume", ResultError)
		return ulid.ULID{}, spanError(span, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "Consume").
			Wrap(err))
	}

	span.SetAttributes(attribute.String("account.id", accountID.String()))
	recordTokenOp("consume", ResultSuccess)
	s.logger.InfoContext(ctx, "password token consumed", "account_id", accountID.String())
	return accountID, nil
}

// ResetPassword checks the new password against the password policy, hashes
// it and consumes the token.
func (s *TokenService) ResetPassword(ctx context.Context, token string, role Role, newPassword string) (ulid.ULID, error) {
	if err := ValidatePassword(newPassword); err != nil {
		return ulid.ULID{}, err
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_RESET_FAILED").
			With("operation", "Hash").
			Wrap(err)
	}

	return s.Consume(ctx, token, role, digest)
}

// PurgeExpired removes tokens that are already unusable. Validity never
// depends on this running.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").Wrap(err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "purged expired password tokens", "count", n)
	}
	return n, nil
}

// ValidatePassword enforces the length policy for new passwords.
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return ErrEmptyPassword
	case len(password) < MinPasswordLength:
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", MinPasswordLength).
			Wrap(fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength))
	case len(password) > MaxPasswordLength:
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("max", MaxPasswordLength).
			Wrap(fmt.Errorf("%w: password must be at most %d characters", ErrValidation, MaxPasswordLength))
	}
	return nil
}

func errTokenInvalid() error {
	return oops.Code("TOKEN_INVALID").Wrap(ErrTokenInvalid)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
