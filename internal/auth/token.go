// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	ResetTokenBytes       = 32 // 256 bits, 64 hex chars
	DefaultSetupTokenTTL  = 72 * time.Hour
	DefaultResetTokenTTL  = time.Hour
	resetTokenHashHexSize = sha256.Size * 2
)

// TokenPurpose records why a token was issued. It does not change validation.
type TokenPurpose string

// Token purposes.
const (
	PurposeSetup TokenPurpose = "setup"
	PurposeReset TokenPurpose = "reset"
)

// Valid reports whether p is a known purpose.
func (p TokenPurpose) Valid() bool {
	return p == PurposeSetup || p == PurposeReset
}

// ResetToken is the single live password token of an account. Only the
// SHA-256 hash of the token value is stored.
type ResetToken struct {
	AccountID ulid.ULID
	TokenHash string
	Role      Role
	Purpose   TokenPurpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewResetToken creates a validated ResetToken expiring ttl after now.
func NewResetToken(accountID ulid.ULID, role Role, purpose TokenPurpose, tokenHash string, now time.Time, ttl time.Duration) (*ResetToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_ACCOUNT").Wrap(fmt.Errorf("%w: account ID cannot be zero", ErrValidation))
	}
	if !role.Valid() {
		return nil, oops.Code("TOKEN_INVALID_ROLE").With("role", string(role)).Wrap(fmt.Errorf("%w: unknown role", ErrValidation))
	}
	if !purpose.Valid() {
		return nil, oops.Code("TOKEN_INVALID_PURPOSE").With("purpose", string(purpose)).Wrap(fmt.Errorf("%w: unknown purpose", ErrValidation))
	}
	if len(tokenHash) != resetTokenHashHexSize {
		return nil, oops.Code("TOKEN_INVALID_HASH").Wrap(fmt.Errorf("%w: token hash must be a hex sha256", ErrValidation))
	}
	if ttl <= 0 {
		return nil, oops.Code("TOKEN_INVALID_TTL").With("ttl", ttl.String()).Wrap(fmt.Errorf("%w: ttl must be positive", ErrValidation))
	}

	return &ResetToken{
		AccountID: accountID,
		TokenHash: tokenHash,
		Role:      role,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

// IsExpiredAt reports whether the token is unusable at t. A token is valid
// strictly before ExpiresAt.
func (t *ResetToken) IsExpiredAt(at time.Time) bool {
	return !at.Before(t.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// The plaintext token goes to the account owner; the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("requested_bytes", ResetTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the hex SHA-256 of a token value.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken checks a plaintext token against a stored hash in constant time.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashResetToken(token)), []byte(hash)) == 1
}

// ConsumeRequest describes an atomic token consumption.
type ConsumeRequest struct {
	TokenHash    string
	Role         Role
	At           time.Time
	PasswordHash string
}

// ResetTokenRepository manages password token persistence.
type ResetTokenRepository interface {
	// Upsert stores token as the account's only live token, replacing any
	// previous one.
	Upsert(ctx context.Context, token *ResetToken) error

	// GetByTokenHash retrieves a token by its hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error)

	// GetByAccount retrieves the live token of an account.
	GetByAccount(ctx context.Context, accountID ulid.ULID) (*ResetToken, error)

	// Consume atomically removes the token matching req (hash, role, unexpired
	// at req.At) and writes req.PasswordHash to the owning account, in one
	// transaction. Returns the account ID, or ErrTokenInvalid if no token
	// matched; in that case no password is written.
	Consume(ctx context.Context, req ConsumeRequest) (ulid.ULID, error)

	// DeleteByAccount removes the account's token, if any.
	DeleteByAccount(ctx context.Context, accountID ulid.ULID) error

	// PurgeExpired removes tokens that expired before t and returns the count.
	PurgeExpired(ctx context.Context, t time.Time) (int64, error)
}
