// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session configuration.
const (
	DefaultSessionTTL  = 12 * time.Hour
	MinSessionKeyBytes = 32
)

// Identity is the authenticated principal of a request. The zero value is
// Anonymous.
type Identity struct {
	AccountID ulid.ULID
	Role      Role
}

// Anonymous is the identity of a request without a valid session.
var Anonymous = Identity{}

// IsAnonymous reports whether i carries no authenticated account.
func (i Identity) IsAnonymous() bool {
	return i.Role == "" || i.AccountID.Compare(ulid.ULID{}) == 0
}

// Session is the content of a signed session token. It is never persisted.
type Session struct {
	AccountID ulid.ULID
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity returns the principal the session authenticates.
func (s Session) Identity() Identity {
	return Identity{AccountID: s.AccountID, Role: s.Role}
}

// SessionSigner mints signed session tokens.
type SessionSigner interface {
	Sign(session Session) (string, error)
}

// SessionVerifier checks the signature and validity window of a session token.
type SessionVerifier interface {
	Verify(token string) (Session, error)
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTCodec signs and verifies HS256 session tokens.
type JWTCodec struct {
	key []byte
	now func() time.Time
}

// NewJWTCodec creates a codec with the given HMAC key.
func NewJWTCodec(key []byte) (*JWTCodec, error) {
	if len(key) < MinSessionKeyBytes {
		return nil, oops.Code("SESSION_KEY_INVALID").
			With("min_bytes", MinSessionKeyBytes).
			Wrap(fmt.Errorf("%w: session key must be at least %d bytes", ErrValidation, MinSessionKeyBytes))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &JWTCodec{key: k, now: time.Now}, nil
}

// WithClock returns a copy of the codec that validates against now.
func (c *JWTCodec) WithClock(now func() time.Time) *JWTCodec {
	return &JWTCodec{key: c.key, now: now}
}

// Sign mints a token for session.
func (c *JWTCodec) Sign(session Session) (string, error) {
	if !session.Role.Valid() || session.AccountID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("SESSION_SIGN_FAILED").Wrap(fmt.Errorf("%w: session needs an account and role", ErrValidation))
	}
	claims := sessionClaims{
		Role: string(session.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify parses token, checking its HS256 signature and expiry.
func (c *JWTCodec) Verify(token string) (Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Session{}, oops.Code("SESSION_INVALID").Wrap(err)
	}

	accountID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return Session{}, oops.Code("SESSION_INVALID").With("field", "sub").Wrap(err)
	}
	role := Role(claims.Role)
	if !role.Valid() {
		return Session{}, oops.Code("SESSION_INVALID").With("field", "role").Errorf("unknown role in session")
	}

	s := Session{AccountID: accountID, Role: role, ExpiresAt: claims.ExpiresAt.Time}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	return s, nil
}

// Compile-time interface checks.
var (
	_ SessionSigner   = (*JWTCodec)(nil)
	_ SessionVerifier = (*JWTCodec)(nil)
)

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity, or Anonymous.
func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return Anonymous
	}
	return id
}
