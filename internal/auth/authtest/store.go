// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

// Package authtest provides in-memory repositories for auth tests. Token
// consumption is atomic under a single mutex, matching the transactional
// behavior of the PostgreSQL repositories.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hrtrack/hrtrack/internal/auth"
)

// Store holds accounts and tokens in memory.
type Store struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]auth.Account
	tokens   map[ulid.ULID]auth.ResetToken // keyed by account

	// Err, when set, is returned by every repository call.
	Err error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]auth.Account),
		tokens:   make(map[ulid.ULID]auth.ResetToken),
	}
}

// Accounts returns an AccountRepository backed by s.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s: s} }

// Tokens returns a ResetTokenRepository backed by s.
func (s *Store) Tokens() *TokenRepo { return &TokenRepo{s: s} }

// Put stores a copy of account, replacing any existing entry.
func (s *Store) Put(account *auth.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = cloneAccount(*account)
}

// Account returns a copy of the stored account.
func (s *Store) Account(id ulid.ULID) (*auth.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	c := cloneAccount(a)
	return &c, true
}

// TokenCount returns the number of stored tokens.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func cloneAccount(a auth.Account) auth.Account {
	if a.PasswordHash != nil {
		h := *a.PasswordHash
		a.PasswordHash = &h
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		a.LastLoginAt = &t
	}
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		a.LockedUntil = &t
	}
	return a
}

func notFound(entity string) error {
	return oops.Code("NOT_FOUND").With("entity", entity).Wrap(auth.ErrNotFound)
}

// AccountRepo is an in-memory auth.AccountRepository.
type AccountRepo struct{ s *Store }

// Create stores a new account.
func (r *AccountRepo) Create(_ context.Context, account *auth.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, a := range r.s.accounts {
		if a.Role == account.Role && strings.EqualFold(a.Email, account.Email) {
			return oops.Code("ACCOUNT_DUPLICATE").Wrap(auth.ErrDuplicateAccount)
		}
	}
	r.s.accounts[account.ID] = cloneAccount(*account)
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, notFound("account")
	}
	c := cloneAccount(a)
	return &c, nil
}

// GetByEmail retrieves an account by email and role.
func (r *AccountRepo) GetByEmail(_ context.Context, email string, role auth.Role) (*auth.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, a := range r.s.accounts {
		if a.Role == role && strings.EqualFold(a.Email, email) {
			c := cloneAccount(a)
			return &c, nil
		}
	}
	return nil, notFound("account")
}

// RecordLoginFailure stores the failure counter and lockout.
func (r *AccountRepo) RecordLoginFailure(
	_ context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time, at time.Time,
) error {
	return r.s.modify(id, func(a *auth.Account) {
		a.FailedAttempts = failedAttempts
		a.LockedUntil = nil
		if lockedUntil != nil {
			t := *lockedUntil
			a.LockedUntil = &t
		}
		a.UpdatedAt = at
	})
}

// RecordLogin clears the failure state and stamps LastLoginAt.
func (r *AccountRepo) RecordLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.s.modify(id, func(a *auth.Account) { a.RecordLogin(at) })
}

// UpgradePasswordHash replaces the hash only while it still equals oldHash.
func (r *AccountRepo) UpgradePasswordHash(_ context.Context, id ulid.ULID, oldHash, newHash string, at time.Time) (bool, error) {
	replaced := false
	err := r.s.modify(id, func(a *auth.Account) {
		if a.PasswordHash == nil || *a.PasswordHash != oldHash {
			return
		}
		h := newHash
		a.PasswordHash = &h
		a.UpdatedAt = at
		replaced = true
	})
	return replaced, err
}

// modify applies fn to the stored account under the lock.
func (s *Store) modify(id ulid.ULID, fn func(*auth.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	a, ok := s.accounts[id]
	if !ok {
		return notFound("account")
	}
	fn(&a)
	s.accounts[id] = a
	return nil
}

// TokenRepo is an in-memory auth.ResetTokenRepository.
type TokenRepo struct{ s *Store }

// Upsert stores token as the account's only token.
func (r *TokenRepo) Upsert(_ context.Context, token *auth.ResetToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	if _, ok := r.s.accounts[token.AccountID]; !ok {
		return notFound("account")
	}
	r.s.tokens[token.AccountID] = *token
	return nil
}

// GetByTokenHash retrieves a token by hash.
func (r *TokenRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.ResetToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, t := range r.s.tokens {
		if t.TokenHash == tokenHash {
			c := t
			return &c, nil
		}
	}
	return nil, notFound("reset_token")
}

// GetByAccount retrieves an account's token.
func (r *TokenRepo) GetByAccount(_ context.Context, accountID ulid.ULID) (*auth.ResetToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	t, ok := r.s.tokens[accountID]
	if !ok {
		return nil, notFound("reset_token")
	}
	return &t, nil
}

// Consume removes the matching token and sets the account password.
func (r *TokenRepo) Consume(_ context.Context, req auth.ConsumeRequest) (ulid.ULID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return ulid.ULID{}, r.s.Err
	}
	for id, t := range r.s.tokens {
		if t.TokenHash != req.TokenHash || t.Role != req.Role || t.IsExpiredAt(req.At) {
			continue
		}
		a, ok := r.s.accounts[id]
		if !ok {
			break
		}
		delete(r.s.tokens, id)
		h := req.PasswordHash
		a.PasswordHash = &h
		a.UpdatedAt = req.At
		r.s.accounts[id] = a
		return id, nil
	}
	return ulid.ULID{}, oops.Code("TOKEN_INVALID").Wrap(auth.ErrTokenInvalid)
}

// DeleteByAccount removes an account's token.
func (r *TokenRepo) DeleteByAccount(_ context.Context, accountID ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	delete(r.s.tokens, accountID)
	return nil
}

// PurgeExpired removes tokens that expired at or before t.
func (r *TokenRepo) PurgeExpired(_ context.Context, t time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return 0, r.s.Err
	}
	var n int64
	for id, tok := range r.s.tokens {
		if tok.IsExpiredAt(t) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Compile-time interface checks.
var (
	_ auth.AccountRepository    = (*AccountRepo)(nil)
	_ auth.ResetTokenRepository = (*TokenRepo)(nil)
)
