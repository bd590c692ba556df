// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/hrtrack/hrtrack/internal/auth"
)

type mockAccountRepository struct{ mock.Mock }

func newMockAccountRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *mockAccountRepository {
	m := &mockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepository) GetByEmail(ctx context.Context, email string, role auth.Role) (*auth.Account, error) {
	args := m.Called(ctx, email, role)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepository) RecordLoginFailure(
	ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time, at time.Time,
) error {
	return m.Called(ctx, id, failedAttempts, lockedUntil, at).Error(0)
}

func (m *mockAccountRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockAccountRepository) UpgradePasswordHash(
	ctx context.Context, id ulid.ULID, oldHash, newHash string, at time.Time,
) (bool, error) {
	args := m.Called(ctx, id, oldHash, newHash, at)
	return args.Bool(0), args.Error(1)
}

type mockTokenRepository struct{ mock.Mock }

func newMockTokenRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *mockTokenRepository {
	m := &mockTokenRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockTokenRepository) Upsert(ctx context.Context, token *auth.ResetToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	args := m.Called(ctx, tokenHash)
	tok, _ := args.Get(0).(*auth.ResetToken)
	return tok, args.Error(1)
}

func (m *mockTokenRepository) GetByAccount(ctx context.Context, accountID ulid.ULID) (*auth.ResetToken, error) {
	args := m.Called(ctx, accountID)
	tok, _ := args.Get(0).(*auth.ResetToken)
	return tok, args.Error(1)
}

func (m *mockTokenRepository) Consume(ctx context.Context, req auth.ConsumeRequest) (ulid.ULID, error) {
	args := m.Called(ctx, req)
	id, _ := args.Get(0).(ulid.ULID)
	return id, args.Error(1)
}

func (m *mockTokenRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) error {
	return m.Called(ctx, accountID).Error(0)
}

func (m *mockTokenRepository) PurgeExpired(ctx context.Context, t time.Time) (int64, error) {
	args := m.Called(ctx, t)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

type mockPasswordHasher struct{ mock.Mock }

func newMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *mockPasswordHasher {
	m := &mockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *mockPasswordHasher) Verify(password, digest string) (bool, error) {
	args := m.Called(password, digest)
	return args.Bool(0), args.Error(1)
}

func (m *mockPasswordHasher) NeedsUpgrade(digest string) bool {
	return m.Called(digest).Bool(0)
}

// plainHasher stores passwords with a marker prefix. It keeps service tests
// independent of argon2 cost.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "$plain$" + password, nil
}

func (plainHasher) Verify(password, digest string) (bool, error) {
	return digest == "$plain$"+password, nil
}

func (plainHasher) NeedsUpgrade(string) bool { return false }

var (
	_ auth.AccountRepository    = (*mockAccountRepository)(nil)
	_ auth.ResetTokenRepository = (*mockTokenRepository)(nil)
	_ auth.PasswordHasher       = (*mockPasswordHasher)(nil)
	_ auth.PasswordHasher       = plainHasher{}
)
