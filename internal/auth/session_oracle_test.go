// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/auth/authtest"
	"github.com/hrtrack/hrtrack/pkg/errutil"
)

type oracleFixture struct {
	store  *authtest.Store
	clock  *testClock
	codec  *auth.JWTCodec
	oracle *auth.SessionOracle
}

func newOracleFixture(t *testing.T, hasher auth.PasswordHasher, opts ...auth.SessionOracleOption) *oracleFixture {
	t.Helper()
	store := authtest.NewStore()
	clock := newTestClock()
	codec, err := auth.NewJWTCodec(testSessionKey)
	require.NoError(t, err)
	codec = codec.WithClock(clock.Now)

	opts = append([]auth.SessionOracleOption{auth.WithSessionClock(clock.Now)}, opts...)
	oracle, err := auth.NewSessionOracle(store.Accounts(), hasher, codec, codec, opts...)
	require.NoError(t, err)
	return &oracleFixture{store: store, clock: clock, codec: codec, oracle: oracle}
}

func (f *oracleFixture) addAccount(t *testing.T, email string, role auth.Role, hash *string, lastLogin *time.Time) *auth.Account {
	t.Helper()
	account, err := auth.NewAccount(email, "Login User", role)
	require.NoError(t, err)
	account.PasswordHash = hash
	account.LastLoginAt = lastLogin
	f.store.Put(account)
	return account
}

func TestNewSessionOracle_NilDependencies(t *testing.T) {
	store := authtest.NewStore()
	codec, err := auth.NewJWTCodec(testSessionKey)
	require.NoError(t, err)

	tests := []struct {
		name        string
		accounts    auth.AccountRepository
		hasher      auth.PasswordHasher
		signer      auth.SessionSigner
		verifier    auth.SessionVerifier
		expectError string
	}{
		{"nil accounts", nil, plainHasher{}, codec, codec, "account repository is required"},
		{"nil hasher", store.Accounts(), nil, codec, codec, "password hasher is required"},
		{"nil signer", store.Accounts(), plainHasher{}, nil, codec, "session signer is required"},
		{"nil verifier", store.Accounts(), plainHasher{}, codec, nil, "session verifier is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle, err := auth.NewSessionOracle(tt.accounts, tt.hasher, tt.signer, tt.verifier)
			require.Error(t, err)
			assert.Nil(t, oracle)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}

	t.Run("nil logger", func(t *testing.T) {
		oracle, err := auth.NewSessionOracle(store.Accounts(), plainHasher{}, codec, codec, auth.WithSessionLogger(nil))
		require.Error(t, err)
		assert.Nil(t, oracle)
	})
}

func TestSessionOracle_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login signs session and records login", func(t *testing.T) {
		f := newOracleFixture(t, plainHasher{}, auth.WithSessionTTL(2*time.Hour))
		account := f.addAccount(t, "boss@example.com", auth.RoleEmployer, strPtr("$plain$hunter22"), nil)

		session, token, err := f.oracle.Login(ctx, "Boss@Example.com", "hunter22", auth.RoleEmployer)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, account.ID, session.AccountID)
		assert.Equal(t, auth.RoleEmployer, session.Role)
		assert.Equal(t, f.clock.Now(), session.IssuedAt)
		assert.Equal(t, f.clock.Now().Add(2*time.Hour), session.ExpiresAt)

		verified, err := f.codec.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, account.ID, verified.AccountID)

		stored, _ := f.store.Account(account.ID)
		require.NotNil(t, stored.LastLoginAt)
		assert.Equal(t, f.clock.Now(), *stored.LastLoginAt)
		assert.True(t, stored.HasPassword())
	})

	t.Run("failures collapse to one error", func(t *testing.T) {
		f := newOracleFixture(t, plainHasher{})
		f.addAccount(t, "nohash@example.com", auth.RoleEmployee, nil, nil)
		f.addAccount(t, "user@example.com", auth.RoleEmployee, strPtr("$plain$right-password"), nil)

		cases := map[string][2]string{
			"missing account": {"ghost@example.com", "whatever1"},
			"unset hash":      {"nohash@example.com", "whatever1"},
			"wrong password":  {"user@example.com", "wrong-password"},
		}
		var messages []string
		for name, c := range cases {
			_, token, err := f.oracle.Login(ctx, c[0], c[1], auth.RoleEmployee)
			require.Error(t, err, name)
			assert.Empty(t, token, name)
			assert.ErrorIs(t, err, auth.ErrAuthFailure, name)
			assert.Equal(t, auth.KindAuthFailure, auth.KindOf(err), name)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
			messages = append(messages, err.Error())
		}
		for _, m := range messages {
			assert.Equal(t, messages[0], m)
		}
	})

	t.Run("role is part of the lookup", func(t *testing.T) {
		f := newOracleFixture(t, plainHasher{})
		f.addAccount(t, "staff@example.com", auth.RoleEmployee, strPtr("$plain$password1"), nil)

		_, _, err := f.oracle.Login(ctx, "staff@example.com", "password1", auth.RoleEmployer)
		assert.ErrorIs(t, err, auth.ErrAuthFailure)
	})

	t.Run("missing account still verifies the dummy hash", func(t *testing.T) {
		hasher := newMockPasswordHasher(t)
		f := newOracleFixture(t, hasher)

		hasher.On("Verify", "password1", mock.MatchedBy(func(d string) bool {
			return len(d) > len("$argon2id$")
		})).Return(false, nil).Once()

		_, _, err := f.oracle.Login(ctx, "ghost@example.com", "password1", auth.RoleEmployee)
		assert.ErrorIs(t, err, auth.ErrAuthFailure)
	})

	t.Run("validates input", func(t *testing.T) {
		f := newOracleFixture(t, plainHasher{})

		_, _, err := f.oracle.Login(ctx, "", "password", auth.RoleEmployee)
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))

		_, _, err = f.oracle.Login(ctx, "a@example.com", "", auth.RoleEmployee)
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))

		_, _, err = f.oracle.Login(ctx, "a@example.com", "password", auth.Role("GUEST"))
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
	})

	t.Run("locks after repeated failures", func(t *testing.T) {
		f := newOracleFixture(t, plainHasher{})
		account := f.addAccount(t, "locked@example.com", auth.RoleEmployee, strPtr("$plain$correct-pw"), nil)

		for range auth.LockoutThreshold {
			_, _, err := f.oracle.Login(ctx, "locked@example.com", "wrong-pw", auth.RoleEmployee)
			require.ErrorIs(t, err, auth.ErrAuthFailure)
		}

		_, _, err := f.oracle.Login(ctx, "locked@example.com", "correct-pw", auth.RoleEmployee)
		require.ErrorIs(t, err, auth.ErrAccountLocked)
		assert.Equal(t, auth.KindAuthFailure, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_LOCKED")

		f.clock.Advance(auth.LockoutDuration)
		_, _, err = f.oracle.Login(ctx, "locked@example.com", "correct-pw", auth.RoleEmployee)
		require.NoError(t, err)

		stored, _ := f.store.Account(account.ID)
		assert.Zero(t, stored.FailedAttempts)
		assert.Nil(t, stored.LockedUntil)
	})

	t.Run("upgrades legacy hash", func(t *testing.T) {
		hasher := newMockPasswordHasher(t)
		f := newOracleFixture(t, hasher)
		account := f.addAccount(t, "legacy@example.com", auth.RoleEmployee, strPtr("$2a$legacy"), nil)

		hasher.On("Verify", "password1", "$2a$legacy").Return(true, nil)
		hasher.On("NeedsUpgrade", "$2a$legacy").Return(true)
		hasher.On("Hash", "password1").Return("$argon2id$upgraded", nil)

		_, _, err := f.oracle.Login(ctx, "legacy@example.com", "password1", auth.RoleEmployee)
		require.NoError(t, err)

		stored, _ := f.store.Account(account.ID)
		assert.Equal(t, "$argon2id$upgraded", *stored.PasswordHash)
	})

	t.Run("upgrade leaves a concurrently changed hash alone", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		hasher := newMockPasswordHasher(t)
		f := newOracleFixture(t, hasher, auth.WithSessionLogger(logger))
		account := f.addAccount(t, "legacy2@example.com", auth.RoleEmployee, strPtr("$2a$legacy"), nil)

		hasher.On("Verify", "password1", "$2a$legacy").Return(true, nil).Run(func(mock.Arguments) {
			changed := *account
			changed.PasswordHash = strPtr("$argon2id$reset")
			f.store.Put(&changed)
		})
		hasher.On("NeedsUpgrade", "$2a$legacy").Return(true)
		hasher.On("Hash", "password1").Return("$argon2id$upgraded", nil)

		_, _, err := f.oracle.Login(ctx, "legacy2@example.com", "password1", auth.RoleEmployee)
		require.NoError(t, err)

		stored, _ := f.store.Account(account.ID)
		assert.Equal(t, "$argon2id$reset", *stored.PasswordHash)
		assert.Contains(t, buf.String(), "password hash upgrade skipped")
	})

	t.Run("update failure fails login", func(t *testing.T) {
		accounts := newMockAccountRepository(t)
		codec, err := auth.NewJWTCodec(testSessionKey)
		require.NoError(t, err)
		oracle, err := auth.NewSessionOracle(accounts, plainHasher{}, codec, codec)
		require.NoError(t, err)

		account := &auth.Account{ID: ulid.Make(), Email: "u@example.com", Role: auth.RoleEmployee, PasswordHash: strPtr("$plain$password1")}
		accounts.On("GetByEmail", mock.Anything, "u@example.com", auth.RoleEmployee).Return(account, nil)
		accounts.On("RecordLogin", mock.Anything, account.ID, mock.AnythingOfType("time.Time")).Return(assert.AnError)

		_, token, err := oracle.Login(ctx, "u@example.com", "password1", auth.RoleEmployee)
		require.Error(t, err)
		assert.Empty(t, token)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
	})

	t.Run("lookup failure is internal", func(t *testing.T) {
		accounts := newMockAccountRepository(t)
		codec, err := auth.NewJWTCodec(testSessionKey)
		require.NoError(t, err)
		oracle, err := auth.NewSessionOracle(accounts, plainHasher{}, codec, codec)
		require.NoError(t, err)

		accounts.On("GetByEmail", mock.Anything, "u@example.com", auth.RoleEmployee).Return(nil, assert.AnError)

		_, _, err = oracle.Login(ctx, "u@example.com", "password1", auth.RoleEmployee)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
	})

	t.Run("logs failure to record a failed attempt", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		accounts := newMockAccountRepository(t)
		codec, err := auth.NewJWTCodec(testSessionKey)
		require.NoError(t, err)
		oracle, err := auth.NewSessionOracle(accounts, plainHasher{}, codec, codec, auth.WithSessionLogger(logger))
		require.NoError(t, err)

		account := &auth.Account{ID: ulid.Make(), Email: "u@example.com", Role: auth.RoleEmployee, PasswordHash: strPtr("$plain$password1")}
		accounts.On("GetByEmail", mock.Anything, "u@example.com", auth.RoleEmployee).Return(account, nil)
		accounts.On("RecordLoginFailure", mock.Anything, account.ID, 1, (*time.Time)(nil), mock.AnythingOfType("time.Time")).
			Return(assert.AnError)

		_, _, err = oracle.Login(ctx, "u@example.com", "bad-password", auth.RoleEmployee)
		require.ErrorIs(t, err, auth.ErrAuthFailure)
		assert.Contains(t, buf.String(), "failed to record login failure")
		assert.Contains(t, buf.String(), account.ID.String())
	})
}

func TestSessionOracle_CurrentIdentity(t *testing.T) {
	f := newOracleFixture(t, plainHasher{})
	now := f.clock.Now()
	session := auth.Session{AccountID: ulid.Make(), Role: auth.RoleEmployee, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	token, err := f.codec.Sign(session)
	require.NoError(t, err)

	t.Run("no credentials is anonymous", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/employee/dashboard", nil)
		assert.Equal(t, auth.Anonymous, f.oracle.CurrentIdentity(r))
	})

	t.Run("reads session cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/employee/dashboard", nil)
		r.AddCookie(auth.SessionCookie(token, session, false))
		assert.Equal(t, session.Identity(), f.oracle.CurrentIdentity(r))
	})

	t.Run("reads bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/employee/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, session.Identity(), f.oracle.CurrentIdentity(r))
	})

	t.Run("garbage token is anonymous", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "not.a.jwt"})
		assert.Equal(t, auth.Anonymous, f.oracle.CurrentIdentity(r))
	})

	t.Run("expired token is anonymous", func(t *testing.T) {
		f.clock.Advance(2 * time.Hour)
		defer f.clock.Set(now)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, auth.Anonymous, f.oracle.CurrentIdentity(r))
	})

	t.Run("does not consult the account store", func(t *testing.T) {
		f.store.Err = assert.AnError
		defer func() { f.store.Err = nil }()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, session.Identity(), f.oracle.CurrentIdentity(r))
	})
}

func TestSessionCookies(t *testing.T) {
	now := time.Now()
	session := auth.Session{IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	c := auth.SessionCookie("tok", session, true)
	assert.Equal(t, auth.SessionCookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, 3600, c.MaxAge)

	cleared := auth.ClearSessionCookie(false)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Empty(t, cleared.Value)
}

// gatedHasher blocks inside Verify until released, so a test can change the
// stored password while a login is checking the old one.
type gatedHasher struct {
	plainHasher
	entered chan struct{}
	release chan struct{}
}

func newGatedHasher() *gatedHasher {
	return &gatedHasher{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (h *gatedHasher) Verify(password, digest string) (bool, error) {
	h.entered <- struct{}{}
	<-h.release
	return h.plainHasher.Verify(password, digest)
}

func TestSessionOracle_LoginDuringPasswordReset(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		password  string
		wantLogin error
		failures  int
	}{
		{"failed login keeps the new password", "wrong-password-9", auth.ErrAuthFailure, 1},
		{"successful login keeps the new password", "old-password-1", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			hasher := newGatedHasher()
			f := newOracleFixture(t, hasher)
			account := f.addAccount(t, "racer@example.com", auth.RoleEmployee, strPtr("$plain$old-password-1"), timePtr(f.clock.Now()))

			tokens, err := auth.NewTokenService(f.store.Accounts(), f.store.Tokens(), plainHasher{},
				auth.WithTokenClock(f.clock.Now))
			require.NoError(t, err)
			issued, err := tokens.Issue(ctx, account.ID, auth.PurposeReset, time.Hour)
			require.NoError(t, err)

			loginErr := make(chan error, 1)
			go func() {
				_, _, err := f.oracle.Login(ctx, "racer@example.com", tt.password, auth.RoleEmployee)
				loginErr <- err
			}()

			<-hasher.entered
			_, err = tokens.ResetPassword(ctx, issued.Token, auth.RoleEmployee, "new-password-123")
			require.NoError(t, err)
			close(hasher.release)

			err = <-loginErr
			if tt.wantLogin != nil {
				require.ErrorIs(t, err, tt.wantLogin)
			} else {
				require.NoError(t, err)
			}

			stored, ok := f.store.Account(account.ID)
			require.True(t, ok)
			assert.Equal(t, "$plain$new-password-123", *stored.PasswordHash, "reset must survive the login write")
			assert.Equal(t, tt.failures, stored.FailedAttempts)
			assert.Equal(t, 0, f.store.TokenCount())
		})
	}
}
