// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/pkg/errutil"
)

var tokenColumnNames = []string{"account_id", "token_hash", "role", "purpose", "expires_at", "created_at"}

var (
	consumeDelete = regexp.QuoteMeta("DELETE FROM reset_tokens")
	consumeUpdate = regexp.QuoteMeta("UPDATE accounts SET password_hash = $2, updated_at = $3")
)

func testToken(t *testing.T) *auth.ResetToken {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tok, err := auth.NewResetToken(ulid.Make(), auth.RoleEmployer, auth.PurposeSetup,
		auth.HashResetToken("plaintext"), now, auth.DefaultSetupTokenTTL)
	require.NoError(t, err)
	return tok
}

func consumeRequest() auth.ConsumeRequest {
	return auth.ConsumeRequest{
		TokenHash:    auth.HashResetToken("plaintext"),
		Role:         auth.RoleEmployer,
		At:           time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		PasswordHash: "$argon2id$new",
	}
}

func TestTokenRepository_Upsert(t *testing.T) {
	mock := newMockPool(t)
	tok := testToken(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (account_id) DO UPDATE")).
		WithArgs(tok.AccountID.String(), tok.TokenHash, "EMPLOYER", "setup", tok.ExpiresAt, tok.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewTokenRepository(mock, nil).Upsert(context.Background(), tok))
}

func TestTokenRepository_UpsertFailure(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reset_tokens")).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})

	err := NewTokenRepository(mock, nil).Upsert(context.Background(), testToken(t))
	errutil.AssertErrorContext(t, err, "operation", "upsert reset token")
}

func TestTokenRepository_GetByTokenHash(t *testing.T) {
	query := regexp.QuoteMeta("FROM reset_tokens WHERE token_hash = $1")

	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		want := testToken(t)
		mock.ExpectQuery(query).WithArgs(want.TokenHash).WillReturnRows(
			pgxmock.NewRows(tokenColumnNames).AddRow(
				want.AccountID.String(), want.TokenHash, "EMPLOYER", "setup", want.ExpiresAt, want.CreatedAt))

		got, err := NewTokenRepository(mock, nil).GetByTokenHash(context.Background(), want.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(query).WithArgs("nope").WillReturnRows(pgxmock.NewRows(tokenColumnNames))

		_, err := NewTokenRepository(mock, nil).GetByTokenHash(context.Background(), "nope")
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "TOKEN_NOT_FOUND")
	})
}

func TestTokenRepository_GetByAccount(t *testing.T) {
	mock := newMockPool(t)
	id := ulid.Make()
	mock.ExpectQuery(regexp.QuoteMeta("FROM reset_tokens WHERE account_id = $1")).
		WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows(tokenColumnNames))

	_, err := NewTokenRepository(mock, nil).GetByAccount(context.Background(), id)
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestTokenRepository_Consume(t *testing.T) {
	t.Run("deletes token and writes password in one transaction", func(t *testing.T) {
		mock := newMockPool(t)
		req := consumeRequest()
		id := ulid.Make()

		mock.ExpectBegin()
		mock.ExpectQuery(consumeDelete).
			WithArgs(req.TokenHash, "EMPLOYER", req.At).
			WillReturnRows(pgxmock.NewRows([]string{"account_id"}).AddRow(id.String()))
		mock.ExpectExec(consumeUpdate).
			WithArgs(id.String(), req.PasswordHash, req.At).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		got, err := NewTokenRepository(mock, nil).Consume(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("no matching token writes nothing", func(t *testing.T) {
		mock := newMockPool(t)
		req := consumeRequest()

		mock.ExpectBegin()
		mock.ExpectQuery(consumeDelete).
			WithArgs(req.TokenHash, "EMPLOYER", req.At).
			WillReturnRows(pgxmock.NewRows([]string{"account_id"}))
		mock.ExpectRollback()

		_, err := NewTokenRepository(mock, nil).Consume(context.Background(), req)
		require.ErrorIs(t, err, auth.ErrTokenInvalid)
		assert.NotErrorIs(t, err, auth.ErrConsumeUnconfirmed)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID")
	})

	t.Run("password write failure rolls back the delete", func(t *testing.T) {
		mock := newMockPool(t)
		req := consumeRequest()
		id := ulid.Make()

		mock.ExpectBegin()
		mock.ExpectQuery(consumeDelete).
			WillReturnRows(pgxmock.NewRows([]string{"account_id"}).AddRow(id.String()))
		mock.ExpectExec(consumeUpdate).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := NewTokenRepository(mock, nil).Consume(context.Background(), req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrTokenInvalid)
		errutil.AssertErrorCode(t, err, "TOKEN_CONSUME_FAILED")
	})

	t.Run("replay after a lost commit finds no token", func(t *testing.T) {
		mock := newMockPool(t)
		req := consumeRequest()
		id := ulid.Make()

		mock.ExpectBegin()
		mock.ExpectQuery(consumeDelete).
			WillReturnRows(pgxmock.NewRows([]string{"account_id"}).AddRow(id.String()))
		mock.ExpectExec(consumeUpdate).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: pgerrcode.ConnectionFailure})
		mock.ExpectBegin()
		mock.ExpectQuery(consumeDelete).WillReturnRows(pgxmock.NewRows([]string{"account_id"}))
		mock.ExpectRollback()

		_, err := NewTokenRepository(mock, fastRetrier()).Consume(context.Background(), req)
		require.ErrorIs(t, err, auth.ErrTokenInvalid)
		assert.ErrorIs(t, err, auth.ErrConsumeUnconfirmed)
		errutil.AssertErrorContext(t, err, "attempts", 2)
	})
}

func TestTokenRepository_DeleteByAccount(t *testing.T) {
	mock := newMockPool(t)
	id := ulid.Make()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reset_tokens WHERE account_id = $1")).
		WithArgs(id.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, NewTokenRepository(mock, nil).DeleteByAccount(context.Background(), id))
}

func TestTokenRepository_PurgeExpired(t *testing.T) {
	mock := newMockPool(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reset_tokens WHERE expires_at <= $1")).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := NewTokenRepository(mock, nil).PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
