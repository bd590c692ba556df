// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/store"
)

const tokenColumns = `account_id, token_hash, role, purpose, expires_at, created_at`

// TokenRepository implements auth.ResetTokenRepository using PostgreSQL.
// The account_id primary key holds each account to one live token.
type TokenRepository struct {
	db      store.DBTX
	retrier *store.Retrier
}

// NewTokenRepository creates a TokenRepository. A nil retrier runs each
// query once.
func NewTokenRepository(db store.DBTX, retrier *store.Retrier) *TokenRepository {
	return &TokenRepository{db: db, retrier: retrier}
}

// Upsert stores token, replacing the account's previous token.
func (r *TokenRepository) Upsert(ctx context.Context, token *auth.ResetToken) error {
	err := r.retrier.Do(ctx, "token.upsert", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO reset_tokens (`+tokenColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (account_id) DO UPDATE SET
				token_hash = EXCLUDED.token_hash,
				role = EXCLUDED.role,
				purpose = EXCLUDED.purpose,
				expires_at = EXCLUDED.expires_at,
				created_at = EXCLUDED.created_at
		`,
			token.AccountID.String(),
			token.TokenHash,
			string(token.Role),
			string(token.Purpose),
			token.ExpiresAt,
			token.CreatedAt,
		)
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return oops.Code("TOKEN_UPSERT_FAILED").
			With("operation", "upsert reset token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by its hash.
func (r *TokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	var token *auth.ResetToken
	err := r.retrier.Do(ctx, "token.get_by_hash", func(ctx context.Context) error {
		var err error
		token, err = scanToken(r.db.QueryRow(ctx,
			`SELECT `+tokenColumns+` FROM reset_tokens WHERE token_hash = $1`, tokenHash))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get reset token by hash").
			Wrap(err)
	}
	return token, nil
}

// GetByAccount retrieves the live token of an account.
func (r *TokenRepository) GetByAccount(ctx context.Context, accountID ulid.ULID) (*auth.ResetToken, error) {
	var token *auth.ResetToken
	err := r.retrier.Do(ctx, "token.get_by_account", func(ctx context.Context) error {
		var err error
		token, err = scanToken(r.db.QueryRow(ctx,
			`SELECT `+tokenColumns+` FROM reset_tokens WHERE account_id = $1`, accountID.String()))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get reset token by account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return token, nil
}

// Consume deletes the matching unexpired token and stores the new password
// hash in one transaction. Concurrent consumers of the same token race on
// the DELETE; exactly one sees the row.
//
// A retried attempt after a lost commit finds no row and reports
// auth.ErrTokenInvalid, so the password is never written twice. Such a miss
// also matches auth.ErrConsumeUnconfirmed.
func (r *TokenRepository) Consume(ctx context.Context, req auth.ConsumeRequest) (ulid.ULID, error) {
	var accountID ulid.ULID
	attempts := 0
	err := r.retrier.Do(ctx, "token.consume", func(ctx context.Context) error {
		attempts++
		id, err := r.consume(ctx, req)
		if err == nil {
			accountID = id
		}
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		if attempts > 1 {
			return ulid.ULID{}, oops.Code("TOKEN_INVALID").
				With("attempts", attempts).
				Wrap(fmt.Errorf("%w: %w", auth.ErrTokenInvalid, auth.ErrConsumeUnconfirmed))
		}
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").Wrap(auth.ErrTokenInvalid)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return accountID, nil
}

func (r *TokenRepository) consume(ctx context.Context, req auth.ConsumeRequest) (ulid.ULID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return ulid.ULID{}, err //nolint:wrapcheck // wrapped by Consume
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var idStr string
	err = tx.QueryRow(ctx, `
		DELETE FROM reset_tokens
		WHERE token_hash = $1 AND role = $2 AND expires_at > $3
		RETURNING account_id
	`, req.TokenHash, string(req.Role), req.At).Scan(&idStr)
	if err != nil {
		return ulid.ULID{}, err //nolint:wrapcheck // ErrNoRows is matched by Consume
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID_ACCOUNT_ID").With("account_id", idStr).Wrap(err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, idStr, req.PasswordHash, req.At)
	if err != nil {
		return ulid.ULID{}, err //nolint:wrapcheck // wrapped by Consume
	}
	if tag.RowsAffected() == 0 {
		return ulid.ULID{}, oops.Code("ACCOUNT_NOT_FOUND").With("id", idStr).Wrap(auth.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return ulid.ULID{}, err //nolint:wrapcheck // wrapped by Consume
	}
	return id, nil
}

// DeleteByAccount removes the account's token. No token is not an error.
func (r *TokenRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) error {
	err := r.retrier.Do(ctx, "token.delete_by_account", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `DELETE FROM reset_tokens WHERE account_id = $1`, accountID.String())
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").
			With("operation", "delete reset token").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// PurgeExpired removes tokens that expired at or before t.
func (r *TokenRepository) PurgeExpired(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := r.retrier.Do(ctx, "token.purge_expired", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `DELETE FROM reset_tokens WHERE expires_at <= $1`, t)
		n = tag.RowsAffected()
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").
			With("operation", "purge expired reset tokens").
			Wrap(err)
	}
	return n, nil
}

// scanToken scans one reset_tokens row. pgx.ErrNoRows is returned unwrapped.
func scanToken(row pgx.Row) (*auth.ResetToken, error) {
	var (
		accountIDStr string
		tokenHash    string
		role         string
		purpose      string
		expiresAt    time.Time
		createdAt    time.Time
	)
	if err := row.Scan(&accountIDStr, &tokenHash, &role, &purpose, &expiresAt, &createdAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}

	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ACCOUNT_ID").With("account_id", accountIDStr).Wrap(err)
	}

	return &auth.ResetToken{
		AccountID: accountID,
		TokenHash: tokenHash,
		Role:      auth.Role(role),
		Purpose:   auth.TokenPurpose(purpose),
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.ResetTokenRepository = (*TokenRepository)(nil)
