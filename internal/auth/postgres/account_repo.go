// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

// Package postgres provides PostgreSQL implementations of the auth repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/store"
)

const accountColumns = `id, email, name, role, password_hash, last_login_at,
	failed_attempts, locked_until, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db      store.DBTX
	retrier *store.Retrier
}

// NewAccountRepository creates an AccountRepository. A nil retrier runs each
// query once.
func NewAccountRepository(db store.DBTX, retrier *store.Retrier) *AccountRepository {
	return &AccountRepository{db: db, retrier: retrier}
}

// Create stores a new account. A second account with the same email and
// role fails with auth.ErrDuplicateAccount.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	err := r.retrier.Do(ctx, "account.create", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			account.ID.String(),
			account.Email,
			account.Name,
			string(account.Role),
			account.PasswordHash,
			account.LastLoginAt,
			account.FailedAttempts,
			account.LockedUntil,
			account.CreatedAt,
			account.UpdatedAt,
		)
		return err //nolint:wrapcheck // wrapped below
	})
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_DUPLICATE").
			With("email", account.Email).
			With("role", string(account.Role)).
			Wrap(auth.ErrDuplicateAccount)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("email", account.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	var account *auth.Account
	err := r.retrier.Do(ctx, "account.get_by_id", func(ctx context.Context) error {
		var err error
		account, err = scanAccount(r.db.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String()))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves the account with this email (case-insensitive) in
// role.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string, role auth.Role) (*auth.Account, error) {
	var account *auth.Account
	err := r.retrier.Do(ctx, "account.get_by_email", func(ctx context.Context) error {
		var err error
		account, err = scanAccount(r.db.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1) AND role = $2`,
			email, string(role)))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			With("role", string(role)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// RecordLoginFailure stores the failure counter and lockout. The password
// hash is not part of the write, so a reset committed while the password
// was being checked survives.
func (r *AccountRepository) RecordLoginFailure(
	ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time, at time.Time,
) error {
	return r.execOne(ctx, "account.record_failure", "record login failure", id, `
		UPDATE accounts SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), failedAttempts, lockedUntil, at)
}

// RecordLogin clears the failure state and stamps last_login_at.
func (r *AccountRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.execOne(ctx, "account.record_login", "record login", id, `
		UPDATE accounts SET failed_attempts = 0, locked_until = NULL, last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, id.String(), at)
}

// UpgradePasswordHash swaps oldHash for newHash. It matches on the old hash
// so it cannot undo a password set after oldHash was read.
func (r *AccountRepository) UpgradePasswordHash(
	ctx context.Context, id ulid.ULID, oldHash, newHash string, at time.Time,
) (bool, error) {
	var affected int64
	err := r.retrier.Do(ctx, "account.upgrade_hash", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE accounts SET password_hash = $3, updated_at = $4
			WHERE id = $1 AND password_hash = $2
		`, id.String(), oldHash, newHash, at)
		affected = tag.RowsAffected()
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return false, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "upgrade password hash").
			With("id", id.String()).
			Wrap(err)
	}
	return affected > 0, nil
}

// execOne runs an UPDATE that must hit exactly the account with id.
func (r *AccountRepository) execOne(ctx context.Context, op, desc string, id ulid.ULID, sql string, args ...any) error {
	var affected int64
	err := r.retrier.Do(ctx, op, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, sql, args...)
		affected = tag.RowsAffected()
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", desc).
			With("id", id.String()).
			Wrap(err)
	}
	if affected == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanAccount scans one accounts row. pgx.ErrNoRows is returned unwrapped.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr          string
		email          string
		name           string
		role           string
		passwordHash   *string
		lastLoginAt    *time.Time
		failedAttempts int
		lockedUntil    *time.Time
		createdAt      time.Time
		updatedAt      time.Time
	)
	err := row.Scan(
		&idStr,
		&email,
		&name,
		&role,
		&passwordHash,
		&lastLoginAt,
		&failedAttempts,
		&lockedUntil,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	parsedRole, err := auth.ParseRole(role)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ROLE").With("id", idStr).Wrap(err)
	}

	return &auth.Account{
		ID:             id,
		Email:          email,
		Name:           name,
		Role:           parsedRole,
		PasswordHash:   passwordHash,
		LastLoginAt:    lastLoginAt,
		FailedAttempts: failedAttempts,
		LockedUntil:    lockedUntil,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
