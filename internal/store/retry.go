// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ErrUnavailable is returned when the store keeps failing with transient
// errors after all retries.
var ErrUnavailable = errors.New("store unavailable")

// Retry defaults.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 100 * time.Millisecond
	DefaultAttemptTimeout = 5 * time.Second
)

// RetryConfig bounds retries of store operations.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	// AttemptTimeout bounds each attempt, including the wait for a pooled
	// connection. Zero disables the per-attempt timeout.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     DefaultMaxRetries,
		Backoff:        DefaultRetryBackoff,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Retrier runs store operations with bounded retry on transient failures.
// A nil *Retrier runs each operation once.
type Retrier struct {
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetrier creates a Retrier. A nil logger uses slog.Default.
func NewRetrier(cfg RetryConfig, logger *slog.Logger) *Retrier {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultRetryBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{cfg: cfg, logger: logger}
}

// Do runs fn, retrying transient failures up to MaxRetries times with a
// constant backoff. Non-transient errors return immediately and unchanged.
// When retries run out the error wraps ErrUnavailable.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if r == nil {
		return fn(ctx)
	}

	attempts := 0
	lastTransient := false
	backoff := retry.WithMaxRetries(r.cfg.MaxRetries, retry.NewConstant(r.cfg.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := r.attempt(ctx, fn)
		lastTransient = err != nil && IsTransient(ctx, err)
		if !lastTransient {
			return err
		}
		RetryAttempts.WithLabelValues(op).Inc()
		r.logger.WarnContext(ctx, "transient store error",
			"operation", op, "attempt", attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err == nil || !lastTransient {
		return err
	}
	if ctx.Err() != nil {
		return oops.Code("STORE_CANCELED").With("operation", op).Wrap(err)
	}

	RetryExhausted.WithLabelValues(op).Inc()
	return oops.Code("STORE_UNAVAILABLE").
		With("operation", op).
		With("attempts", attempts).
		Wrap(fmt.Errorf("%w: %w", ErrUnavailable, err))
}

func (r *Retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return fn(actx)
}

// IsTransient reports whether err is worth retrying: lost or refused
// connections, server shutdown and overload, serialization conflicts, and
// attempt timeouts while ctx itself is still live.
func IsTransient(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ctx.Err() == nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return true
		}
		switch pgErr.Code {
		case pgerrcode.TooManyConnections,
			pgerrcode.AdminShutdown,
			pgerrcode.CrashShutdown,
			pgerrcode.CannotConnectNow,
			pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected:
			return true
		}
		return false
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
