// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/auth/postgres"
	"github.com/hrtrack/hrtrack/internal/authz"
	"github.com/hrtrack/hrtrack/internal/config"
	"github.com/hrtrack/hrtrack/internal/httpapi"
	"github.com/hrtrack/hrtrack/internal/notify"
	"github.com/hrtrack/hrtrack/internal/observability"
	"github.com/hrtrack/hrtrack/internal/store"
)

// Backend is the account storage a command runs against.
type Backend struct {
	Accounts auth.AccountRepository
	Tokens   auth.ResetTokenRepository
	Ping     func(ctx context.Context) error
	Close    func()
}

// BackendOpener connects to the account storage.
type BackendOpener func(ctx context.Context, cfg store.Config, logger *slog.Logger) (*Backend, error)

// Migrator is the part of store.Migrator that serve --migrate uses.
type Migrator interface {
	Up() error
	Close() error
}

// APIServer wraps the methods used from httpapi.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendOpener connects to storage.
	// Default: openPostgres
	BackendOpener BackendOpener

	// MigratorFactory creates a migrator for --migrate.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// MailerFactory selects the mailer from the mail settings.
	// Default: newMailer
	MailerFactory func(cfg *config.Config, logger *slog.Logger) (notify.Mailer, error)

	// APIServerFactory creates the API server.
	// Default: httpapi.NewServer
	APIServerFactory func(addr string, handler http.Handler, logger *slog.Logger) APIServer

	// ObservabilityServerFactory creates the metrics and probe server.
	// Default: observability.NewServer with every package's metrics
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Getenv looks up secret environment variables.
	// Default: os.Getenv
	Getenv func(string) string

	// LogOutput receives log lines.
	// Default: stderr
	LogOutput io.Writer

	// OnReady is called once both servers listen.
	OnReady func(apiAddr, metricsAddr string)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.BackendOpener == nil {
		out.BackendOpener = openPostgres
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err //nolint:wrapcheck // already coded
			}
			return m, nil
		}
	}
	if out.MailerFactory == nil {
		out.MailerFactory = newMailer
	}
	if out.APIServerFactory == nil {
		out.APIServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) APIServer {
			return httpapi.NewServer(addr, handler, logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger,
				auth.RegisterMetrics,
				authz.RegisterMetrics,
				store.RegisterMetrics,
				notify.RegisterMetrics,
				httpapi.RegisterMetrics,
			)
		}
	}
	return &out
}

// openPostgres opens the pool and builds the PostgreSQL repositories on it.
func openPostgres(ctx context.Context, cfg store.Config, logger *slog.Logger) (*Backend, error) {
	db, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return &Backend{
		Accounts: postgres.NewAccountRepository(db.Pool, db.Retrier),
		Tokens:   postgres.NewTokenRepository(db.Pool, db.Retrier),
		Ping:     db.Ping,
		Close:    db.Close,
	}, nil
}

// newMailer returns the mailer named by mail.driver.
func newMailer(cfg *config.Config, logger *slog.Logger) (notify.Mailer, error) {
	if cfg.Mail.Driver != config.MailDriverSMTP {
		return notify.NewLogMailer(logger), nil
	}
	m, err := notify.NewSMTPMailer(cfg.SMTPConfig(), logger)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return m, nil
}
