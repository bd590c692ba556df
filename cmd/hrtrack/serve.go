// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/authz"
	"github.com/hrtrack/hrtrack/internal/httpapi"
	"github.com/hrtrack/hrtrack/pkg/errutil"
)

// shutdownTimeout bounds the graceful stop of both servers.
const shutdownTimeout = 10 * time.Second

// serveConfig holds serve-only flags.
type serveConfig struct {
	migrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmdWithDeps(nil)
}

func newServeCmdWithDeps(deps *ServeDeps) *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HRTrack API",
		Long: `Serve the authentication API, plus Prometheus metrics and health
probes on the metrics address. Expired password tokens are purged in the
background.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}

	cmd.Flags().BoolVar(&cfg.migrate, "migrate", false, "apply pending database migrations before serving")

	return cmd
}

// runServeWithDeps runs the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, serveCfg *serveConfig, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd, deps.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err //nolint:wrapcheck // already coded
	}

	logger, err := newLogger(cfg, deps.LogOutput)
	if err != nil {
		return err
	}
	logger.Info("starting hrtrack", "config", cfg.Redacted())

	if serveCfg.migrate {
		if err := migrateUp(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	backend, err := deps.BackendOpener(ctx, cfg.StoreConfig(), logger)
	if err != nil {
		return oops.Code("SERVE_BACKEND_FAILED").Wrap(err)
	}
	defer backend.Close()

	hasher := auth.NewArgon2idHasher()
	codec, err := auth.NewJWTCodec([]byte(cfg.Session.Secret))
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	sessions, err := auth.NewSessionOracle(backend.Accounts, hasher, codec, codec,
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithSessionLogger(logger),
	)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	tokens, err := auth.NewTokenService(backend.Accounts, backend.Tokens, hasher,
		auth.WithTokenTTLs(cfg.Tokens.SetupTTL, cfg.Tokens.ResetTTL),
		auth.WithTokenLogger(logger),
	)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	mailer, err := deps.MailerFactory(cfg, logger)
	if err != nil {
		return err
	}
	gate, err := authz.NewGate(cfg.Authz.PublicPaths)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	api, err := httpapi.NewHandler(httpapi.Config{
		Sessions:      sessions,
		Tokens:        tokens,
		Accounts:      backend.Accounts,
		Mailer:        mailer,
		Gate:          gate,
		Health:        backend.Ping,
		Logger:        logger,
		PublicURL:     cfg.HTTP.PublicURL,
		SecureCookies: cfg.HTTP.SecureCookies,
	})
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiServer := deps.APIServerFactory(cfg.HTTP.Addr, api.Handler(), logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, backend.Ping, logger)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopServer(apiServer, "api", logger)
			return err //nolint:wrapcheck // already coded
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	var wg sync.WaitGroup
	wg.Go(func() { runPurger(ctx, tokens, cfg.Tokens.PurgeInterval, logger) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	metricsAddr := ""
	if obsServer != nil {
		metricsAddr = obsServer.Addr()
	}
	cmd.Println("HRTrack serving on " + apiServer.Addr())
	logger.Info("hrtrack ready", "api_addr", apiServer.Addr(), "metrics_addr", metricsAddr)
	if deps.OnReady != nil {
		deps.OnReady(apiServer.Addr(), metricsAddr)
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	cancel()

	stopServer(apiServer, "api", logger)
	if obsServer != nil {
		stopServer(obsServer, "observability", logger)
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

func migrateUp(deps *ServeDeps, databaseURL string, logger *slog.Logger) error {
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(logger, "failed to close migrator", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	logger.Info("database migrations applied")
	return nil
}

// runPurger deletes expired tokens every interval until ctx ends.
// A non-positive interval disables purging.
func runPurger(ctx context.Context, tokens *auth.TokenService, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := tokens.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				errutil.LogErrorContext(ctx, logger, "token purge failed", err)
			}
		}
	}
}

type stopper interface {
	Stop(ctx context.Context) error
}

func stopServer(s stopper, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		errutil.LogError(logger, "error stopping server", oops.With("server", name).Wrap(err))
	}
}

// monitorServerErrors cancels the context when a server fails after
// starting. It exits when the channel closes or the context ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
