// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/config"
	"github.com/hrtrack/hrtrack/internal/httpapi"
	"github.com/hrtrack/hrtrack/internal/notify"
)

// Default timeout for the bootstrap command.
const defaultBootstrapTimeout = 30 * time.Second

// bootstrapConfig holds configuration for the bootstrap command.
type bootstrapConfig struct {
	email   string
	name    string
	send    bool
	timeout time.Duration
}

// bootstrapDeps contains injectable dependencies for the bootstrap command.
type bootstrapDeps struct {
	// BackendOpener connects to storage.
	// Default: openPostgres
	BackendOpener BackendOpener

	// MailerFactory selects the mailer for --send.
	// Default: newMailer
	MailerFactory func(cfg *config.Config, logger *slog.Logger) (notify.Mailer, error)

	// Getenv looks up secret environment variables.
	// Default: os.Getenv
	Getenv func(string) string

	// LogOutput receives log lines.
	// Default: io.Discard
	LogOutput io.Writer
}

// NewBootstrapCmd creates the bootstrap subcommand.
func NewBootstrapCmd() *cobra.Command {
	return newBootstrapCmdWithDeps(nil)
}

func newBootstrapCmdWithDeps(deps *bootstrapDeps) *cobra.Command {
	cfg := &bootstrapConfig{}

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first employer account",
		Long: `Creates an employer account pending password setup and prints its
setup link. Running it again for an existing employer changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBootstrap(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.email, "email", "", "employer email address (required)")
	cmd.Flags().StringVar(&cfg.name, "name", "", "employer display name (required)")
	cmd.Flags().BoolVar(&cfg.send, "send", false, "also email the setup link with the configured mailer")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultBootstrapTimeout, "timeout for database operations (e.g., 30s, 1m)")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("name")  //nolint:errcheck // flag is defined above

	return cmd
}

func runBootstrap(cmd *cobra.Command, bcfg *bootstrapConfig, deps *bootstrapDeps) error {
	if deps == nil {
		deps = &bootstrapDeps{}
	}
	if deps.BackendOpener == nil {
		deps.BackendOpener = openPostgres
	}
	if deps.MailerFactory == nil {
		deps.MailerFactory = newMailer
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	if deps.LogOutput == nil {
		deps.LogOutput = io.Discard
	}

	cfg, err := loadConfig(cmd, deps.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	base, err := url.Parse(strings.TrimRight(cfg.HTTP.PublicURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return oops.Code("CONFIG_INVALID").With("field", "http.public_url").Errorf("public URL must be absolute")
	}
	logger, err := newLogger(cfg, deps.LogOutput)
	if err != nil {
		return err
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), bcfg.timeout)
	defer cancel()

	backend, err := deps.BackendOpener(ctx, cfg.StoreConfig(), logger)
	if err != nil {
		return oops.Code("BOOTSTRAP_BACKEND_FAILED").Wrap(err)
	}
	defer backend.Close()

	tokens, err := auth.NewTokenService(backend.Accounts, backend.Tokens, auth.NewArgon2idHasher(),
		auth.WithTokenTTLs(cfg.Tokens.SetupTTL, cfg.Tokens.ResetTTL),
		auth.WithTokenLogger(logger),
	)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	issued, err := tokens.Enroll(ctx, bcfg.email, bcfg.name, auth.RoleEmployer)
	if errors.Is(err, auth.ErrDuplicateAccount) {
		cmd.Printf("Employer %s already exists, nothing to do\n", bcfg.email)
		return nil
	}
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	link := httpapi.Link(base, issued)
	cmd.Printf("Created employer %s (%s)\n", issued.Account.Email, issued.Account.ID)
	cmd.Printf("Setup link (valid until %s):\n%s\n", issued.ExpiresAt.UTC().Format(time.RFC3339), link)

	if !bcfg.send {
		return nil
	}
	mailer, err := deps.MailerFactory(cfg, logger)
	if err != nil {
		return err
	}
	err = mailer.SendSetup(ctx, notify.Message{
		AccountID:   issued.Account.ID,
		Address:     issued.Account.Email,
		DisplayName: issued.Account.Name,
		Role:        issued.Account.Role,
		Link:        link,
		ExpiresAt:   issued.ExpiresAt,
	})
	if err != nil {
		return oops.Code("BOOTSTRAP_SEND_FAILED").With("email", issued.Account.Email).Wrap(err)
	}
	cmd.Println("Setup email sent")
	return nil
}
