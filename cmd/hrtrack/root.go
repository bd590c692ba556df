// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hrtrack/hrtrack/internal/config"
	"github.com/hrtrack/hrtrack/internal/logging"
)

// serviceName tags every log line.
const serviceName = "hrtrack"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the HRTrack CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hrtrack",
		Short: "HRTrack - employer and employee accounts",
		Long: `HRTrack serves the authentication API for employer and employee
accounts: password login, session cookies, onboarding setup links and
password resets, behind a path-based authorization gate.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/hrtrack/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewBootstrapCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig reads the configuration for cmd: defaults, the config file,
// the flags given on the command line, then secret environment variables.
func loadConfig(cmd *cobra.Command, getenv func(string) string) (*config.Config, error) {
	//nolint:wrapcheck // config errors carry their own codes
	return config.Loader{
		Path:   configFile,
		Flags:  cmd.Flags(),
		Getenv: getenv,
	}.Load()
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return logging.Setup(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	}, w), nil
}
