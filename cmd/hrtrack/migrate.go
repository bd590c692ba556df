// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hrtrack/hrtrack/internal/store"
)

// MigrationRunner wraps the methods used from store.Migrator.
type MigrationRunner interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Pending() ([]uint, error)
	Applied() ([]uint, error)
	Close() error
}

// migrateDeps contains injectable dependencies for the migrate commands.
type migrateDeps struct {
	// MigratorFactory opens a migrator for the database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (MigrationRunner, error)

	// Getenv looks up secret environment variables.
	// Default: os.Getenv
	Getenv func(string) string
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithDeps(nil)
}

func newMigrateCmdWithDeps(deps *migrateDeps) *cobra.Command {
	if deps == nil {
		deps = &migrateDeps{}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (MigrationRunner, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err //nolint:wrapcheck // already coded
			}
			return m, nil
		}
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, revert or inspect the embedded PostgreSQL schema migrations.`,
	}

	var confirm bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert every migration, dropping all HRTrack data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down drops all data; pass --yes to confirm")
			}
			return withMigrator(cmd, deps, func(m MigrationRunner) error {
				cmd.Println("Reverting migrations...")
				if err := m.Down(); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println("All migrations reverted")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&confirm, "yes", false, "confirm dropping all data")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m MigrationRunner) error {
					pending, err := m.Pending()
					if err != nil {
						return err //nolint:wrapcheck // already coded
					}
					if len(pending) == 0 {
						cmd.Println("Database is up to date")
						return nil
					}
					cmd.Printf("Applying %d migration(s)...\n", len(pending))
					if err := m.Up(); err != nil {
						return err //nolint:wrapcheck // already coded
					}
					cmd.Println("Migrations completed successfully")
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, deps, func(m MigrationRunner) error {
					return printMigrationStatus(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied without running it",
			Long: `Mark VERSION as the applied version without running any SQL. Use it
to clear the dirty flag after repairing a failed migration by hand.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
				}
				return withMigrator(cmd, deps, func(m MigrationRunner) error {
					if err := m.Force(version); err != nil {
						return err //nolint:wrapcheck // already coded
					}
					cmd.Printf("Forced version %d\n", version)
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigrator(cmd *cobra.Command, deps *migrateDeps, fn func(MigrationRunner) error) error {
	cfg, err := loadConfig(cmd, deps.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err //nolint:wrapcheck // already coded
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()
	return fn(m)
}

func printMigrationStatus(cmd *cobra.Command, m MigrationRunner) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	applied, err := m.Applied()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	pending, err := m.Pending()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}

	state := "clean"
	if dirty {
		state = "dirty (repair, then run migrate force)"
	}
	cmd.Printf("Current version: %d, %s\n", version, state)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	for _, rows := range []struct {
		versions []uint
		label    string
	}{{applied, "applied"}, {pending, "pending"}} {
		for _, v := range rows.versions {
			name, err := store.MigrationName(v)
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			_, _ = fmt.Fprintf(w, "%06d\t%s\t%s\n", v, name, rows.label)
		}
	}
	return w.Flush() //nolint:wrapcheck // writing to the command output
}
