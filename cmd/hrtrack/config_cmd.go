// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hrtrack/hrtrack/internal/config"
	"github.com/hrtrack/hrtrack/internal/xdg"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	var initPath string
	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, initPath, overwrite)
		},
	}
	initCmd.Flags().StringVar(&initPath, "path", "", "file to write (default: $XDG_CONFIG_HOME/hrtrack/config.yaml)")
	initCmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the config file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				data, err := config.GenerateSchema()
				if err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd, os.Getenv)
				if err != nil {
					return err
				}
				data, err := config.MarshalYAML(cfg.Redacted())
				if err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Print(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check that the effective configuration can serve",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd, os.Getenv)
				if err != nil {
					return err
				}
				if err := cfg.ValidateServe(); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println("Configuration is valid")
				return nil
			},
		},
		initCmd,
	)
	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, overwrite bool) error {
	if path == "" {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return err //nolint:wrapcheck // already coded
		}
	}

	if _, err := os.Stat(path); err == nil && !overwrite {
		return oops.Code("CONFIG_EXISTS").With("path", path).Errorf("%s already exists; pass --force to overwrite", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}

	data, err := config.MarshalYAML(config.Default())
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	cmd.Println("Wrote " + path)
	return nil
}
