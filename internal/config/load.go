// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/hrtrack/hrtrack/internal/xdg"
)

// Environment variables that override secrets.
const (
	EnvDatabaseURL   = "DATABASE_URL"
	EnvSessionSecret = "SESSION_SECRET"
	EnvSMTPPassword  = "SMTP_PASSWORD"
)

var envKeys = map[string]string{
	EnvDatabaseURL:   "database.url",
	EnvSessionSecret: "session.secret",
	EnvSMTPPassword:  "mail.password",
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"addr":           "http.addr",
	"public-url":     "http.public_url",
	"secure-cookies": "http.secure_cookies",
	"metrics-addr":   "metrics.addr",
	"database-url":   "database.url",
	"mail-driver":    "mail.driver",
}

// BindFlags registers the configuration flags, using the defaults as their
// default values.
func BindFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.String("addr", d.HTTP.Addr, "API listen address")
	flags.String("public-url", d.HTTP.PublicURL, "externally visible base URL used in emailed links")
	flags.Bool("secure-cookies", d.HTTP.SecureCookies, "mark the session cookie Secure")
	flags.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	flags.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	flags.String("mail-driver", d.Mail.Driver, "mail driver (log or smtp)")
}

// Loader builds a Config from its sources. Later sources win: defaults,
// the YAML file, flags, then the secret environment variables.
type Loader struct {
	// Path is the YAML file to read. When empty the XDG config file is read
	// if it exists.
	Path string
	// Flags, when set, supplies flags registered with BindFlags.
	Flags *pflag.FlagSet
	// Getenv looks up environment variables. Defaults to os.Getenv.
	Getenv func(string) string
}

// Load reads every source and validates the file against the schema.
func (l Loader) Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(defaultsProvider{}, kyaml.Parser()); err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}

	path, err := l.configPath()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	if l.Flags != nil {
		provider := posflag.ProviderWithFlag(l.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			// An unset database URL flag must not mask $DATABASE_URL or the file.
			if key == "database.url" && !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(l.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for env, key := range envKeys {
		if v := getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_ENV_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

func (l Loader) configPath() (string, error) {
	if l.Path != "" {
		return l.Path, nil
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file, not a failure.
		return "", nil //nolint:nilerr // the default file is optional
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	return path, nil
}

// defaultsProvider exposes Default as the lowest-priority koanf source.
type defaultsProvider struct{}

func (defaultsProvider) ReadBytes() ([]byte, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}
	return data, nil
}

func (defaultsProvider) Read() (map[string]any, error) {
	return nil, errors.New("defaults provider does not support Read")
}
