// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

// Package config loads and validates the HRTrack server configuration.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/internal/authz"
	"github.com/hrtrack/hrtrack/internal/notify"
	"github.com/hrtrack/hrtrack/internal/store"
)

// Mail drivers.
const (
	MailDriverLog  = "log"
	MailDriverSMTP = "smtp"
)

// Config is the complete server configuration.
type Config struct {
	Log      LogConfig      `koanf:"log" json:"log,omitempty" yaml:"log"`
	HTTP     HTTPConfig     `koanf:"http" json:"http,omitempty" yaml:"http"`
	Metrics  MetricsConfig  `koanf:"metrics" json:"metrics,omitempty" yaml:"metrics"`
	Database DatabaseConfig `koanf:"database" json:"database,omitempty" yaml:"database"`
	Session  SessionConfig  `koanf:"session" json:"session,omitempty" yaml:"session"`
	Tokens   TokenConfig    `koanf:"tokens" json:"tokens,omitempty" yaml:"tokens"`
	Mail     MailConfig     `koanf:"mail" json:"mail,omitempty" yaml:"mail"`
	Authz    AuthzConfig    `koanf:"authz" json:"authz,omitempty" yaml:"authz"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format,omitempty" yaml:"format" jsonschema:"enum=json,enum=text"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr          string `koanf:"addr" json:"addr,omitempty" yaml:"addr" jsonschema:"description=listen address (host:port)"`
	PublicURL     string `koanf:"public_url" json:"public_url,omitempty" yaml:"public_url" jsonschema:"description=externally visible base URL used in emailed links"`
	SecureCookies bool   `koanf:"secure_cookies" json:"secure_cookies,omitempty" yaml:"secure_cookies"`
}

// MetricsConfig controls the observability listener.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" yaml:"addr" jsonschema:"description=metrics and health probe address; empty disables"`
}

// DatabaseConfig controls the PostgreSQL pool and its retry policy.
type DatabaseConfig struct {
	URL             string        `koanf:"url" json:"url,omitempty" yaml:"url"`
	MaxConns        int32         `koanf:"max_conns" json:"max_conns,omitempty" yaml:"max_conns" jsonschema:"minimum=1"`
	MinConns        int32         `koanf:"min_conns" json:"min_conns,omitempty" yaml:"min_conns" jsonschema:"minimum=0"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime" json:"max_conn_lifetime,omitempty" yaml:"max_conn_lifetime" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" json:"connect_timeout,omitempty" yaml:"connect_timeout" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	MaxRetries      uint64        `koanf:"max_retries" json:"max_retries,omitempty" yaml:"max_retries"`
	RetryBackoff    time.Duration `koanf:"retry_backoff" json:"retry_backoff,omitempty" yaml:"retry_backoff" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	AttemptTimeout  time.Duration `koanf:"attempt_timeout" json:"attempt_timeout,omitempty" yaml:"attempt_timeout" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
}

// SessionConfig controls session tokens.
type SessionConfig struct {
	Secret string        `koanf:"secret" json:"secret,omitempty" yaml:"secret" jsonschema:"description=HMAC key for session tokens; prefer the SESSION_SECRET environment variable"`
	TTL    time.Duration `koanf:"ttl" json:"ttl,omitempty" yaml:"ttl" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
}

// TokenConfig controls setup and reset tokens.
type TokenConfig struct {
	SetupTTL      time.Duration `koanf:"setup_ttl" json:"setup_ttl,omitempty" yaml:"setup_ttl" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	ResetTTL      time.Duration `koanf:"reset_ttl" json:"reset_ttl,omitempty" yaml:"reset_ttl" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	PurgeInterval time.Duration `koanf:"purge_interval" json:"purge_interval,omitempty" yaml:"purge_interval" jsonschema:"type=string,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$,description=how often expired tokens are deleted; 0 disables"`
}

// MailConfig selects and configures the mailer.
type MailConfig struct {
	Driver   string `koanf:"driver" json:"driver,omitempty" yaml:"driver" jsonschema:"enum=log,enum=smtp"`
	Host     string `koanf:"host" json:"host,omitempty" yaml:"host"`
	Port     int    `koanf:"port" json:"port,omitempty" yaml:"port" jsonschema:"minimum=1,maximum=65535"`
	Username string `koanf:"username" json:"username,omitempty" yaml:"username"`
	Password string `koanf:"password" json:"password,omitempty" yaml:"password" jsonschema:"description=prefer the SMTP_PASSWORD environment variable"`
	From     string `koanf:"from" json:"from,omitempty" yaml:"from"`
}

// AuthzConfig controls the authorization gate.
type AuthzConfig struct {
	PublicPaths []string `koanf:"public_paths" json:"public_paths,omitempty" yaml:"public_paths" jsonschema:"description=glob patterns reachable without a session"`
}

// Default returns the configuration used for every unset value.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:      "127.0.0.1:8080",
			PublicURL: "http://localhost:8080",
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{
			MaxConns:       10,
			MaxRetries:     store.DefaultMaxRetries,
			RetryBackoff:   store.DefaultRetryBackoff,
			AttemptTimeout: store.DefaultAttemptTimeout,
			ConnectTimeout: 5 * time.Second,
		},
		Session: SessionConfig{TTL: auth.DefaultSessionTTL},
		Tokens: TokenConfig{
			SetupTTL:      auth.DefaultSetupTokenTTL,
			ResetTTL:      auth.DefaultResetTokenTTL,
			PurgeInterval: time.Hour,
		},
		Mail:  MailConfig{Driver: MailDriverLog, Port: 587},
		Authz: AuthzConfig{PublicPaths: slices.Clone(authz.DefaultPublicPaths)},
	}
}

// Validate checks the values a server needs. Database and session
// settings are checked by ValidateServe since not every command needs them.
func (c *Config) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("log.level", "must be debug, info, warn or error")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "must be json or text")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "is required")
	}
	if u, err := url.Parse(c.HTTP.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("http.public_url", "must be an absolute URL")
	}
	if c.Database.MaxConns < 1 {
		return invalid("database.max_conns", "must be at least 1")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return invalid("database.min_conns", "must be between 0 and max_conns")
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "must be positive")
	}
	if c.Tokens.SetupTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		return invalid("tokens", "setup_ttl and reset_ttl must be positive")
	}
	if c.Tokens.PurgeInterval < 0 {
		return invalid("tokens.purge_interval", "must not be negative")
	}
	if _, err := authz.NewGate(c.Authz.PublicPaths); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "authz.public_paths").Wrap(err)
	}

	switch c.Mail.Driver {
	case MailDriverLog:
	case MailDriverSMTP:
		if c.Mail.Host == "" || c.Mail.From == "" {
			return invalid("mail", "smtp driver needs host and from")
		}
	default:
		return invalid("mail.driver", "must be log or smtp")
	}
	return nil
}

// ValidateServe checks the settings needed to serve requests on top of Validate.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if len(c.Session.Secret) < auth.MinSessionKeyBytes {
		return invalid("session.secret", "must be at least 32 bytes (set SESSION_SECRET)")
	}
	return nil
}

// ValidateDatabase checks that a database URL is configured.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url", "is required (set DATABASE_URL)")
	}
	return nil
}

// StoreConfig returns the pool settings.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		URL:             c.Database.URL,
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
		ConnectTimeout:  c.Database.ConnectTimeout,
		Retry: store.RetryConfig{
			MaxRetries:     c.Database.MaxRetries,
			Backoff:        c.Database.RetryBackoff,
			AttemptTimeout: c.Database.AttemptTimeout,
		},
	}
}

// SMTPConfig returns the SMTP mailer settings.
func (c *Config) SMTPConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.Mail.Host,
		Port:     c.Mail.Port,
		Username: c.Mail.Username,
		Password: c.Mail.Password,
		From:     c.Mail.From,
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	const mask = "********"
	if c.Session.Secret != "" {
		c.Session.Secret = mask
	}
	if c.Mail.Password != "" {
		c.Mail.Password = mask
	}
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), mask)
				c.Database.URL = u.String()
			}
		}
	}
	c.Authz.PublicPaths = slices.Clone(c.Authz.PublicPaths)
	return c
}

func invalid(field, reason string) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf("%s %s", field, reason)
}
