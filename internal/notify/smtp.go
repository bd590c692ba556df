// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package notify

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sender is the part of *gomail.Dialer SMTPMailer uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends HTML mail through an SMTP server.
type SMTPMailer struct {
	from      string
	sender    sender
	templates *template.Template
	logger    *slog.Logger
}

// NewSMTPMailer creates an SMTPMailer. A nil logger uses slog.Default.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("sender address is required")
	}
	return newSMTPMailer(cfg.From, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), logger)
}

func newSMTPMailer(from string, s sender, logger *slog.Logger) (*SMTPMailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.New("mail").Funcs(template.FuncMap{
		"when": func(t time.Time) string { return t.UTC().Format("2 Jan 2006 15:04 MST") },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").Wrap(err)
	}
	return &SMTPMailer{from: from, sender: s, templates: tmpl, logger: logger}, nil
}

// SendSetup sends the first-time password setup link.
func (m *SMTPMailer) SendSetup(ctx context.Context, msg Message) error {
	return m.send(ctx, "setup", "Set up your HRTrack password", "setup.html", msg)
}

// SendReset sends the password reset link.
func (m *SMTPMailer) SendReset(ctx context.Context, msg Message) error {
	return m.send(ctx, "reset", "Reset your HRTrack password", "reset.html", msg)
}

func (m *SMTPMailer) send(ctx context.Context, kind, subject, tmpl string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("kind", kind).Wrap(err)
	}

	var body bytes.Buffer
	if err := m.templates.ExecuteTemplate(&body, tmpl, msg); err != nil {
		sent.WithLabelValues(kind, "error").Inc()
		return oops.Code("NOTIFY_RENDER_FAILED").With("kind", kind).Wrap(err)
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetAddressHeader("To", msg.Address, msg.DisplayName)
	gm.SetHeader("Subject", subject)
	gm.SetBody("text/plain", plainBody(msg))
	gm.AddAlternative("text/html", body.String())

	if err := m.sender.DialAndSend(gm); err != nil {
		sent.WithLabelValues(kind, "error").Inc()
		return oops.Code("NOTIFY_SEND_FAILED").
			With("kind", kind).
			With("account_id", msg.AccountID.String()).
			Wrap(err)
	}

	sent.WithLabelValues(kind, "sent").Inc()
	m.logger.DebugContext(ctx, "password link sent",
		"kind", kind,
		"account_id", msg.AccountID.String())
	return nil
}

func plainBody(msg Message) string {
	return "Hello " + msg.DisplayName + ",\n\n" +
		"Open this link to choose your password:\n" + msg.Link + "\n\n" +
		"The link expires " + msg.ExpiresAt.UTC().Format("2 Jan 2006 15:04 MST") + " and works once.\n"
}

var _ Mailer = (*SMTPMailer)(nil)
