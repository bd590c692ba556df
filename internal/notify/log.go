// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package notify

import (
	"context"
	"log/slog"
)

// LogMailer writes links to the log instead of sending mail. For
// development only: the log then holds live credentials.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendSetup logs the setup link.
func (m *LogMailer) SendSetup(ctx context.Context, msg Message) error {
	m.log(ctx, "setup", msg)
	return nil
}

// SendReset logs the reset link.
func (m *LogMailer) SendReset(ctx context.Context, msg Message) error {
	m.log(ctx, "reset", msg)
	return nil
}

func (m *LogMailer) log(ctx context.Context, kind string, msg Message) {
	m.logger.InfoContext(ctx, "password link issued",
		"kind", kind,
		"account_id", msg.AccountID.String(),
		"address", msg.Address,
		"role", string(msg.Role),
		"expires_at", msg.ExpiresAt,
		"link", msg.Link)
	sent.WithLabelValues(kind, "logged").Inc()
}

var _ Mailer = (*LogMailer)(nil)
