// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

// Package notify delivers password setup and reset links to account owners.
package notify

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hrtrack/hrtrack/internal/auth"
)

// Message is one link delivery.
type Message struct {
	AccountID   ulid.ULID
	Address     string
	DisplayName string
	Role        auth.Role
	Link        string
	ExpiresAt   time.Time
}

// Mailer sends setup and reset links. A failed send leaves the issued token
// in place; the caller decides what to report.
type Mailer interface {
	SendSetup(ctx context.Context, msg Message) error
	SendReset(ctx context.Context, msg Message) error
}
