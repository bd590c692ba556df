// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import (
	"time"
)

// Lockout configuration.
const (
	// LockoutDuration is the time an account is locked after too many failures.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive failures that triggers a lockout.
	LockoutThreshold = 7
)

// IsLockedOut returns true if lockedUntil is after t.
func IsLockedOut(lockedUntil *time.Time, t time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(t)
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count.
// Returns nil if failures < LockoutThreshold.
func ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	lockout := now.Add(LockoutDuration)
	return &lockout
}

// LockoutRemaining returns how long the lockout still lasts at t, or zero.
func LockoutRemaining(lockedUntil *time.Time, t time.Time) time.Duration {
	if !IsLockedOut(lockedUntil, t) {
		return 0
	}
	return lockedUntil.Sub(t)
}
