// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("hrtrack/auth")

// Result labels for auth metrics.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultLocked   = "locked"
	ResultInvalid  = "invalid"
	ResultRefused  = "refused"
	ResultError    = "error"
	ResultNotFound = "not_found"
)

// LoginAttempts counts login attempts by role and result.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hrtrack_login_attempts_total",
		Help: "Total number of login attempts",
	},
	[]string{"role", "result"},
)

// TokenOperations counts token lifecycle operations by operation, purpose and result.
// Use RegisterMetrics to register this with a Prometheus registry.
var TokenOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hrtrack_token_operations_total",
		Help: "Total number of setup/reset token operations",
	},
	[]string{"operation", "result"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(TokenOperations)
}

func recordLogin(role Role, result string) {
	LoginAttempts.WithLabelValues(string(role), result).Inc()
}

func recordTokenOp(operation, result string) {
	TokenOperations.WithLabelValues(operation, result).Inc()
}
