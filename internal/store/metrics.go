// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package store

import "github.com/prometheus/client_golang/prometheus"

// RetryAttempts counts store attempts that failed with a transient error.
// Use RegisterMetrics to register this with a Prometheus registry.
var RetryAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hrtrack_store_transient_errors_total",
		Help: "Total number of store attempts that failed with a transient error",
	},
	[]string{"operation"},
)

// RetryExhausted counts store operations that failed after all retries.
// Use RegisterMetrics to register this with a Prometheus registry.
var RetryExhausted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hrtrack_store_unavailable_total",
		Help: "Total number of store operations that exhausted their retries",
	},
	[]string{"operation"},
)

// RegisterMetrics registers store metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RetryAttempts)
	reg.MustRegister(RetryExhausted)
}
