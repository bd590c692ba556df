// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package authz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decisions counts gate decisions by outcome.
var Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hrtrack_authz_decisions_total",
	Help: "Total number of authorization decisions by outcome",
}, []string{"outcome"})

// RegisterMetrics registers the gate metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Decisions)
}
