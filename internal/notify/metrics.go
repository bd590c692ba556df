// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package notify

import "github.com/prometheus/client_golang/prometheus"

var sent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hrtrack_notifications_total",
	Help: "Total number of password link notifications by kind and result",
}, []string{"kind", "result"})

// RegisterMetrics registers the notification metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(sent)
}
