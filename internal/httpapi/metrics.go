// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package httpapi

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Requests counts API requests by method and status code.
var Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "hrtrack_http_requests_total",
	Help: "Total number of API requests by method and status code",
}, []string{"method", "code"})

// RequestDuration observes API request latency by method.
var RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "hrtrack_http_request_duration_seconds",
	Help:    "API request latency in seconds",
	Buckets: prometheus.DefBuckets,
}, []string{"method"})

// RegisterMetrics registers the API metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Requests, RequestDuration)
}

func recordRequest(method string, code int, seconds float64) {
	Requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	RequestDuration.WithLabelValues(method).Observe(seconds)
}
