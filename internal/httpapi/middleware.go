// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// logRequests logs and counts each request once the response is written.
func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		recordRequest(r.Method, m.Code, m.Duration.Seconds())

		level := slog.LevelInfo
		if m.Code >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration_ms", m.Duration.Milliseconds(),
			"remote_addr", r.RemoteAddr)
	})
}
