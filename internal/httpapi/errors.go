// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samber/oops"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/pkg/errutil"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client-facing messages. They never carry internal error text.
const (
	MsgInvalidRequest     = "Invalid request"
	MsgInvalidCredentials = "Invalid email or password"
	MsgAccountLocked      = "Account temporarily locked"
	MsgTokenInvalid       = "Invalid or expired token"
	MsgAlreadyHasPassword = "Account already has a password"
	MsgDuplicateAccount   = "An account with this email already exists"
	MsgNotFound           = "Not found"
	MsgUnauthorized       = "Unauthorized"
	MsgForbidden          = "Forbidden"
	MsgInternal           = "Internal server error"
)

// validationMessages refines MsgInvalidRequest for failures the caller can fix.
var validationMessages = map[string]string{
	"HTTPAPI_BAD_JSON":         "Invalid JSON payload",
	"HTTPAPI_INVALID_ID":       "Invalid account ID",
	"AUTH_INVALID_EMAIL":       "Invalid email address",
	"AUTH_INVALID_NAME":        "Name must be between 1 and 120 characters",
	"AUTH_INVALID_ROLE":        "Role must be employee or employer",
	"TOKEN_INVALID_ROLE":       "Role must be employee or employer",
	"AUTH_MISSING_CREDENTIALS": "Email and password are required",
	"AUTH_EMPTY_PASSWORD":      "Password is required",
	"AUTH_WEAK_PASSWORD":       "Password must be between 8 and 128 characters",
}

// statusFor maps err onto an HTTP status and a stable message.
func statusFor(err error) (int, string) {
	switch auth.KindOf(err) {
	case auth.KindValidation:
		if errors.Is(err, auth.ErrDuplicateAccount) {
			return http.StatusBadRequest, MsgDuplicateAccount
		}
		if msg, ok := validationMessages[errutil.Code(err)]; ok {
			return http.StatusBadRequest, msg
		}
		return http.StatusBadRequest, MsgInvalidRequest
	case auth.KindAuthFailure:
		if errors.Is(err, auth.ErrAccountLocked) {
			return http.StatusUnauthorized, MsgAccountLocked
		}
		return http.StatusUnauthorized, MsgInvalidCredentials
	case auth.KindTokenInvalid:
		return http.StatusBadRequest, MsgTokenInvalid
	case auth.KindAlreadyHasPassword:
		return http.StatusBadRequest, MsgAlreadyHasPassword
	case auth.KindNotFound:
		return http.StatusNotFound, MsgNotFound
	case auth.KindForbidden:
		return http.StatusForbidden, MsgForbidden
	default:
		return http.StatusInternalServerError, MsgInternal
	}
}

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.Code("RESPONSE_ENCODE_FAILED").Wrap(err)
	}
	return nil
}

// respond writes a success payload, logging a failed write.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		h.logger.DebugContext(r.Context(), "failed to write response",
			"path", r.URL.Path,
			"error", err)
	}
}

// fail writes the error envelope for err. Server-side failures are logged
// with their full context.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), h.logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected",
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	h.failWith(w, r, status, msg)
}

func (h *Handler) failWith(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.respond(w, r, status, ErrorResponse{Error: msg})
}
