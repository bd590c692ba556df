// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hrtrack/hrtrack/internal/auth"
	"github.com/hrtrack/hrtrack/pkg/errutil"
)

// MsgSetupEmailFailed is returned when an account's setup token was issued
// but the email carrying it could not be sent. The token stays valid.
const MsgSetupEmailFailed = "Setup email could not be sent"

type createEmployeeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        auth.Role  `json:"role"`
	SetupDone   bool       `json:"setup_done"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SetupIssuedResponse reports a newly issued setup token.
type SetupIssuedResponse struct {
	Account   AccountResponse `json:"account"`
	ExpiresAt time.Time       `json:"setup_expires_at"`
}

func accountResponse(a *auth.Account) AccountResponse {
	return AccountResponse{
		ID:          a.ID.String(),
		Email:       a.Email,
		Name:        a.Name,
		Role:        a.Role,
		SetupDone:   a.HasPassword(),
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
	}
}

func (h *Handler) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	caller := auth.IdentityFromContext(r.Context())
	if caller.Role != auth.RoleEmployer {
		h.failWith(w, r, http.StatusForbidden, MsgForbidden)
		return
	}

	var req createEmployeeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	issued, err := h.tokens.Enroll(r.Context(), req.Email, req.Name, auth.RoleEmployee)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "employee enrolled",
		"account_id", issued.Account.ID.String(),
		"by", caller.AccountID.String())

	if !h.sendSetup(w, r, issued) {
		return
	}
	h.respond(w, r, http.StatusCreated, SetupIssuedResponse{
		Account:   accountResponse(issued.Account),
		ExpiresAt: issued.ExpiresAt,
	})
}

// handleResendSetup reissues the setup link of an employee who has not
// finished setup. Accounts of any other role are reported as not found.
func (h *Handler) handleResendSetup(w http.ResponseWriter, r *http.Request) {
	if auth.IdentityFromContext(r.Context()).Role != auth.RoleEmployer {
		h.failWith(w, r, http.StatusForbidden, MsgForbidden)
		return
	}

	id, err := ulid.ParseStrict(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, oops.Code("HTTPAPI_INVALID_ID").
			With("id", r.PathValue("id")).
			Wrap(fmt.Errorf("%w: %w", auth.ErrValidation, err)))
		return
	}

	target, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if target.Role != auth.RoleEmployee {
		h.fail(w, r, oops.Code("HTTPAPI_NOT_EMPLOYEE").
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound))
		return
	}

	issued, err := h.tokens.ResendSetup(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.sendSetup(w, r, issued) {
		return
	}
	h.respond(w, r, http.StatusOK, SetupIssuedResponse{
		Account:   accountResponse(issued.Account),
		ExpiresAt: issued.ExpiresAt,
	})
}

// sendSetup mails the setup link and writes the failure response if that
// fails. It reports whether the caller should continue.
func (h *Handler) sendSetup(w http.ResponseWriter, r *http.Request, issued *auth.IssuedToken) bool {
	err := h.mailer.SendSetup(r.Context(), h.message(issued))
	if err == nil {
		return true
	}
	errutil.LogErrorContext(r.Context(), h.logger, "setup email failed", err,
		"account_id", issued.Account.ID.String())
	h.failWith(w, r, http.StatusInternalServerError, MsgSetupEmailFailed)
	return false
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id.IsAnonymous() {
		h.failWith(w, r, http.StatusUnauthorized, MsgUnauthorized)
		return
	}

	account, err := h.accounts.GetByID(r.Context(), id.AccountID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// The session outlived its account.
			h.failWith(w, r, http.StatusUnauthorized, MsgUnauthorized)
			return
		}
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, accountResponse(account))
}
