// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import "errors"

// Sentinel errors. Services wrap these with an oops code and context; callers
// match them with errors.Is or KindOf.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrAuthFailure is returned for bad credentials. It never says which
	// part of the credentials was wrong.
	ErrAuthFailure = errors.New("invalid credentials")

	// ErrAccountLocked is returned after a correct password on a locked account.
	ErrAccountLocked = errors.New("account is temporarily locked")

	// ErrTokenInvalid covers missing, expired and role-mismatched tokens alike.
	ErrTokenInvalid = errors.New("invalid or expired token")

	// ErrConsumeUnconfirmed accompanies ErrTokenInvalid when a consume found
	// no token only after retrying. An earlier attempt may have committed
	// without its acknowledgement arriving.
	ErrConsumeUnconfirmed = errors.New("token consume retried after an unacknowledged attempt")

	// ErrAlreadyHasPassword is returned when a setup token is requested for an
	// account that has completed setup.
	ErrAlreadyHasPassword = errors.New("account already has a password")

	// ErrForbidden is returned when the caller's role may not perform an action.
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicateAccount is returned when an account with the same email and
	// role already exists. It is reported as a validation error.
	ErrDuplicateAccount = errors.New("account already exists")
)

// Kind classifies an error for the HTTP boundary.
type Kind int

// Error kinds, in the order KindOf checks them.
const (
	KindInternal Kind = iota
	KindValidation
	KindAuthFailure
	KindTokenInvalid
	KindAlreadyHasPassword
	KindNotFound
	KindForbidden
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthFailure:
		return "auth_failure"
	case KindTokenInvalid:
		return "token_invalid"
	case KindAlreadyHasPassword:
		return "already_has_password"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// KindOf maps err onto the error taxonomy. Unknown errors, including store
// failures, are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicateAccount):
		return KindValidation
	case errors.Is(err, ErrAuthFailure), errors.Is(err, ErrAccountLocked):
		return KindAuthFailure
	case errors.Is(err, ErrTokenInvalid):
		return KindTokenInvalid
	case errors.Is(err, ErrAlreadyHasPassword):
		return KindAlreadyHasPassword
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}
