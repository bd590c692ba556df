// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

// Package auth provides the credential, session and password-token primitives
// for HRTrack.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an Account pending password setup
//   - NewResetToken - creates a ResetToken with validated owner, role and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Services
//
//   - SessionOracle - login and request identity resolution
//   - TokenService - issue, validate and consume single-use setup/reset tokens
//
// Services are created with New* constructors that validate dependencies.
//
// # Errors
//
// Every error returned by the services wraps one of the package sentinels
// (ErrValidation, ErrAuthFailure, ErrTokenInvalid, ErrAlreadyHasPassword,
// ErrNotFound). Use KindOf to branch on them.
package auth
