// Copyright 2025 The pyrelay Authors
// This file is part of the pyrelay library.
//
// The pyrelay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pyrelay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pyrelay library. If not, see <http://www.gnu.org/licenses/>.

// Package core implements the relay's two user-facing pipelines, the
// quote service and the submit service, together with the error
// taxonomy both expose.
package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry policy; Code is the stable wire
// string. One kind can carry several codes.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindExpired
	KindReplay
	KindUnavailable
	KindTierRejected
	KindPayerCapacity
	KindFeeOverflow
	KindChainSubmit
	KindRateLimit
	KindInternal
)

// Wire error codes, the closed set clients may match on.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeQuoteNotFound         = "QUOTE_NOT_FOUND"
	CodeQuoteExpired          = "QUOTE_EXPIRED"
	CodeReplayDetected        = "REPLAY_DETECTED"
	CodeNoPayerCapacity       = "NO_PAYER_CAPACITY"
	CodeCircuitBreakerOpen    = "CIRCUIT_BREAKER_OPEN"
	CodeTransactionError      = "TRANSACTION_ERROR"
	CodeFeeOverflow           = "FEE_OVERFLOW"
	CodeRateLimit             = "RATE_LIMIT"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeTierRejected          = "TIER_REJECTED"
	CodeVerificationFailed    = "VERIFICATION_FAILED"
	CodeIgnitionDisabled      = "IGNITION_DISABLED"
	CodeIgnitionNotConfigured = "IGNITION_NOT_CONFIGURED"
	CodeInvalidAPIKey         = "INVALID_API_KEY"
	CodeAdminNotConfigured    = "ADMIN_NOT_CONFIGURED"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error is the user-visible error sum type. RetryAfter, when non-zero,
// hints in seconds when a retry may succeed.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter int
	Details    []string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches the underlying error for logs; the cause never
// reaches the wire.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// WithDetails appends enumerated failure reasons.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// AsError unwraps a core error from any error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func ErrValidation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: msg}
}

func ErrQuoteNotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeQuoteNotFound,
		Message: fmt.Sprintf("quote %s not found or already used", id)}
}

func ErrQuoteExpired(id string) *Error {
	return &Error{Kind: KindExpired, Code: CodeQuoteExpired,
		Message: fmt.Sprintf("quote %s has expired, request a new one", id)}
}

func ErrReplayDetected() *Error {
	return &Error{Kind: KindReplay, Code: CodeReplayDetected,
		Message: "this transaction was already submitted"}
}

func ErrNoPayerCapacity() *Error {
	return &Error{Kind: KindPayerCapacity, Code: CodeNoPayerCapacity,
		Message: "no fee payer has capacity right now", RetryAfter: 30}
}

func ErrCircuitOpen(retryAfter int) *Error {
	return &Error{Kind: KindUnavailable, Code: CodeCircuitBreakerOpen,
		Message: "fee payers are temporarily unavailable", RetryAfter: retryAfter}
}

func ErrTierRejected(symbol string) *Error {
	return &Error{Kind: KindTierRejected, Code: CodeTierRejected,
		Message: fmt.Sprintf("token %s is below the acceptance tier", symbol)}
}

func ErrVerificationFailed() *Error {
	return &Error{Kind: KindTierRejected, Code: CodeVerificationFailed,
		Message: "payment token could not be verified"}
}

func ErrFeeOverflow() *Error {
	return &Error{Kind: KindFeeOverflow, Code: CodeFeeOverflow,
		Message: "fee computation overflowed"}
}

func ErrTransaction(msg string) *Error {
	return &Error{Kind: KindChainSubmit, Code: CodeTransactionError, Message: msg}
}

func ErrRateLimit(retryAfter int) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeRateLimit,
		Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func ErrServiceUnavailable(msg string, retryAfter int) *Error {
	return &Error{Kind: KindUnavailable, Code: CodeServiceUnavailable,
		Message: msg, RetryAfter: retryAfter}
}

func ErrIgnitionDisabled() *Error {
	return &Error{Kind: KindValidation, Code: CodeIgnitionDisabled,
		Message: "the ignition pipeline is disabled"}
}

func ErrIgnitionNotConfigured() *Error {
	return &Error{Kind: KindValidation, Code: CodeIgnitionNotConfigured,
		Message: "the ignition destination is not configured"}
}

func ErrInternal(msg string) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg}
}
