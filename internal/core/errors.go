// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for relay failures.
const (
	CodeValidation  = "VALIDATION_FAILED"
	CodePersistence = "PERSISTENCE_FAILED"
	CodeTransport   = "TRANSPORT_FAILED"
	CodeRateLimited = "RATE_LIMITED"
)

// ErrConnectionClosed is returned by Conn implementations once the transport
// has gone away.
var ErrConnectionClosed = errors.New("connection closed")

// ErrValidation creates an error for a rejected event. reason is a short
// machine-friendly description such as "empty room".
func ErrValidation(reason string) error {
	return oops.Code(CodeValidation).
		With("reason", reason).
		Errorf("invalid event: %s", reason)
}

// ErrPersistence wraps a storage failure.
func ErrPersistence(operation, room string, cause error) error {
	return oops.Code(CodePersistence).
		With("operation", operation).
		With("room", room).
		Wrapf(cause, "message store %s failed", operation)
}

// ErrTransport wraps a failed delivery to a single connection.
func ErrTransport(connID string, cause error) error {
	return oops.Code(CodeTransport).
		With("conn_id", connID).
		Wrap(cause)
}

// ErrRateLimited creates an error for a send rejected by the rate limiter.
func ErrRateLimited(cooldownMs int64) error {
	return oops.Code(CodeRateLimited).
		With("cooldown_ms", cooldownMs).
		Errorf("Too many messages. Please slow down.")
}

// ErrorCode returns the oops code attached to err, or "" if there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return ErrorCode(err) == CodeValidation }

// IsPersistence reports whether err is a storage failure.
func IsPersistence(err error) bool { return ErrorCode(err) == CodePersistence }

// IsRateLimited reports whether err is a rate limit rejection.
func IsRateLimited(err error) bool { return ErrorCode(err) == CodeRateLimited }

// UserMessage extracts a sender-facing message from an error.
func UserMessage(err error) string {
	switch ErrorCode(err) {
	case CodePersistence:
		return "Your message could not be saved. Please try again."
	case CodeRateLimited:
		oopsErr, _ := oops.AsOops(err)
		return oopsErr.Error()
	case CodeValidation:
		return "That request was not valid."
	default:
		return "Something went wrong. Try again."
	}
}
