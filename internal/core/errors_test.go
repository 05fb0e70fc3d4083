// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roomrelay/roomrelay/pkg/errutil"
)

func TestErrValidation(t *testing.T) {
	err := ErrValidation("empty room")

	errutil.AssertErrorCode(t, err, CodeValidation)
	errutil.AssertErrorContext(t, err, "reason", "empty room")
	assert.True(t, IsValidation(err))
	assert.False(t, IsPersistence(err))
	assert.Contains(t, err.Error(), "empty room")
}

func TestErrPersistence_WrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := ErrPersistence("append", "lobby", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPersistence(err))
}

func TestErrTransport(t *testing.T) {
	err := ErrTransport("01ABC", ErrConnectionClosed)

	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, CodeTransport, ErrorCode(err))
	errutil.AssertErrorContext(t, err, "conn_id", "01ABC")
}

func TestErrRateLimited(t *testing.T) {
	err := ErrRateLimited(1500)

	assert.True(t, IsRateLimited(err))
	errutil.AssertErrorContext(t, err, "cooldown_ms", int64(1500))
}

func TestErrorCode_PlainError(t *testing.T) {
	assert.Empty(t, ErrorCode(errors.New("plain")))
	assert.Empty(t, ErrorCode(nil))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"persistence", ErrPersistence("append", "lobby", errors.New("x")), "Your message could not be saved. Please try again."},
		{"rate limited", ErrRateLimited(100), "Too many messages. Please slow down."},
		{"validation", ErrValidation("empty text"), "That request was not valid."},
		{"plain", errors.New("boom"), "Something went wrong. Try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
