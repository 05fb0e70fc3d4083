// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// Identity is a connected participant: the display name it chose and the
// transport connection it arrived on. Identities are never persisted.
type Identity struct {
	DisplayName string
	ConnID      ulid.ULID
}

// SessionState is the lifecycle state of one connection.
type SessionState uint8

const (
	// StateDisconnected means the connection is not a member of any room.
	StateDisconnected SessionState = iota
	// StateJoined means the connection is a member of exactly one room.
	StateJoined
	// StateClosed means the transport went away; the record is about to be dropped.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only copy of a connection's session record.
type SessionInfo struct {
	ConnID   ulid.ULID
	State    SessionState
	Room     string
	Identity Identity
}

// normalizeName trims surrounding whitespace from room and display names.
// Names are otherwise opaque.
func normalizeName(s string) string {
	return strings.TrimSpace(s)
}
