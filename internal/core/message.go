// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

// Package core contains the room membership, presence, and broadcast engine.
package core

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Message is a chat line posted to a room. Messages are immutable once created.
type Message struct {
	ID        ulid.ULID
	Room      string
	Author    string // display name of the sender
	Text      string
	Timestamp time.Time
}

// PayloadKind identifies what a Payload carries.
type PayloadKind string

const (
	PayloadHistory  PayloadKind = "history"
	PayloadPresence PayloadKind = "presence"
	PayloadMessage  PayloadKind = "message"
	PayloadNotice   PayloadKind = "system-notice"
	PayloadError    PayloadKind = "error"
)

// Payload is one outbound delivery to a connection. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type Payload struct {
	Kind     PayloadKind
	Room     string
	History  []Message // PayloadHistory
	Presence []string  // PayloadPresence
	Message  Message   // PayloadMessage
	Text     string    // PayloadNotice and PayloadError
	Code     string    // PayloadError
}

// HistoryPayload builds the history replay sent to a joining connection.
// A nil slice is normalized to an empty one so encoders emit [].
func HistoryPayload(room string, msgs []Message) Payload {
	if msgs == nil {
		msgs = []Message{}
	}
	return Payload{Kind: PayloadHistory, Room: room, History: msgs}
}

// PresencePayload builds a presence snapshot broadcast.
func PresencePayload(room string, names []string) Payload {
	if names == nil {
		names = []string{}
	}
	return Payload{Kind: PayloadPresence, Room: room, Presence: names}
}

// MessagePayload builds a chat message broadcast.
func MessagePayload(msg Message) Payload {
	return Payload{Kind: PayloadMessage, Room: msg.Room, Message: msg}
}

// NoticePayload builds an informational system notice.
func NoticePayload(room, text string) Payload {
	return Payload{Kind: PayloadNotice, Room: room, Text: text}
}

// ErrorPayload builds an error report for a single connection.
func ErrorPayload(room, code, text string) Payload {
	return Payload{Kind: PayloadError, Room: room, Code: code, Text: text}
}
