// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package web

import (
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"github.com/roomrelay/roomrelay/internal/core"
)

// Inbound event names. The aliases are the names older browser clients use.
const (
	EventJoin      = "join"
	EventJoinRoom  = "join-room"
	EventSend      = "send"
	EventChatMsg   = "chat-message"
	EventLeave     = "leave"
	eventMalformed = "malformed"
)

// inboundFrame is a client to server frame.
type inboundFrame struct {
	Type        string `json:"type"`
	Room        string `json:"room"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Text        string `json:"text"`
}

// name returns the display name, accepting the legacy username field.
func (f inboundFrame) name() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Username
}

// event returns the canonical event name.
func (f inboundFrame) event() string {
	switch f.Type {
	case EventJoinRoom:
		return EventJoin
	case EventChatMsg:
		return EventSend
	default:
		return f.Type
	}
}

func decodeFrame(data []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return inboundFrame{}, oops.Code(core.CodeValidation).With("reason", "malformed frame").Wrap(err)
	}
	return f, nil
}

// outboundFrame is a server to client frame.
type outboundFrame struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Data any    `json:"data"`
}

// messageFrame is the wire form of a chat message.
type messageFrame struct {
	ID       string `json:"id"`
	Room     string `json:"room"`
	Username string `json:"username"`
	Text     string `json:"text"`
	Time     string `json:"time"`
}

type noticeFrame struct {
	Text string `json:"text"`
}

type errorFrame struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

func toMessageFrame(m core.Message) messageFrame {
	return messageFrame{
		ID:       m.ID.String(),
		Room:     m.Room,
		Username: m.Author,
		Text:     m.Text,
		Time:     m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// encodePayload renders a core payload as a JSON text frame.
func encodePayload(p core.Payload) ([]byte, error) {
	frame := outboundFrame{Type: string(p.Kind), Room: p.Room}
	switch p.Kind {
	case core.PayloadHistory:
		msgs := make([]messageFrame, len(p.History))
		for i, m := range p.History {
			msgs[i] = toMessageFrame(m)
		}
		frame.Data = msgs
	case core.PayloadPresence:
		names := p.Presence
		if names == nil {
			names = []string{}
		}
		frame.Data = names
	case core.PayloadMessage:
		frame.Data = toMessageFrame(p.Message)
	case core.PayloadNotice:
		frame.Data = noticeFrame{Text: p.Text}
	case core.PayloadError:
		frame.Data = errorFrame{Code: p.Code, Text: p.Text}
	default:
		return nil, oops.With("kind", string(p.Kind)).Errorf("unknown payload kind")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, oops.With("kind", string(p.Kind)).Wrap(err)
	}
	return data, nil
}
