// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/roomrelay/roomrelay/internal/core")

// session is the controller-owned record of one connection.
type session struct {
	mu       sync.Mutex
	connID   ulid.ULID
	state    SessionState
	room     string
	identity Identity
}

// ControllerOption configures a SessionController.
type ControllerOption func(*SessionController)

// WithRateLimiter limits how fast each connection may send.
func WithRateLimiter(rl *RateLimiter) ControllerOption {
	return func(c *SessionController) {
		c.limiter = rl
	}
}

// WithSystemNotices enables "X joined #room" style notices.
func WithSystemNotices(enabled bool) ControllerOption {
	return func(c *SessionController) {
		c.notices = enabled
	}
}

// WithMaxMessageLength rejects messages longer than n runes. Zero disables the check.
func WithMaxMessageLength(n int) ControllerOption {
	return func(c *SessionController) {
		c.maxMessageLength = n
	}
}

// WithHistoryLimit sets how many messages a joiner is replayed.
func WithHistoryLimit(n int) ControllerOption {
	return func(c *SessionController) {
		c.historyLimit = n
	}
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *SessionController) {
		c.now = now
	}
}

// SessionController drives the join/send/leave/disconnect lifecycle of every
// connection. It owns the per-connection session records and coordinates the
// registry, the history gateway, and the broadcaster.
//
// Events of one connection are serialized by its session lock. Membership
// changes and message appends of one room are serialized by the room lock,
// which is held until the resulting broadcast has been handed to every
// member, so members never observe a stale presence snapshot or messages
// out of append order.
type SessionController struct {
	registry    *RoomRegistry
	broadcaster *Broadcaster
	history     *HistoryGateway
	limiter     *RateLimiter

	notices          bool
	maxMessageLength int
	historyLimit     int
	now              func() time.Time

	mu       sync.RWMutex
	sessions map[ulid.ULID]*session
}

// NewSessionController creates a controller.
func NewSessionController(registry *RoomRegistry, broadcaster *Broadcaster, history *HistoryGateway, opts ...ControllerOption) *SessionController {
	c := &SessionController{
		registry:     registry,
		broadcaster:  broadcaster,
		history:      history,
		historyLimit: history.Cap(),
		now:          time.Now,
		sessions:     make(map[ulid.ULID]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect registers a transport connection. Events for a connection are
// rejected until it is connected.
func (c *SessionController) Connect(connID ulid.ULID, conn Conn) {
	c.mu.Lock()
	if _, exists := c.sessions[connID]; !exists {
		c.sessions[connID] = &session{connID: connID}
	}
	c.mu.Unlock()

	c.broadcaster.Attach(connID, conn)
	recordEvent("connect", OutcomeOK)
}

// Join places a connection in room under displayName. A connection already
// joined elsewhere leaves its old room first; joining the same room again
// rebinds the display name.
//
// The new presence snapshot is broadcast to the room before the joiner is
// sent the room's history. Every message is delivered to the joiner exactly
// once, either in the history frame or live after it. A history read failure
// degrades to an empty history; it never fails the join.
func (c *SessionController) Join(ctx context.Context, connID ulid.ULID, room, displayName string) error {
	ctx, span := tracer.Start(ctx, "session.join", trace.WithAttributes(
		attribute.String("conn_id", connID.String()),
		attribute.String("room", room),
	))
	defer span.End()

	room = normalizeName(room)
	displayName = normalizeName(displayName)

	s := c.lookup(connID)
	switch {
	case s == nil:
		return c.reject("join", connID, ErrValidation("unknown connection"))
	case room == "":
		return c.reject("join", connID, ErrValidation("empty room"))
	case displayName == "":
		return c.reject("join", connID, ErrValidation("empty display name"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return c.reject("join", connID, ErrValidation("connection closed"))
	}
	if s.state == StateJoined && s.room != room {
		c.leaveLocked(s)
	}

	identity := Identity{DisplayName: displayName, ConnID: connID}

	rm := c.registry.acquire(room)
	rejoin := rm.has(connID)
	rm.add(identity)
	s.state = StateJoined
	s.room = room
	s.identity = identity
	c.broadcastPresence(rm)
	if c.notices && !rejoin {
		c.broadcaster.deliver(rm.connIDs(), NoticePayload(room, fmt.Sprintf("%s joined #%s", displayName, room)))
	}

	// Sends append under the room lock, so holding it until the history
	// frame is queued splits the log cleanly between history and live.
	history, err := c.history.ReadHistory(ctx, room, c.historyLimit)
	if err != nil {
		slog.Warn("history unavailable, joining with empty history",
			"conn_id", connID.String(),
			"room", room,
			"error", err,
		)
		history = nil
	}
	c.broadcaster.SendToOne(connID, HistoryPayload(room, history))
	c.registry.release(rm)

	slog.Debug("connection joined room",
		"conn_id", connID.String(),
		"room", room,
		"display_name", displayName,
		"history", len(history),
	)
	recordEvent("join", OutcomeOK)
	return nil
}

// Send posts text to the connection's room. The message is durably appended
// before any member is told about it; if the append fails nothing is
// broadcast and only the sender is notified.
//
// room and displayName are optional. When given they must match the
// connection's session.
func (c *SessionController) Send(ctx context.Context, connID ulid.ULID, room, text, displayName string) error {
	ctx, span := tracer.Start(ctx, "session.send", trace.WithAttributes(
		attribute.String("conn_id", connID.String()),
	))
	defer span.End()

	s := c.lookup(connID)
	if s == nil {
		return c.reject("send", connID, ErrValidation("unknown connection"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room = normalizeName(room)
	displayName = normalizeName(displayName)
	switch {
	case s.state != StateJoined:
		return c.reject("send", connID, ErrValidation("not joined"))
	case room != "" && room != s.room:
		return c.reject("send", connID, ErrValidation("room mismatch"))
	case displayName != "" && displayName != s.identity.DisplayName:
		return c.reject("send", connID, ErrValidation("display name mismatch"))
	case strings.TrimSpace(text) == "":
		return c.reject("send", connID, ErrValidation("empty text"))
	case c.maxMessageLength > 0 && utf8.RuneCountInString(text) > c.maxMessageLength:
		return c.reject("send", connID, ErrValidation("text too long"))
	}

	if c.limiter != nil {
		if allowed, cooldownMs := c.limiter.Allow(connID); !allowed {
			err := ErrRateLimited(cooldownMs)
			c.broadcaster.SendToOne(connID, ErrorPayload(s.room, CodeRateLimited, UserMessage(err)))
			recordEvent("send", OutcomeRejected)
			return err
		}
	}

	rm := c.registry.acquireExisting(s.room)
	if rm == nil {
		return c.reject("send", connID, ErrValidation("not a member"))
	}
	defer c.registry.release(rm)
	if !rm.has(connID) {
		return c.reject("send", connID, ErrValidation("not a member"))
	}

	// IDs are minted under the room lock so id order, append order and
	// broadcast order agree.
	msg := Message{
		ID:        NewULID(),
		Room:      s.room,
		Author:    s.identity.DisplayName,
		Text:      text,
		Timestamp: c.now().UTC(),
	}
	span.SetAttributes(attribute.String("message_id", msg.ID.String()))

	if err := c.history.Append(ctx, msg); err != nil {
		slog.Error("message append failed",
			"conn_id", connID.String(),
			"room", msg.Room,
			"message_id", msg.ID.String(),
			"error", err,
		)
		c.broadcaster.SendToOne(connID, ErrorPayload(msg.Room, CodePersistence, UserMessage(err)))
		recordEvent("send", OutcomeFailed)
		return err
	}

	c.broadcaster.deliver(rm.connIDs(), MessagePayload(msg))
	recordEvent("send", OutcomeOK)
	return nil
}

// Leave takes a joined connection out of its room without closing it.
func (c *SessionController) Leave(connID ulid.ULID) error {
	s := c.lookup(connID)
	if s == nil {
		return c.reject("leave", connID, ErrValidation("unknown connection"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined {
		return c.reject("leave", connID, ErrValidation("not joined"))
	}
	c.leaveLocked(s)
	recordEvent("leave", OutcomeOK)
	return nil
}

// Disconnect tears down a connection after its transport closed: the
// connection leaves its room, the remaining members get the new presence
// snapshot, and the transport handle is detached. Calling it again for the
// same connection does nothing.
func (c *SessionController) Disconnect(connID ulid.ULID) {
	c.mu.Lock()
	s, exists := c.sessions[connID]
	delete(c.sessions, connID)
	c.mu.Unlock()

	if !exists {
		slog.Debug("disconnect called for unknown connection", "conn_id", connID.String())
		return
	}

	s.mu.Lock()
	c.leaveLocked(s)
	s.state = StateClosed
	s.mu.Unlock()

	c.broadcaster.Detach(connID)
	if c.limiter != nil {
		c.limiter.Forget(connID)
	}
	recordEvent("disconnect", OutcomeOK)
}

// Session returns a copy of a connection's session record.
func (c *SessionController) Session(connID ulid.ULID) (SessionInfo, bool) {
	s := c.lookup(connID)
	if s == nil {
		return SessionInfo{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ConnID:   s.connID,
		State:    s.state,
		Room:     s.room,
		Identity: s.identity,
	}, true
}

// Presence returns the current presence snapshot of a room.
func (c *SessionController) Presence(room string) []string {
	return c.registry.Presence(normalizeName(room))
}

// Rooms returns the names of all live rooms.
func (c *SessionController) Rooms() []string {
	return c.registry.Rooms()
}

// leaveLocked removes a joined session from its room and broadcasts the
// remaining presence. Caller holds s.mu.
func (c *SessionController) leaveLocked(s *session) {
	if s.state != StateJoined {
		return
	}
	room, name := s.room, s.identity.DisplayName
	s.state = StateDisconnected
	s.room = ""
	s.identity = Identity{}

	rm := c.registry.acquireExisting(room)
	if rm == nil {
		return
	}
	defer c.registry.release(rm)

	if !rm.remove(s.connID) {
		return
	}
	c.broadcastPresence(rm)
	if c.notices {
		c.broadcaster.deliver(rm.connIDs(), NoticePayload(room, fmt.Sprintf("%s left #%s", name, room)))
	}
	slog.Debug("connection left room", "conn_id", s.connID.String(), "room", room)
}

// broadcastPresence sends a room's presence snapshot to its members. Caller
// holds rm.mu.
func (c *SessionController) broadcastPresence(rm *Room) {
	members := rm.snapshot()
	ids := make([]ulid.ULID, len(members))
	for i, m := range members {
		ids[i] = m.ConnID
	}
	c.broadcaster.deliver(ids, PresencePayload(rm.name, PresenceOf(members)))
}

func (c *SessionController) lookup(connID ulid.ULID) *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[connID]
}

func (c *SessionController) reject(event string, connID ulid.ULID, err error) error {
	slog.Debug("event rejected",
		"event", event,
		"conn_id", connID.String(),
		"error", err,
	)
	recordEvent(event, OutcomeRejected)
	return err
}
