// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

// Package web serves the WebSocket transport. It decodes client frames into
// session controller calls and encodes core payloads back onto the socket.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/roomrelay/roomrelay/internal/core"
	"github.com/roomrelay/roomrelay/internal/observability"
)

const transportName = "websocket"

// Defaults for Options fields left zero.
const (
	DefaultReadLimit    = 16384
	DefaultPingPeriod   = 54 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultSendBuffer   = 64
)

// Controller is the part of core.SessionController the transport drives.
type Controller interface {
	Connect(connID ulid.ULID, conn core.Conn)
	Join(ctx context.Context, connID ulid.ULID, room, displayName string) error
	Send(ctx context.Context, connID ulid.ULID, room, text, displayName string) error
	Leave(connID ulid.ULID) error
	Disconnect(connID ulid.ULID)
}

// Options tunes the WebSocket connections.
type Options struct {
	// ReadLimit is the largest inbound frame in bytes.
	ReadLimit int64
	// PingPeriod is how often the server pings. A client that stays silent
	// for 10/9 of it is dropped.
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	// SendBuffer is the outbox size. A client that falls this far behind
	// misses deliveries.
	SendBuffer int
	// CheckOrigin overrides the upgrader origin check. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = DefaultPingPeriod
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// AllowOrigins returns an origin check that accepts only the listed
// origins, compared case-insensitively. An empty list accepts everything.
// Requests without an Origin header (non-browser clients) are accepted.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

func (o Options) pongWait() time.Duration {
	return o.PingPeriod * 10 / 9
}

// Handler upgrades HTTP requests to WebSocket chat connections.
type Handler struct {
	ctrl     Controller
	opts     Options
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[ulid.ULID]*wsConn
	closed bool
	wg     sync.WaitGroup
}

// NewHandler creates a handler that drives ctrl.
func NewHandler(ctrl Controller, opts Options) *Handler {
	opts = opts.withDefaults()
	return &Handler{
		ctrl: ctrl,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		conns: make(map[ulid.ULID]*wsConn),
	}
}

// ServeHTTP runs one connection until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newWSConn(core.NewConnID(), ws, h.opts.SendBuffer)
	if !h.track(c) {
		c.close()
		return
	}
	defer h.untrack(c)

	h.ctrl.Connect(c.id, c)
	observability.RecordConnection(transportName)
	slog.Info("websocket client connected", "conn_id", c.id.String(), "remote", r.RemoteAddr)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()

	h.readPump(r.Context(), c)

	h.ctrl.Disconnect(c.id)
	c.close()
	slog.Info("websocket client disconnected", "conn_id", c.id.String())
}

// Close drops every open connection and waits for their pumps to exit.
// Later upgrades are refused.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	h.wg.Wait()
}

func (h *Handler) track(c *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) readPump(ctx context.Context, c *wsConn) {
	pongWait := h.opts.pongWait()
	c.ws.SetReadLimit(h.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				slog.Debug("websocket read failed", "conn_id", c.id.String(), "error", err)
			}
			return
		}
		h.dispatch(ctx, c.id, data)
	}
}

func (h *Handler) writePump(c *wsConn) {
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("websocket write failed", "conn_id", c.id.String(), "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// dispatch maps one inbound frame onto the controller. Rejections are not
// echoed to the client; the controller reports failures the sender must see.
func (h *Handler) dispatch(ctx context.Context, connID ulid.ULID, data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		slog.Debug("malformed websocket frame", "conn_id", connID.String(), "error", err)
		observability.RecordInboundEvent(transportName, eventMalformed, core.OutcomeRejected)
		return
	}

	event := f.event()
	switch event {
	case EventJoin:
		err = h.ctrl.Join(ctx, connID, f.Room, f.name())
	case EventSend:
		err = h.ctrl.Send(ctx, connID, f.Room, f.Text, f.name())
	case EventLeave:
		err = h.ctrl.Leave(connID)
	default:
		slog.Debug("unknown websocket event", "conn_id", connID.String(), "type", f.Type)
		observability.RecordInboundEvent(transportName, "unknown", core.OutcomeRejected)
		return
	}
	observability.RecordInboundEvent(transportName, event, core.OutcomeOf(err))
}
