// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Conn is the delivery side of a transport connection.
//
// Deliver must not block: transports queue payloads in a bounded outbox and
// return an error when the outbox is full or the connection is gone.
type Conn interface {
	Deliver(p Payload) error
}

// ConnFunc adapts a function to the Conn interface.
type ConnFunc func(p Payload) error

// Deliver calls f(p).
func (f ConnFunc) Deliver(p Payload) error { return f(p) }

// Broadcaster delivers payloads to connections. It knows which transport
// handle belongs to which connection; room membership comes from the registry.
type Broadcaster struct {
	mu       sync.RWMutex
	conns    map[ulid.ULID]Conn
	registry *RoomRegistry
}

// NewBroadcaster creates a broadcaster that resolves rooms through registry.
func NewBroadcaster(registry *RoomRegistry) *Broadcaster {
	return &Broadcaster{
		conns:    make(map[ulid.ULID]Conn),
		registry: registry,
	}
}

// Attach registers the transport handle for a connection, replacing any
// previous one.
func (b *Broadcaster) Attach(connID ulid.ULID, conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.conns[connID]; !exists {
		activeConnections.Inc()
	}
	b.conns[connID] = conn
}

// Detach forgets a connection. Later deliveries to it are no-ops.
func (b *Broadcaster) Detach(connID ulid.ULID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.conns[connID]; exists {
		delete(b.conns, connID)
		activeConnections.Dec()
	}
}

// SendTo delivers p to every current member of room and returns how many
// deliveries succeeded. Membership is read once, at call time.
func (b *Broadcaster) SendTo(room string, p Payload) int {
	members := b.registry.MembersOf(room)
	ids := make([]ulid.ULID, len(members))
	for i, m := range members {
		ids[i] = m.ConnID
	}
	return b.deliver(ids, p)
}

// SendToOne delivers p to a single connection regardless of its membership.
func (b *Broadcaster) SendToOne(connID ulid.ULID, p Payload) bool {
	return b.deliver([]ulid.ULID{connID}, p) == 1
}

// deliver fans p out to ids. Missing connections and failed deliveries are
// logged and counted, never retried.
func (b *Broadcaster) deliver(ids []ulid.ULID, p Payload) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, id := range ids {
		conn, ok := b.conns[id]
		if !ok {
			recordDelivery(p.Kind, deliveryMissing)
			continue
		}
		if err := conn.Deliver(p); err != nil {
			// Disconnect races and slow consumers end up here. Messages are
			// not queued for connections that miss them.
			slog.Debug("delivery dropped",
				"conn_id", id.String(),
				"room", p.Room,
				"kind", string(p.Kind),
				"error", ErrTransport(id.String(), err),
			)
			recordDelivery(p.Kind, deliveryDropped)
			continue
		}
		recordDelivery(p.Kind, deliveryDelivered)
		delivered++
	}
	return delivered
}
