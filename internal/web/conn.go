// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package web

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/roomrelay/roomrelay/internal/core"
)

// errBackpressure is returned by Deliver when the outbox is full.
var errBackpressure = errors.New("websocket outbox full")

// wsConn is the core.Conn of one WebSocket client. Deliveries are encoded
// and queued on send; the write pump drains the queue onto the socket.
type wsConn struct {
	id   ulid.ULID
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(id ulid.ULID, ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Deliver queues p without blocking.
func (c *wsConn) Deliver(p core.Payload) error {
	select {
	case <-c.done:
		return core.ErrConnectionClosed
	default:
	}

	data, err := encodePayload(p)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return core.ErrConnectionClosed
	default:
		return errBackpressure
	}
}

// close stops the write pump and closes the socket. Safe to call many times.
func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
