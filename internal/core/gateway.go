// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"context"
	"time"
)

// Gateway defaults.
const (
	// DefaultHistoryLimit caps how many messages a joiner is replayed.
	DefaultHistoryLimit = 500

	// DefaultStoreTimeout bounds every message store call.
	DefaultStoreTimeout = 5 * time.Second
)

// GatewayOption configures a HistoryGateway.
type GatewayOption func(*HistoryGateway)

// WithStoreTimeout sets the per-call deadline. Non-positive values keep the default.
func WithStoreTimeout(d time.Duration) GatewayOption {
	return func(g *HistoryGateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithHistoryCap sets the maximum history length. Non-positive values keep the default.
func WithHistoryCap(n int) GatewayOption {
	return func(g *HistoryGateway) {
		if n > 0 {
			g.cap = n
		}
	}
}

// HistoryGateway fronts a MessageStore with bounded calls and uniform
// PERSISTENCE_FAILED errors, so no connection waits on storage forever.
type HistoryGateway struct {
	store   MessageStore
	timeout time.Duration
	cap     int
}

// NewHistoryGateway wraps store.
func NewHistoryGateway(store MessageStore, opts ...GatewayOption) *HistoryGateway {
	g := &HistoryGateway{
		store:   store,
		timeout: DefaultStoreTimeout,
		cap:     DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Cap returns the maximum number of messages ReadHistory will return.
func (g *HistoryGateway) Cap() int { return g.cap }

// Append persists msg within the configured timeout.
func (g *HistoryGateway) Append(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	err := g.store.Append(ctx, msg)
	recordStoreCall("append", started, err)
	if err != nil {
		return ErrPersistence("append", msg.Room, err)
	}
	return nil
}

// ReadHistory returns up to limit recent messages of room, oldest first.
// A limit outside (0, cap] is clamped to cap.
func (g *HistoryGateway) ReadHistory(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 || limit > g.cap {
		limit = g.cap
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	msgs, err := g.store.ReadHistory(ctx, room, limit)
	recordStoreCall("read_history", started, err)
	if err != nil {
		return nil, ErrPersistence("read_history", room, err)
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
