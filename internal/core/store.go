// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"context"
	"sync"
)

// MessageStore is the durable, room-partitioned message log.
type MessageStore interface {
	// Append durably persists one message.
	Append(ctx context.Context, msg Message) error

	// ReadHistory returns up to limit of the most recent messages in room,
	// oldest first.
	ReadHistory(ctx context.Context, room string, limit int) ([]Message, error)
}

// MemoryMessageStore is an in-memory MessageStore for tests and single-node
// deployments that do not need history to survive a restart.
type MemoryMessageStore struct {
	mu    sync.RWMutex
	rooms map[string][]Message
}

// NewMemoryMessageStore creates a new in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		rooms: make(map[string][]Message),
	}
}

// Append stores a message.
func (s *MemoryMessageStore) Append(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[msg.Room] = append(s.rooms[msg.Room], msg)
	return nil
}

// ReadHistory returns the tail of a room's log.
func (s *MemoryMessageStore) ReadHistory(ctx context.Context, room string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[room]
	if len(msgs) == 0 || limit <= 0 {
		return nil, nil
	}

	start := max(len(msgs)-limit, 0)
	result := make([]Message, len(msgs)-start)
	copy(result, msgs[start:])
	return result, nil
}

// Len returns the number of stored messages in a room.
func (s *MemoryMessageStore) Len(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}
