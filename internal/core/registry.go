// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// member is one connection's entry in a room.
type member struct {
	identity Identity
	seq      uint64 // join order within the room
}

// Room is the live membership of one named room.
//
// All reads and writes of members happen under mu. The registry hands out
// locked rooms to the session controller so that a membership change and the
// broadcast describing it happen as one step.
type Room struct {
	name    string
	mu      sync.Mutex
	members map[ulid.ULID]member
	nextSeq uint64
	dead    bool // reclaimed; lockers must look the room up again
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		members: make(map[ulid.ULID]member),
	}
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// add inserts or updates a member. Re-adding keeps the original join position.
// Caller holds mu.
func (r *Room) add(id Identity) {
	if m, ok := r.members[id.ConnID]; ok {
		m.identity = id
		r.members[id.ConnID] = m
		return
	}
	r.nextSeq++
	r.members[id.ConnID] = member{identity: id, seq: r.nextSeq}
}

// remove deletes a member, reporting whether it was present. Caller holds mu.
func (r *Room) remove(connID ulid.ULID) bool {
	if _, ok := r.members[connID]; !ok {
		return false
	}
	delete(r.members, connID)
	return true
}

// has reports whether connID is a member. Caller holds mu.
func (r *Room) has(connID ulid.ULID) bool {
	_, ok := r.members[connID]
	return ok
}

// snapshot returns the members in join order. Caller holds mu.
func (r *Room) snapshot() []Identity {
	ordered := make([]member, 0, len(r.members))
	for _, m := range r.members {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]Identity, len(ordered))
	for i, m := range ordered {
		out[i] = m.identity
	}
	return out
}

// connIDs returns the member connection handles in join order. Caller holds mu.
func (r *Room) connIDs() []ulid.ULID {
	ids := r.snapshot()
	out := make([]ulid.ULID, len(ids))
	for i, id := range ids {
		out[i] = id.ConnID
	}
	return out
}

// RegistryOption configures a RoomRegistry.
type RegistryOption func(*RoomRegistry)

// WithRoomReclaim controls whether rooms are dropped once their last member
// leaves. Reclaiming is the default.
func WithRoomReclaim(enabled bool) RegistryOption {
	return func(r *RoomRegistry) {
		r.reclaim = enabled
	}
}

// RoomRegistry maps room names to their live membership. It is the only
// owner of membership state.
type RoomRegistry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	reclaim bool
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry(opts ...RegistryOption) *RoomRegistry {
	r := &RoomRegistry{
		rooms:   make(map[string]*Room),
		reclaim: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureRoom returns the named room, creating an empty one if needed.
func (r *RoomRegistry) EnsureRoom(name string) *Room {
	r.mu.RLock()
	room, ok := r.rooms[name]
	r.mu.RUnlock()
	if ok {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[name]; !ok {
		room = newRoom(name)
		r.rooms[name] = room
		activeRooms.Inc()
	}
	return room
}

// acquire returns the named room locked, creating it if needed. A room that
// was reclaimed between lookup and lock is skipped and looked up again.
func (r *RoomRegistry) acquire(name string) *Room {
	for {
		room := r.EnsureRoom(name)
		room.mu.Lock()
		if !room.dead {
			return room
		}
		room.mu.Unlock()
	}
}

// acquireExisting returns the named room locked, or nil if it does not exist.
func (r *RoomRegistry) acquireExisting(name string) *Room {
	for {
		r.mu.RLock()
		room, ok := r.rooms[name]
		r.mu.RUnlock()
		if !ok {
			return nil
		}
		room.mu.Lock()
		if !room.dead {
			return room
		}
		room.mu.Unlock()
	}
}

// release unlocks a room obtained from acquire, reclaiming it first if it is
// empty and reclamation is enabled.
func (r *RoomRegistry) release(room *Room) {
	if r.reclaim && len(room.members) == 0 {
		room.dead = true
		r.mu.Lock()
		if r.rooms[room.name] == room {
			delete(r.rooms, room.name)
			activeRooms.Dec()
		}
		r.mu.Unlock()
	}
	room.mu.Unlock()
}

// AddMember adds or updates a connection in a room, creating the room if needed.
func (r *RoomRegistry) AddMember(name string, id Identity) {
	room := r.acquire(name)
	defer r.release(room)
	room.add(id)
}

// RemoveMember removes a connection from a room. It is a no-op if the room or
// the member does not exist.
func (r *RoomRegistry) RemoveMember(name string, connID ulid.ULID) {
	room := r.acquireExisting(name)
	if room == nil {
		return
	}
	defer r.release(room)
	room.remove(connID)
}

// MembersOf returns a point-in-time copy of a room's members in join order.
func (r *RoomRegistry) MembersOf(name string) []Identity {
	room := r.acquireExisting(name)
	if room == nil {
		return nil
	}
	defer room.mu.Unlock()
	return room.snapshot()
}

// Presence returns the presence snapshot of a room.
func (r *RoomRegistry) Presence(name string) []string {
	return PresenceOf(r.MembersOf(name))
}

// Rooms returns the names of all live rooms, sorted.
func (r *RoomRegistry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
