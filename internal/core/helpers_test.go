// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// recordingConn captures every payload delivered to it.
type recordingConn struct {
	mu       sync.Mutex
	payloads []Payload
	fail     error
}

func (r *recordingConn) Deliver(p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recordingConn) all() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payload, len(r.payloads))
	copy(out, r.payloads)
	return out
}

func (r *recordingConn) ofKind(kind PayloadKind) []Payload {
	var out []Payload
	for _, p := range r.all() {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func (r *recordingConn) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = nil
}

func identity(name string) Identity {
	return Identity{DisplayName: name, ConnID: NewConnID()}
}

func connIDs(ids ...Identity) []ulid.ULID {
	out := make([]ulid.ULID, len(ids))
	for i, id := range ids {
		out[i] = id.ConnID
	}
	return out
}
