// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomrelay/roomrelay/internal/core"
)

func TestWSConn_DeliverQueuesUntilFull(t *testing.T) {
	c := newWSConn(core.NewConnID(), nil, 2)

	require.NoError(t, c.Deliver(core.NoticePayload("lobby", "one")))
	require.NoError(t, c.Deliver(core.NoticePayload("lobby", "two")))

	err := c.Deliver(core.NoticePayload("lobby", "three"))
	assert.ErrorIs(t, err, errBackpressure)
	assert.Len(t, c.send, 2)
}

func TestWSConn_DeliverAfterCloseFails(t *testing.T) {
	c := newWSConn(core.NewConnID(), nil, 2)
	close(c.done)

	err := c.Deliver(core.NoticePayload("lobby", "late"))
	assert.ErrorIs(t, err, core.ErrConnectionClosed)
	assert.Empty(t, c.send)
}

func TestWSConn_DeliverRejectsUnencodablePayload(t *testing.T) {
	c := newWSConn(core.NewConnID(), nil, 2)

	err := c.Deliver(core.Payload{Kind: "bogus"})
	assert.Error(t, err)
	assert.Empty(t, c.send)
}
