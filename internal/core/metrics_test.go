// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { RegisterMetrics(reg) })

	// Registering twice on one registry is a programming error.
	assert.Panics(t, func() { RegisterMetrics(reg) })

	// A second registry is independent.
	assert.NotPanics(t, func() { RegisterMetrics(prometheus.NewRegistry()) })
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, OutcomeOK},
		{"validation", ErrValidation("empty room"), OutcomeRejected},
		{"rate limited", ErrRateLimited(100), OutcomeRejected},
		{"persistence", ErrPersistence("append", "lobby", errors.New("down")), OutcomeFailed},
		{"plain", errors.New("boom"), OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeOf(tt.err))
		})
	}
}

func TestMetrics_SessionEventsAndGauges(t *testing.T) {
	joinOK := testutil.ToFloat64(RoomEvents.WithLabelValues("join", OutcomeOK))
	joinRejected := testutil.ToFloat64(RoomEvents.WithLabelValues("join", OutcomeRejected))
	sendOK := testutil.ToFloat64(RoomEvents.WithLabelValues("send", OutcomeOK))
	delivered := testutil.ToFloat64(Deliveries.WithLabelValues(string(PayloadMessage), deliveryDelivered))
	rooms := testutil.ToFloat64(activeRooms)
	conns := testutil.ToFloat64(activeConnections)

	h := newHarness()
	alice, _ := h.joined(t, "metrics-room", "alice")
	h.joined(t, "metrics-room", "bob")
	stray, _ := h.connect()
	assert.Error(t, h.ctrl.Join(context.Background(), stray, "", "nobody"))

	require.NoError(t, h.ctrl.Send(context.Background(), alice, "", "hi", ""))

	assert.InDelta(t, 2, testutil.ToFloat64(RoomEvents.WithLabelValues("join", OutcomeOK))-joinOK, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(RoomEvents.WithLabelValues("join", OutcomeRejected))-joinRejected, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(RoomEvents.WithLabelValues("send", OutcomeOK))-sendOK, 0)
	assert.InDelta(t, 2, testutil.ToFloat64(Deliveries.WithLabelValues(string(PayloadMessage), deliveryDelivered))-delivered, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(activeRooms)-rooms, 0)
	assert.InDelta(t, 3, testutil.ToFloat64(activeConnections)-conns, 0)

	h.ctrl.Disconnect(stray)
	assert.InDelta(t, 2, testutil.ToFloat64(activeConnections)-conns, 0)
}

func TestMetrics_StoreDurationObserved(t *testing.T) {
	before := testutil.CollectAndCount(StoreDuration)

	gw := NewHistoryGateway(NewMemoryMessageStore())
	_, err := gw.ReadHistory(context.Background(), "metrics-store-room", 10)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(StoreDuration), max(before, 1))
}
