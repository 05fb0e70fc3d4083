// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for room event metrics.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

const (
	deliveryDelivered = "delivered"
	deliveryDropped   = "dropped"
	deliveryMissing   = "missing"
)

// RoomEvents counts session events (join, send, leave, disconnect) by outcome.
var RoomEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "roomrelay_room_events_total",
		Help: "Total number of session events by event and outcome",
	},
	[]string{"event", "outcome"},
)

// Deliveries counts per-connection payload deliveries.
var Deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "roomrelay_deliveries_total",
		Help: "Total number of payload deliveries by kind and status",
	},
	[]string{"kind", "status"},
)

// StoreDuration observes message store latency.
var StoreDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "roomrelay_store_duration_seconds",
		Help:    "Message store call duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "outcome"},
)

var activeRooms = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "roomrelay_active_rooms",
	Help: "Current number of rooms held in memory",
})

var activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "roomrelay_active_connections",
	Help: "Current number of attached connections",
})

// RegisterMetrics registers core metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RoomEvents)
	reg.MustRegister(Deliveries)
	reg.MustRegister(StoreDuration)
	reg.MustRegister(activeRooms)
	reg.MustRegister(activeConnections)
}

func recordEvent(event, outcome string) {
	RoomEvents.WithLabelValues(event, outcome).Inc()
}

func recordDelivery(kind PayloadKind, status string) {
	Deliveries.WithLabelValues(string(kind), status).Inc()
}

func recordStoreCall(operation string, started time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	StoreDuration.WithLabelValues(operation, outcome).Observe(time.Since(started).Seconds())
}

// OutcomeOf classifies the error returned by a controller operation.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case IsValidation(err), IsRateLimited(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
