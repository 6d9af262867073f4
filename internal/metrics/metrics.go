// Package metrics exposes Prometheus collectors for ring activity.
// Served at /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RingAttempts counts completed ring attempts by terminal result.
	RingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipring",
		Name:      "ring_attempts_total",
		Help:      "Total number of completed ring attempts by result",
	}, []string{"result"})

	// ActiveRings tracks the number of currently live ring attempts.
	ActiveRings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sipring",
		Name:      "active_rings",
		Help:      "Number of currently active ring attempts",
	})

	// RingDuration observes wall-clock duration of ring attempts.
	RingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sipring",
		Name:      "ring_duration_seconds",
		Help:      "Duration of ring attempts in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)
