// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "firewatch_breaker_state",
		Help: "Breaker position per guarded dependency: 0 closed, 1 half-open, 2 open",
	}, []string{"component"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_breaker_trips_total",
		Help: "Times a breaker opened, by cause",
	}, []string{"component", "reason"})

	breakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_breaker_rejections_total",
		Help: "Calls refused without reaching the dependency because the breaker was open",
	}, []string{"component"})
)

// SetCircuitBreakerState publishes the breaker position. Unknown states read as open.
func SetCircuitBreakerState(component, state string) {
	var v float64
	switch state {
	case "closed":
		v = 0
	case "half-open":
		v = 1
	default:
		v = 2
	}
	breakerState.WithLabelValues(component).Set(v)
}

// RecordCircuitBreakerTrip counts a transition to open.
func RecordCircuitBreakerTrip(component, reason string) {
	breakerTrips.WithLabelValues(component, reason).Inc()
}

// RecordCircuitBreakerRejection counts a fail-fast refusal.
func RecordCircuitBreakerRejection(component string) {
	breakerRejections.WithLabelValues(component).Inc()
}
