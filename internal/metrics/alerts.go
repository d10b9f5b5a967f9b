// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_alert_dispatches_total",
		Help: "Alert dispatch results by transport and status",
	}, []string{"transport", "status"})

	alertLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firewatch_alert_delivery_seconds",
		Help:    "Latency of alert transport delivery attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport"})
)

// RecordAlert counts one dispatch decision.
func RecordAlert(transport, status string) {
	alertDispatches.WithLabelValues(transport, status).Inc()
}

// ObserveAlertLatency records the time spent inside a transport.
func ObserveAlertLatency(transport string, d time.Duration) {
	alertLatency.WithLabelValues(transport).Observe(d.Seconds())
}
