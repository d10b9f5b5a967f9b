// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	artifactsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_artifacts_registered_total",
		Help: "Temporary artifacts registered with a resource tracker",
	}, []string{"stage"})

	artifactsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_artifacts_released_total",
		Help: "Temporary artifact releases by result (removed, already_gone, failed)",
	}, []string{"result"})
)

// RecordArtifactRegistered counts a registration.
func RecordArtifactRegistered(stage string) {
	artifactsRegistered.WithLabelValues(stage).Inc()
}

// RecordArtifactReleased counts a release attempt.
func RecordArtifactReleased(result string) {
	artifactsReleased.WithLabelValues(result).Inc()
}
