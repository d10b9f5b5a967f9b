// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_pipeline_runs_total",
		Help: "Completed pipeline runs by mode and outcome",
	}, []string{"mode", "outcome"})

	pipelineInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "firewatch_pipeline_inflight",
		Help: "Pipeline runs currently executing",
	}, []string{"mode"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firewatch_pipeline_stage_duration_seconds",
		Help:    "Duration of individual pipeline stages",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
	}, []string{"stage", "outcome"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_pipeline_stage_failures_total",
		Help: "Stage failures by stage and error kind",
	}, []string{"stage", "kind"})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_pipeline_transitions_total",
		Help: "Pipeline state machine transitions",
	}, []string{"from", "to"})

	admissionWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "firewatch_pipeline_admission_wait_seconds",
		Help:    "Time spent waiting for a pipeline execution slot",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_detections_total",
		Help: "Inference verdicts by verdict and deciding signal",
	}, []string{"verdict", "signal"})
)

// RecordRun counts a finished run.
func RecordRun(mode, outcome string) {
	pipelineRuns.WithLabelValues(mode, outcome).Inc()
}

// RunStarted increments the in-flight gauge and returns its decrement.
func RunStarted(mode string) func() {
	g := pipelineInflight.WithLabelValues(mode)
	g.Inc()
	return g.Dec
}

// ObserveStage records stage duration and, for failures, the error kind.
func ObserveStage(stage, outcome, kind string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
	if kind != "" {
		stageFailures.WithLabelValues(stage, kind).Inc()
	}
}

// RecordTransition counts a state machine transition.
func RecordTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// ObserveAdmissionWait records how long a run waited for a slot.
func ObserveAdmissionWait(d time.Duration) {
	admissionWait.Observe(d.Seconds())
}

// RecordDetection counts an inference verdict.
func RecordDetection(verdict, signal string) {
	detections.WithLabelValues(verdict, signal).Inc()
}
