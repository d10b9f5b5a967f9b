// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_proc_terminate_total",
		Help: "Signals delivered to supervised process groups",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_proc_wait_total",
		Help: "Outcomes of waiting on a terminated process group",
	}, []string{"result"})

	subprocessRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_subprocess_runs_total",
		Help: "External tool invocations by tool and outcome",
	}, []string{"tool", "outcome"})

	subprocessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firewatch_subprocess_duration_seconds",
		Help:    "Wall time of external tool invocations",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"tool", "outcome"})
)

// IncProcTerminate counts a signal sent to a process group.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait counts how a terminated process group finally exited.
func IncProcWait(result string) {
	procWait.WithLabelValues(result).Inc()
}

// ObserveSubprocess records one finished external tool invocation.
// outcome is one of "ok", "exit_nonzero", "timeout", "canceled", "start_failed".
func ObserveSubprocess(tool, outcome string, elapsed time.Duration) {
	subprocessRuns.WithLabelValues(tool, outcome).Inc()
	subprocessDuration.WithLabelValues(tool, outcome).Observe(elapsed.Seconds())
}
