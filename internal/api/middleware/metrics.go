// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "firewatch_http_request_duration_seconds",
		Help: "Request latency by route; upload routes include the whole pipeline run",
		// Ingest requests block on transcode and inference, so the tail reaches minutes.
		Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"method", "route", "code"})

	httpInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firewatch_http_requests_in_flight",
		Help: "Requests currently being served",
	})

	uploadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firewatch_http_upload_bytes",
		Help:    "Declared body size of POST requests by route",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 9), // 16KiB to 1GiB
	}, []string{"route"})

	httpRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_http_rejected_total",
		Help: "Requests answered with 4xx or 5xx by route and status",
	}, []string{"route", "code"})
)

// Metrics records latency, in-flight count, upload sizes and error responses.
// Routes are labelled by chi pattern so raw paths cannot blow up cardinality.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpInflight.Inc()
			defer httpInflight.Dec()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routeOf(r)
			code := strconv.Itoa(status)

			httpDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
			if r.Method == http.MethodPost && r.ContentLength > 0 {
				uploadBytes.WithLabelValues(route).Observe(float64(r.ContentLength))
			}
			if status >= http.StatusBadRequest {
				httpRejected.WithLabelValues(route, code).Inc()
			}
		})
	}
}

func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
