// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package middleware holds the HTTP ingress middleware stack.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/firewatch/internal/log"
)

// StackConfig configures the canonical HTTP ingress middleware stack.
type StackConfig struct {
	// CORS
	EnableCORS     bool
	AllowedOrigins []string

	// Security headers
	EnableSecurityHeaders bool
	CSP                   string

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Rate limiting per client IP
	EnableRateLimit bool
	RateLimit       int
	RateWindow      time.Duration
}

// NewRouter constructs a chi router with the canonical middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack installs the enabled middleware on r, outermost first.
// Recoverer and RequestID are always on so every failure carries an id.
func ApplyStack(r chi.Router, cfg StackConfig) {
	type mw = func(http.Handler) http.Handler
	steps := []struct {
		on   bool
		make func() mw
	}{
		{true, func() mw { return Recoverer }},
		{true, func() mw { return RequestID }},
		{cfg.EnableCORS, func() mw { return CORS(cfg.AllowedOrigins) }},
		{cfg.EnableSecurityHeaders, func() mw { return SecurityHeaders(cfg.CSP) }},
		{cfg.EnableMetrics, Metrics},
		{cfg.TracingService != "", func() mw { return OTelHTTP(cfg.TracingService) }},
		// logging sits inside tracing so log lines carry the span ids
		{cfg.EnableLogging, log.Middleware},
		{cfg.EnableRateLimit && cfg.RateLimit > 0, func() mw {
			return RateLimit(RateLimitConfig{RequestLimit: cfg.RateLimit, WindowSize: cfg.RateWindow})
		}},
	}
	for _, s := range steps {
		if s.on {
			r.Use(s.make())
		}
	}
}
