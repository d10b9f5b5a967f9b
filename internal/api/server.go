// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the upload endpoints, health probes, published results
// and the OpenAPI contract over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/firewatch/internal/api/middleware"
	"github.com/ManuGH/firewatch/internal/health"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/pipeline/worker"
	"github.com/ManuGH/firewatch/internal/results"
)

// Pipeline starts runs. *worker.Orchestrator implements it.
type Pipeline interface {
	Begin(ctx context.Context, mode model.Mode) (*worker.Run, error)
}

// Config holds the HTTP layer settings.
type Config struct {
	MaxVideoBytes int64
	MaxFrameBytes int64
	Stack         middleware.StackConfig
}

// Server wires handlers to the pipeline.
type Server struct {
	cfg      Config
	pipeline Pipeline
	health   *health.Manager
	results  *results.Store

	// runCtx bounds pipeline execution independently of client connections.
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// New creates a server. health and store may be nil.
func New(cfg Config, pipeline Pipeline, hm *health.Manager, store *results.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		pipeline:   pipeline,
		health:     hm,
		results:    store,
		runCtx:     ctx,
		cancelRuns: cancel,
	}
}

// CancelRuns cancels every executing run. Runs finish with CANCELED and
// clean up their artifacts. Used when the shutdown grace period expires.
func (s *Server) CancelRuns() {
	s.cancelRuns()
}

// Handler builds the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(s.cfg.Stack)

	if s.health != nil {
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
	}
	r.Get("/api/openapi.yaml", handleOpenAPI)

	video := s.handleUpload(model.ModeVideo, "video", "file")
	frame := s.handleUpload(model.ModeFrame, "frame", "image", "file")
	r.Post("/api/v1/detections", video)
	r.Post("/api/v1/frames", frame)
	// Routes of the original web client.
	r.Route("/introduction", func(r chi.Router) {
		r.Post("/uploadAndAnalyze", video)
		r.Post("/frame", frame)
	})

	if s.results.Enabled() {
		r.Get(s.results.Prefix()+"{name}", s.handleResult)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

func (s *Server) limitFor(mode model.Mode) int64 {
	if mode == model.ModeFrame {
		return s.cfg.MaxFrameBytes
	}
	return s.cfg.MaxVideoBytes
}

// runContext detaches pipeline execution from the client connection: once
// the upload has arrived, the alert goes out even if the client hangs up.
// Shutdown still cancels it through runCtx.
func (s *Server) runContext(r *http.Request) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(s.runCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
