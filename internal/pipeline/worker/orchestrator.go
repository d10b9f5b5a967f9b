// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package worker drives one upload through the pipeline: ingest, transcode,
// inference, alert. It is the single place that turns faults into outcomes
// and the only caller of the artifact tracker's ReleaseAll.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/metrics"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
)

var (
	// ErrClosed is returned by Begin once shutdown has started.
	ErrClosed = errors.New("pipeline is shutting down")
	// ErrUnsupportedMode is returned by Begin for a mode without stages.
	ErrUnsupportedMode = errors.New("pipeline mode not available")
)

// Config holds the static orchestrator settings.
type Config struct {
	UploadDir     string
	MaxConcurrent int // 0 means unbounded
	MaxVideoBytes int64
	MaxFrameBytes int64
}

// Orchestrator creates and tracks runs.
type Orchestrator struct {
	cfg    Config
	stages atomic.Pointer[Stages]
	sem    *semaphore.Weighted
	namer  artifact.Namer
	now    func() time.Time

	closed   atomic.Bool
	inflight sync.WaitGroup
}

// New validates cfg and installs the initial stage set.
func New(cfg Config, stages Stages) (*Orchestrator, error) {
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	o := &Orchestrator{cfg: cfg, namer: artifact.NewNamer(), now: time.Now}
	if cfg.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	o.Apply(stages)
	return o, nil
}

// Apply swaps the stage set. Runs already begun keep the set they started with.
func (o *Orchestrator) Apply(stages Stages) {
	s := stages
	o.stages.Store(&s)
}

// Close stops admitting new runs. In-flight runs continue.
func (o *Orchestrator) Close() {
	o.closed.Store(true)
}

// Closed reports whether Close has been called.
func (o *Orchestrator) Closed() bool { return o.closed.Load() }

// Wait blocks until every begun run has finished or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Begin starts a run in RECEIVING. The caller must end it with Execute or
// Abort.
func (o *Orchestrator) Begin(ctx context.Context, mode model.Mode) (*Run, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	stages := o.stages.Load()
	if !mode.Valid() || !stages.supports(mode) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}

	id := uuid.NewString()
	r := &Run{
		o:       o,
		id:      id,
		mode:    mode,
		source:  model.UnknownSource,
		stages:  stages,
		started: o.now(),
	}
	r.tracker = artifact.NewTracker(id, o.cfg.UploadDir,
		artifact.WithLogger(log.WithContext(ctx, log.WithComponent("artifact")).With().Str(log.FieldRunID, id).Logger()))
	m, err := newMachine(mode, r.onDone)
	if err != nil {
		return nil, fmt.Errorf("build state machine: %w", err)
	}
	m.Observe(r.observe)
	r.machine = m

	o.inflight.Add(1)
	r.inflightDone = metrics.RunStarted(string(mode))

	logger := log.WithComponentFromContext(r.logCtx(ctx), "worker")
	logger.Debug().
		Str(log.FieldEvent, "pipeline.begin").
		Str(log.FieldMode, string(mode)).
		Msg("run started")
	return r, nil
}

// Process is the one-shot form: Begin, SetSource, Ingest, Execute.
func (o *Orchestrator) Process(ctx context.Context, mode model.Mode, body io.Reader, name, source string) (model.Outcome, error) {
	r, err := o.Begin(ctx, mode)
	if err != nil {
		return model.Outcome{}, err
	}
	r.SetSource(source)
	if err := r.Ingest(ctx, body, name); err != nil {
		return r.Abort(ctx, err), nil
	}
	return r.Execute(ctx), nil
}

func (o *Orchestrator) limitFor(mode model.Mode) int64 {
	if mode == model.ModeFrame {
		return o.cfg.MaxFrameBytes
	}
	return o.cfg.MaxVideoBytes
}

func (o *Orchestrator) admit(ctx context.Context) (func(), error) {
	if o.sem == nil {
		return func() {}, nil
	}
	start := o.now()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.ObserveAdmissionWait(time.Since(start))
	return func() { o.sem.Release(1) }, nil
}
