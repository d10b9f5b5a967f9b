// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package transcode normalises uploaded media into the canonical container the
// detector expects.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/fsutil"
	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/media/ffmpeg/watchdog"
	stageexec "github.com/ManuGH/firewatch/internal/pipeline/exec"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/subproc"
	"github.com/ManuGH/firewatch/internal/telemetry"
)

const tool = "ffmpeg"

// ErrNoFrame is returned by ExtractFrame when ffmpeg produced no image.
var ErrNoFrame = errors.New("no frame extracted")

// Options configures the transcoder.
type Options struct {
	BinPath     string
	Timeout     time.Duration
	KillGrace   time.Duration
	VideoCodec  string
	Preset      string
	CRF         int
	PixelFormat string
	AudioCodec  string
	Container   string // extension including the dot
	ExtraArgs   []string

	// StartTimeout and StallTimeout bound how long ffmpeg may go without
	// reporting progress. Both zero disables the watchdog.
	StartTimeout time.Duration
	StallTimeout time.Duration
}

func (o Options) watchdogEnabled() bool {
	return o.StartTimeout > 0 || o.StallTimeout > 0
}

func (o Options) withDefaults() Options {
	if o.BinPath == "" {
		o.BinPath = "ffmpeg"
	}
	if o.VideoCodec == "" {
		o.VideoCodec = "libx264"
	}
	if o.Preset == "" {
		o.Preset = "veryfast"
	}
	if o.CRF <= 0 {
		o.CRF = 23
	}
	if o.PixelFormat == "" {
		o.PixelFormat = "yuv420p"
	}
	if o.Container == "" {
		o.Container = ".mp4"
	}
	return o
}

// Stage runs ffmpeg through a subproc.Runner.
type Stage struct {
	runner subproc.Runner
	opts   Options
	namer  artifact.Namer
}

// New creates a transcode stage.
func New(runner subproc.Runner, opts Options) *Stage {
	return &Stage{runner: runner, opts: opts.withDefaults(), namer: artifact.NewNamer()}
}

// Options returns the effective options.
func (s *Stage) Options() Options { return s.opts }

// Run converts raw into a canonical artifact registered with tracker. On any
// failure the pending output has already been released when Run returns.
func (s *Stage) Run(ctx context.Context, tracker *artifact.Tracker, raw artifact.Artifact) model.StageResult[artifact.Artifact] {
	logger := log.WithContext(ctx, log.WithComponent("transcode"))

	if raw.Path == "" {
		return model.Failed[artifact.Artifact](model.KindInput, model.StageTranscode, "no media to transcode", nil)
	}
	out := filepath.Join(tracker.Root(), s.namer.Name(artifact.StageTranscoded, tracker.Owner(), s.opts.Container))
	args, err := BuildArgs(raw.Path, out, s.opts)
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageTranscode, "build arguments", err)
	}

	// Registered before launch so a killed ffmpeg cannot leave a partial file behind.
	pending, err := tracker.Track(out, artifact.StageTranscoded)
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageTranscode, "register output", err)
	}

	spec := subproc.Spec{
		Tool:      tool,
		Path:      s.opts.BinPath,
		Args:      args,
		Timeout:   s.opts.Timeout,
		KillGrace: s.opts.KillGrace,
	}
	runCtx, stopWatch := s.watch(ctx, &spec)
	res, runErr := s.runner.Run(runCtx, spec)
	stallErr := stopWatch()
	trace.SpanFromContext(ctx).SetAttributes(telemetry.ProcessAttributes(tool, res.ExitCode, res.TimedOut)...)

	var failure *model.Failure
	switch {
	case runErr != nil && stallErr != nil:
		failure = model.NewFailure(model.KindTimeout, model.StageTranscode, "transcoder stalled: "+stallErr.Error(), stallErr)
	case runErr != nil:
		failure = stageexec.ClassifyRunError(ctx, model.StageTranscode, model.KindTranscode, tool, runErr)
	case res.ExitCode != 0:
		failure = stageexec.ExitFailure(model.StageTranscode, model.KindTranscode, tool, res)
	default:
		if _, err := fsutil.NonEmptyRegularFile(out); err != nil {
			failure = model.NewFailure(model.KindTranscode, model.StageTranscode, "transcoder produced no output", err)
		}
	}

	if failure != nil {
		s.releasePending(logger, tracker, pending)
		logger.Warn().
			Str(log.FieldEvent, "transcode.failed").
			Str("kind", string(failure.Kind)).
			Int(log.FieldExitCode, res.ExitCode).
			Msg(failure.Detail)
		return model.FailedWith[artifact.Artifact](failure)
	}

	logger.Info().
		Str(log.FieldEvent, "transcode.done").
		Str(log.FieldArtifact, pending.String()).
		Int64(log.FieldDuration, res.Elapsed.Milliseconds()).
		Msg("media normalised")
	return model.Ok(pending)
}

// watch starts a progress watchdog when enabled. The returned context is
// canceled if ffmpeg stalls; stop ends the watchdog and reports the stall, if
// any.
func (s *Stage) watch(ctx context.Context, spec *subproc.Spec) (context.Context, func() error) {
	if !s.opts.watchdogEnabled() {
		return ctx, func() error { return nil }
	}
	wd := watchdog.New(s.opts.StartTimeout, s.opts.StallTimeout)
	spec.OnStdoutLine = wd.ParseLine

	runCtx, cancel := context.WithCancelCause(ctx)
	wdCtx, stopWD := context.WithCancel(runCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := wd.Run(wdCtx); err != nil {
			cancel(err)
		}
	}()
	return runCtx, func() error {
		stopWD()
		<-done
		cause := context.Cause(runCtx)
		cancel(nil)
		if errors.Is(cause, watchdog.ErrStalled) || errors.Is(cause, watchdog.ErrNoProgress) {
			return cause
		}
		return nil
	}
}

// ExtractFrame writes a representative JPEG frame of in to out. The caller
// owns out; a failed extraction may leave a partial file there.
func (s *Stage) ExtractFrame(ctx context.Context, in, out string) error {
	res, err := s.runner.Run(ctx, subproc.Spec{
		Tool:      tool,
		Path:      s.opts.BinPath,
		Args:      BuildFrameArgs(in, out),
		Timeout:   s.opts.Timeout,
		KillGrace: s.opts.KillGrace,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: exit %d: %s", ErrNoFrame, res.ExitCode, res.StderrSummary())
	}
	if _, err := fsutil.NonEmptyRegularFile(out); err != nil {
		return fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return nil
}

func (s *Stage) releasePending(logger zerolog.Logger, tracker *artifact.Tracker, a artifact.Artifact) {
	if err := tracker.Release(a); err != nil {
		logger.Warn().Err(err).Str(log.FieldArtifact, a.String()).Msg("early release failed; deferred to run cleanup")
	}
}
