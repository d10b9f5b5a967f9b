// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package inference runs the external fire detector and turns its exit code,
// stdout tokens and evidence file into a Detection.
package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/fsutil"
	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/metrics"
	stageexec "github.com/ManuGH/firewatch/internal/pipeline/exec"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/subproc"
	"github.com/ManuGH/firewatch/internal/telemetry"
)

const tool = "detector"

// EnvEvidencePath tells the detector where to write its evidence image.
const EnvEvidencePath = "FIREWATCH_EVIDENCE_PATH"

// Placeholders expanded in Args, Env and EvidencePath.
const (
	PlaceholderInput     = "{input}"
	PlaceholderOutput    = "{output}"
	PlaceholderEvidence  = "{evidence}"
	PlaceholderRequestID = "{request_id}"
)

// FrameExtractor writes a still image of the media at in to out. The
// transcode stage implements it.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, in, out string) error
}

// Options configures the detector invocation.
type Options struct {
	Command string
	Args    []string
	Env     []string
	WorkDir string
	// EvidencePath is where the detector writes its evidence image. Relative
	// paths resolve against the run's upload directory. A path without
	// {evidence} or {request_id} is shared by every run, so runs using it
	// are serialized.
	EvidencePath      string
	OutputExt         string
	PositiveTokens    []string
	NegativeTokens    []string
	NegativeExitCodes []int
	Timeout           time.Duration
	KillGrace         time.Duration
}

// Stage runs the detector.
type Stage struct {
	runner    subproc.Runner
	opts      Options
	extractor FrameExtractor
	namer     artifact.Namer
}

// New creates an inference stage. extractor may be nil, in which case
// token-only positives fail.
func New(runner subproc.Runner, opts Options, extractor FrameExtractor) *Stage {
	if opts.EvidencePath == "" {
		opts.EvidencePath = PlaceholderEvidence
	}
	if opts.OutputExt == "" {
		opts.OutputExt = ".mp4"
	}
	return &Stage{runner: runner, opts: opts, extractor: extractor, namer: artifact.NewNamer()}
}

// Options returns the effective options.
func (s *Stage) Options() Options { return s.opts }

type paths struct {
	output   string // annotated media
	evidence string // request-unique evidence name
	source   string // where the detector writes evidence
}

// sharedSources holds one lock per fixed evidence path, across stage
// rebuilds on reload.
var sharedSources sync.Map // string -> *semaphore.Weighted

func sourceLock(path string) *semaphore.Weighted {
	v, _ := sharedSources.LoadOrStore(path, semaphore.NewWeighted(1))
	return v.(*semaphore.Weighted)
}

// sharedSource reports whether every run writes evidence to the same file.
func (s *Stage) sharedSource() bool {
	return !strings.Contains(s.opts.EvidencePath, PlaceholderEvidence) &&
		!strings.Contains(s.opts.EvidencePath, PlaceholderRequestID)
}

func (s *Stage) plan(tracker *artifact.Tracker, requestID string) paths {
	root := tracker.Root()
	p := paths{
		output:   filepath.Join(root, s.namer.Name(artifact.StageAnnotated, tracker.Owner(), s.opts.OutputExt)),
		evidence: filepath.Join(root, s.namer.Name(artifact.StageEvidence, tracker.Owner(), ".jpg")),
	}
	src := strings.NewReplacer(
		PlaceholderEvidence, p.evidence,
		PlaceholderRequestID, requestID,
	).Replace(s.opts.EvidencePath)
	if !filepath.IsAbs(src) {
		src = filepath.Join(root, src)
	}
	p.source = filepath.Clean(src)
	return p
}

// Run invokes the detector on media. At most one evidence artifact is
// registered; a positive Detection always carries it.
func (s *Stage) Run(ctx context.Context, tracker *artifact.Tracker, media artifact.Artifact, requestID string) model.StageResult[model.Detection] {
	logger := log.WithContext(ctx, log.WithComponent("inference"))
	if media.Path == "" {
		return model.Failed[model.Detection](model.KindInput, model.StageInference, "no media to analyse", nil)
	}

	p := s.plan(tracker, requestID)
	expand := strings.NewReplacer(
		PlaceholderInput, media.Path,
		PlaceholderOutput, p.output,
		PlaceholderEvidence, p.evidence,
		PlaceholderRequestID, requestID,
	).Replace

	// Both are registered before launch so nothing the detector writes can
	// outlive the run.
	output, err := tracker.Track(p.output, artifact.StageAnnotated)
	if err != nil {
		return model.Failed[model.Detection](model.KindInternal, model.StageInference, "register output", err)
	}
	evidence, err := tracker.Track(p.evidence, artifact.StageEvidence)
	if err != nil {
		return model.Failed[model.Detection](model.KindInternal, model.StageInference, "register evidence", err)
	}
	release := func() {
		releaseEarly(logger, tracker, output)
		releaseEarly(logger, tracker, evidence)
	}

	// A fixed evidence path is held from before launch until the file is
	// claimed, so no other run can write or take it in between.
	unlock := func() {}
	if s.sharedSource() {
		lock := sourceLock(p.source)
		if err := lock.Acquire(ctx, 1); err != nil {
			release()
			f := stageexec.ClassifyRunError(ctx, model.StageInference, model.KindInference, tool, err)
			logFailure(logger, f, subproc.Result{})
			return model.FailedWith[model.Detection](f)
		}
		var once sync.Once
		unlock = func() { once.Do(func() { lock.Release(1) }) }
		defer unlock()

		if err := os.Remove(p.source); err != nil && !errors.Is(err, os.ErrNotExist) {
			release()
			f := model.NewFailure(model.KindInternal, model.StageInference, "stale evidence file could not be removed", err)
			logFailure(logger, f, subproc.Result{})
			return model.FailedWith[model.Detection](f)
		}
	}

	args := make([]string, len(s.opts.Args))
	for i, a := range s.opts.Args {
		args[i] = expand(a)
	}
	env := make([]string, 0, len(s.opts.Env)+2)
	for _, e := range s.opts.Env {
		env = append(env, expand(e))
	}
	env = append(env, EnvEvidencePath+"="+p.source, "FIREWATCH_REQUEST_ID="+requestID)

	watch := append(append([]string(nil), s.opts.PositiveTokens...), s.opts.NegativeTokens...)
	res, runErr := s.runner.Run(ctx, subproc.Spec{
		Tool:      tool,
		Path:      s.opts.Command,
		Args:      args,
		Env:       env,
		Dir:       s.opts.WorkDir,
		Timeout:   s.opts.Timeout,
		KillGrace: s.opts.KillGrace,
		Watch:     watch,
	})
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.ProcessAttributes(tool, res.ExitCode, res.TimedOut)...)

	if runErr != nil {
		// A killed detector may still have dropped a shared evidence file.
		_ = s.claim(p)
		unlock()
		release()
		f := stageexec.ClassifyRunError(ctx, model.StageInference, model.KindInference, tool, runErr)
		logFailure(logger, f, res)
		return model.FailedWith[model.Detection](f)
	}

	claimErr := s.claim(p)
	unlock()
	if claimErr != nil && !errors.Is(claimErr, os.ErrNotExist) {
		release()
		f := model.NewFailure(model.KindInference, model.StageInference, "evidence file could not be claimed", claimErr)
		logFailure(logger, f, res)
		return model.FailedWith[model.Detection](f)
	}
	_, evErr := fsutil.NonEmptyRegularFile(p.evidence)

	decision, f := Decide(Observation{
		ExitCode:      res.ExitCode,
		EvidenceFound: evErr == nil,
		PositiveToken: anySeen(res.Seen, s.opts.PositiveTokens),
		NegativeToken: anySeen(res.Seen, s.opts.NegativeTokens),
	}, s.opts.NegativeExitCodes)
	if f != nil {
		if errors.Is(f, ErrDetectorFailed) {
			f = stageexec.ExitFailure(model.StageInference, model.KindInference, tool, res)
			f.Err = ErrDetectorFailed
		}
		release()
		logFailure(logger, f, res)
		return model.FailedWith[model.Detection](f)
	}

	det := model.Detection{Verdict: decision.Verdict, Signal: decision.Signal}
	if _, err := fsutil.NonEmptyRegularFile(p.output); err == nil {
		det.Output = &output
	} else {
		releaseEarly(logger, tracker, output)
	}

	switch {
	case decision.Verdict == model.VerdictNegative:
		releaseEarly(logger, tracker, evidence)
	case decision.NeedsEvidence:
		if err := s.snapshot(ctx, media, det.Output, evidence.Path); err != nil {
			release()
			f := model.NewFailure(model.KindInference, model.StageInference, "positive verdict without evidence", err)
			logFailure(logger, f, res)
			return model.FailedWith[model.Detection](f)
		}
		det.Evidence = &evidence
	default:
		det.Evidence = &evidence
	}

	metrics.RecordDetection(string(det.Verdict), string(det.Signal))
	span.SetAttributes(
		attribute.String(telemetry.VerdictKey, string(det.Verdict)),
		attribute.String(telemetry.SignalKey, string(det.Signal)),
	)
	logger.Info().
		Str(log.FieldEvent, "inference.done").
		Str("verdict", string(det.Verdict)).
		Str("signal", string(det.Signal)).
		Int(log.FieldExitCode, res.ExitCode).
		Int64(log.FieldDuration, res.Elapsed.Milliseconds()).
		Msg("detector finished")
	return model.Ok(det)
}

// claim moves the detector's evidence file onto the request-unique name.
// For the default per-request path this is a no-op.
func (s *Stage) claim(p paths) error {
	if p.source == p.evidence {
		if _, err := os.Stat(p.evidence); err != nil {
			return err
		}
		return nil
	}
	if err := os.Rename(p.source, p.evidence); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("claim %s: %w", p.source, err)
	}
	return nil
}

// snapshot writes evidence for a token-only positive into the registered
// evidence slot, preferring the annotated output when there is one.
func (s *Stage) snapshot(ctx context.Context, media artifact.Artifact, annotated *artifact.Artifact, out string) error {
	if s.extractor == nil {
		return errors.New("no frame extractor configured")
	}
	src := media.Path
	if annotated != nil {
		src = annotated.Path
	}
	if err := s.extractor.ExtractFrame(ctx, src, out); err != nil {
		return err
	}
	_, err := fsutil.NonEmptyRegularFile(out)
	return err
}

func releaseEarly(logger zerolog.Logger, tracker *artifact.Tracker, a artifact.Artifact) {
	if err := tracker.Release(a); err != nil {
		logger.Warn().Err(err).Str(log.FieldArtifact, a.String()).Msg("early release failed; deferred to run cleanup")
	}
}

func logFailure(logger zerolog.Logger, f *model.Failure, res subproc.Result) {
	logger.Warn().
		Err(f.Err).
		Str(log.FieldEvent, "inference.failed").
		Str("kind", string(f.Kind)).
		Int(log.FieldExitCode, res.ExitCode).
		Strs("stdout", res.Stdout).
		Msg(f.Detail)
}
