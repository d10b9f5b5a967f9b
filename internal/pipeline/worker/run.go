// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/firewatch/internal/alert"
	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/metrics"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/telemetry"
)

var (
	// ErrTooLarge marks uploads over the configured size limit.
	ErrTooLarge = errors.New("upload exceeds size limit")
	// ErrEmptyUpload marks zero-byte uploads.
	ErrEmptyUpload = errors.New("upload is empty")
)

// Run is one upload's trip through the pipeline. It exclusively owns its
// artifacts; nothing outside the run may delete them.
type Run struct {
	o       *Orchestrator
	id      string
	mode    model.Mode
	source  string
	stages  *Stages
	tracker *artifact.Tracker
	machine *machine
	started time.Time

	raw       artifact.Artifact
	request   model.UploadRequest
	detection *model.Detection
	delivery  *model.Delivery
	result    string

	inflightDone func()

	mu      sync.Mutex
	done    bool
	outcome model.Outcome
}

// ID returns the run's request id.
func (r *Run) ID() string { return r.id }

// Mode returns the run's mode.
func (r *Run) Mode() model.Mode { return r.mode }

// State returns the current lifecycle state.
func (r *Run) State() model.State { return r.machine.State() }

// History returns every state visited so far.
func (r *Run) History() []model.State { return r.machine.History() }

// Request returns the upload request once ingest has completed.
func (r *Run) Request() model.UploadRequest { return r.request }

// SetSource records the camera tag. It may be called while the upload is
// still arriving, since multipart fields can follow the file.
func (r *Run) SetSource(tag string) {
	r.source = model.NormalizeSource(tag)
	r.request.Source = r.source
}

func (r *Run) logCtx(ctx context.Context) context.Context {
	ctx = log.ContextWithRunID(ctx, r.id)
	if r.source != "" {
		ctx = log.ContextWithSource(ctx, r.source)
	}
	return ctx
}

// ctxReader stops a copy as soon as ctx ends, even if the underlying reader
// would block.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Ingest streams body into a fresh raw artifact. On error the partial file is
// already gone and the returned error is a *model.Failure for Abort.
func (r *Run) Ingest(ctx context.Context, body io.Reader, name string) error {
	if st := r.machine.State(); st != model.StateReceiving {
		return model.NewFailure(model.KindInternal, model.StageIngest, "upload already received", fmt.Errorf("ingest in state %s", st))
	}

	ext := artifact.SafeExt(name, artifact.VideoExts, ".mp4")
	if r.mode == model.ModeFrame {
		ext = artifact.SafeExt(name, artifact.ImageExts, ".jpg")
	}
	path := filepath.Join(r.tracker.Root(), r.o.namer.Name(artifact.StageRaw, r.id, ext))
	raw, err := r.tracker.Track(path, artifact.StageRaw)
	if err != nil {
		return model.NewFailure(model.KindInternal, model.StageIngest, "register upload", err)
	}

	n, err := r.copyTo(ctx, raw.Path, body)
	if err != nil {
		if relErr := r.tracker.Release(raw); relErr != nil {
			logger := log.WithComponentFromContext(r.logCtx(ctx), "worker")
			logger.Warn().Err(relErr).Msg("partial upload release failed")
		}
		return r.ingestFailure(ctx, err)
	}

	r.raw = raw
	r.request = model.UploadRequest{
		ID:           r.id,
		Mode:         r.mode,
		RawPath:      raw.Path,
		OriginalName: filepath.Base(strings.ReplaceAll(name, "\\", "/")),
		Source:       r.source,
		CreatedAt:    r.o.now(),
	}
	if _, err := r.machine.Fire(r.logCtx(ctx), model.EventIngested); err != nil {
		return model.NewFailure(model.KindInternal, model.StageIngest, "state transition", err)
	}
	logger := log.WithComponentFromContext(r.logCtx(ctx), "worker")
	logger.Debug().
		Str(log.FieldEvent, "pipeline.ingested").
		Int64(log.FieldBytes, n).
		Str(log.FieldArtifact, raw.String()).
		Msg("upload received")
	return nil
}

func (r *Run) copyTo(ctx context.Context, path string, body io.Reader) (int64, error) {
	// #nosec G302 G304 -- path is generated inside the upload root; the detector must read it
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	limit := r.o.limitFor(r.mode)
	var src io.Reader = ctxReader{ctx: ctx, r: body}
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return n, copyErr
	case closeErr != nil:
		return n, closeErr
	case limit > 0 && n > limit:
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	case n == 0:
		return 0, ErrEmptyUpload
	}
	return n, nil
}

func (r *Run) ingestFailure(ctx context.Context, err error) *model.Failure {
	var maxBytes *http.MaxBytesError
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return model.NewFailure(model.KindCanceled, model.StageIngest, "upload interrupted", err)
	case errors.As(err, &maxBytes):
		return model.NewFailure(model.KindInput, model.StageIngest, "upload too large", fmt.Errorf("%w: %v", ErrTooLarge, err))
	case errors.Is(err, ErrTooLarge):
		return model.NewFailure(model.KindInput, model.StageIngest, "upload too large", err)
	case errors.Is(err, ErrEmptyUpload):
		return model.NewFailure(model.KindInput, model.StageIngest, "uploaded file is empty", err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return model.NewFailure(model.KindInput, model.StageIngest, "upload truncated", err)
	default:
		return model.NewFailure(model.KindInput, model.StageIngest, "upload could not be stored", err)
	}
}

// Adopt copies a local file into the run, as if it had been uploaded. The
// source file is never modified or removed.
func (r *Run) Adopt(ctx context.Context, path string) error {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path (CLI)
	if err != nil {
		return model.NewFailure(model.KindInput, model.StageIngest, "input file not readable", err)
	}
	defer func() { _ = f.Close() }()
	return r.Ingest(ctx, f, filepath.Base(path))
}

// Abort ends the run with err, typically an Ingest failure. Calling Abort on
// a finished run returns the existing outcome.
func (r *Run) Abort(ctx context.Context, err error) model.Outcome {
	f, ok := model.AsFailure(err)
	if !ok {
		kind := model.KindInternal
		if errors.Is(err, context.Canceled) {
			kind = model.KindCanceled
		}
		f = model.NewFailure(kind, model.StageIngest, "run aborted", err)
	}
	return r.finish(r.logCtx(ctx), f)
}

// Execute runs every stage for the received upload and returns the terminal
// outcome. Artifacts are released before the outcome is built.
func (r *Run) Execute(ctx context.Context) (out model.Outcome) {
	if o, ok := r.finished(); ok {
		return o
	}
	ctx = r.logCtx(ctx)
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run",
		trace.WithAttributes(telemetry.RunAttributes(r.id, string(r.mode), r.source)...))
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			out = r.finish(ctx, model.NewFailure(model.KindInternal, r.currentStage(),
				"internal error", fmt.Errorf("panic: %v", p)))
		}
		span.SetAttributes(attribute.String(telemetry.OutcomeKey, outcomeLabel(out)))
		if out.Failure != nil {
			telemetry.FailSpan(span, string(out.Failure.Kind), out.Failure)
		}
	}()

	if st := r.machine.State(); st != model.StateReceived {
		return r.finish(ctx, model.NewFailure(model.KindInternal, model.StageIngest, "run executed before upload completed", fmt.Errorf("state %s", st)))
	}

	release, err := r.o.admit(ctx)
	if err != nil {
		return r.finish(ctx, model.NewFailure(model.KindCanceled, model.StageIngest, "canceled while waiting for a pipeline slot", err))
	}
	defer release()

	if r.mode == model.ModeFrame {
		return r.executeFrame(ctx)
	}
	return r.executeVideo(ctx)
}

func (r *Run) executeVideo(ctx context.Context) model.Outcome {
	st := r.stages
	if f := r.fire(ctx, model.EventTranscode); f != nil {
		return r.finish(ctx, f)
	}
	media := runStage(ctx, model.StageTranscode, func(ctx context.Context) model.StageResult[artifact.Artifact] {
		return st.Transcoder.Run(ctx, r.tracker, r.raw)
	})
	if !media.IsOk() {
		return r.finish(ctx, media.Failure)
	}

	if f := r.fire(ctx, model.EventInfer); f != nil {
		return r.finish(ctx, f)
	}
	det := runStage(ctx, model.StageInference, func(ctx context.Context) model.StageResult[model.Detection] {
		return st.Detector.Run(ctx, r.tracker, media.Value, r.id)
	})
	if !det.IsOk() {
		return r.finish(ctx, det.Failure)
	}
	r.detection = &det.Value
	if !det.Value.Positive() {
		return r.finish(ctx, nil)
	}
	if det.Value.Evidence == nil {
		return r.finish(ctx, model.NewFailure(model.KindInference, model.StageInference, "positive verdict without evidence", nil))
	}

	if f := r.fire(ctx, model.EventAlert); f != nil {
		return r.finish(ctx, f)
	}
	return r.alert(ctx, *det.Value.Evidence, det.Value.Verdict)
}

func (r *Run) executeFrame(ctx context.Context) model.Outcome {
	st := r.stages
	evidence := runStage(ctx, model.StageFrame, func(ctx context.Context) model.StageResult[artifact.Artifact] {
		return st.Frame.Run(ctx, r.tracker, r.raw)
	})
	if !evidence.IsOk() {
		return r.finish(ctx, evidence.Failure)
	}
	if f := r.fire(ctx, model.EventAlert); f != nil {
		return r.finish(ctx, f)
	}
	// A frame upload is the client's own fire report.
	return r.alert(ctx, evidence.Value, model.VerdictPositive)
}

// alert publishes the evidence and dispatches the alert. Delivery problems
// are recorded on the outcome but do not fail the run.
func (r *Run) alert(ctx context.Context, evidence artifact.Artifact, verdict model.Verdict) model.Outcome {
	st := r.stages
	logger := log.WithComponentFromContext(ctx, "worker")

	if st.Publisher != nil && st.Publisher.Enabled() {
		pub := runStage(ctx, model.StagePublish, func(ctx context.Context) model.StageResult[string] {
			p, err := st.Publisher.Publish(ctx, r.id, evidence.Path)
			if err != nil {
				return model.Failed[string](model.KindInternal, model.StagePublish, "result publication failed", err)
			}
			return model.Ok(p)
		})
		if pub.IsOk() {
			r.result = pub.Value
		} else {
			logger.Warn().Err(pub.Failure).Str(log.FieldEvent, "pipeline.publish_failed").Msg("evidence not published")
		}
	}

	d := runStage(ctx, model.StageAlert, func(ctx context.Context) model.StageResult[model.Delivery] {
		return st.Alerter.Dispatch(ctx, alert.Alert{
			RequestID:  r.id,
			Mode:       r.mode,
			Verdict:    verdict,
			Evidence:   evidence.Path,
			Source:     r.source,
			DetectedAt: r.o.now(),
		})
	})
	if d.Failure != nil && d.Failure.Kind.Fatal() {
		return r.finish(ctx, d.Failure)
	}
	delivery := d.Value
	if d.Failure != nil && delivery.Status == "" {
		delivery.Status = model.DeliveryFailed
		delivery.Error = d.Failure.Detail
	}
	r.delivery = &delivery
	return r.finish(ctx, nil)
}

func (r *Run) fire(ctx context.Context, ev model.Event) *model.Failure {
	if _, err := r.machine.Fire(ctx, ev); err != nil {
		return model.NewFailure(model.KindInternal, r.currentStage(), "state transition", err)
	}
	return nil
}

// currentStage maps the lifecycle state to the stage that runs in it.
func (r *Run) currentStage() model.StageName {
	switch r.machine.State() {
	case model.StateReceived:
		if r.mode == model.ModeFrame {
			return model.StageFrame
		}
		return model.StageTranscode
	case model.StateTranscoding:
		return model.StageTranscode
	case model.StateInferring:
		return model.StageInference
	case model.StateAlerting:
		return model.StageAlert
	default:
		return model.StageIngest
	}
}

func (r *Run) observe(from, to model.State, ev model.Event) {
	metrics.RecordTransition(string(from), string(to))
	logger := log.WithComponent("worker")
	logger.Debug().
		Str(log.FieldRunID, r.id).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str("fsm_event", string(ev)).
		Msg("run transition")
}

// onDone runs on every edge into DONE, before the state changes.
func (r *Run) onDone(context.Context, model.State, model.State, model.Event) error {
	r.tracker.ReleaseAll()
	return nil
}

func (r *Run) finished() (model.Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, r.done
}

// finish drives the machine into DONE (which releases every artifact) and
// then builds the outcome exactly once.
func (r *Run) finish(ctx context.Context, failure *model.Failure) model.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.outcome
	}

	fatal := failure != nil && failure.Kind.Fatal()
	ev := model.EventFinish
	if fatal || !r.machine.Can(model.EventFinish) {
		ev = model.EventFail
	}
	if _, err := r.machine.Fire(ctx, ev); err != nil {
		logger := log.WithComponentFromContext(ctx, "worker")
		logger.Error().Err(err).Msg("could not enter DONE")
	}
	// Idempotent: returns the report from the DONE transition.
	report := r.tracker.ReleaseAll()

	out := model.Outcome{
		RequestID:  r.id,
		Mode:       r.mode,
		Source:     r.source,
		Success:    !fatal,
		State:      r.machine.State(),
		ResultPath: r.result,
		Delivery:   r.delivery,
		Released:   report,
		Elapsed:    r.o.now().Sub(r.started),
	}
	if fatal {
		out.Failure = failure
		out.FailedStage = failure.Stage
		out.ResultPath = ""
	}
	if r.detection != nil {
		out.FireDetected = model.BoolPtr(r.detection.Positive())
		out.Signal = r.detection.Signal
	}

	r.done = true
	r.outcome = out
	r.inflightDone()
	r.o.inflight.Done()

	metrics.RecordRun(string(r.mode), outcomeLabel(out))
	r.logOutcome(ctx, out)
	return out
}

func (r *Run) logOutcome(ctx context.Context, out model.Outcome) {
	logger := log.WithComponentFromContext(ctx, "worker")
	ev := logger.Info()
	if !out.Success {
		ev = logger.Warn().Err(out.Failure.Err).Str("kind", string(out.Kind())).Str(log.FieldStage, string(out.FailedStage)).Str(log.FieldReason, out.Failure.Detail)
	}
	if out.FireDetected != nil {
		ev = ev.Bool("fire_detected", *out.FireDetected).Str("signal", string(out.Signal))
	}
	if out.Delivery != nil {
		ev = ev.Str("alert_status", string(out.Delivery.Status))
	}
	ev.Str(log.FieldEvent, "pipeline.done").
		Str(log.FieldMode, string(out.Mode)).
		Bool("success", out.Success).
		Int("released", out.Released.Released()).
		Int("release_failed", out.Released.Failed).
		Int64(log.FieldDuration, out.Elapsed.Milliseconds()).
		Msg("run finished")
}

func outcomeLabel(out model.Outcome) string {
	if out.Success {
		return "success"
	}
	return strings.ToLower(string(out.Kind()))
}
