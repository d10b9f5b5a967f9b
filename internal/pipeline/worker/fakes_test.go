// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/firewatch/internal/alert"
	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
)

var namer = artifact.NewNamer()

// writeArtifact registers and creates a file the way real stages do.
func writeArtifact(tracker *artifact.Tracker, stage artifact.Stage, ext string) (artifact.Artifact, error) {
	path := filepath.Join(tracker.Root(), namer.Name(stage, tracker.Owner(), ext))
	a, err := tracker.Track(path, stage)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return a, os.WriteFile(path, []byte(stage), 0o600)
}

type fakeTranscoder struct {
	block chan struct{}
	fail  *model.Failure
	panic bool
}

func (f *fakeTranscoder) Run(ctx context.Context, tracker *artifact.Tracker, _ artifact.Artifact) model.StageResult[artifact.Artifact] {
	out, err := writeArtifact(tracker, artifact.StageTranscoded, ".mp4")
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageTranscode, "write", err)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.Failed[artifact.Artifact](model.KindCanceled, model.StageTranscode, "canceled", ctx.Err())
		}
	}
	if f.panic {
		panic("transcoder exploded")
	}
	if f.fail != nil {
		// Partial output stays registered; the run must remove it.
		return model.FailedWith[artifact.Artifact](f.fail)
	}
	return model.Ok(out)
}

type fakeDetector struct {
	positive bool
	fail     *model.Failure
	panic    bool

	runs atomic.Int32
}

func (f *fakeDetector) Run(_ context.Context, tracker *artifact.Tracker, _ artifact.Artifact, _ string) model.StageResult[model.Detection] {
	f.runs.Add(1)
	if f.panic {
		panic("detector exploded")
	}
	annotated, err := writeArtifact(tracker, artifact.StageAnnotated, ".mp4")
	if err != nil {
		return model.Failed[model.Detection](model.KindInternal, model.StageInference, "write", err)
	}
	if f.fail != nil {
		return model.FailedWith[model.Detection](f.fail)
	}
	if !f.positive {
		return model.Ok(model.Detection{Verdict: model.VerdictNegative, Signal: model.SignalNone, Output: &annotated})
	}
	ev, err := writeArtifact(tracker, artifact.StageEvidence, ".jpg")
	if err != nil {
		return model.Failed[model.Detection](model.KindInternal, model.StageInference, "write", err)
	}
	return model.Ok(model.Detection{Verdict: model.VerdictPositive, Signal: model.SignalEvidenceFile, Evidence: &ev, Output: &annotated})
}

type fakeFrame struct {
	fail *model.Failure
}

func (f *fakeFrame) Run(_ context.Context, tracker *artifact.Tracker, _ artifact.Artifact) model.StageResult[artifact.Artifact] {
	if f.fail != nil {
		return model.FailedWith[artifact.Artifact](f.fail)
	}
	ev, err := writeArtifact(tracker, artifact.StageEvidence, ".jpg")
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageFrame, "write", err)
	}
	return model.Ok(ev)
}

// fakeAlerter records alerts and whether the evidence existed at dispatch.
type fakeAlerter struct {
	mu       sync.Mutex
	alerts   []alert.Alert
	existed  []bool
	result   func() model.StageResult[model.Delivery]
	panicked bool
}

func (f *fakeAlerter) Dispatch(_ context.Context, a alert.Alert) model.StageResult[model.Delivery] {
	_, err := os.Stat(a.Evidence)
	f.mu.Lock()
	f.alerts = append(f.alerts, a)
	f.existed = append(f.existed, err == nil)
	f.mu.Unlock()
	if f.panicked {
		panic("alerter exploded")
	}
	if f.result != nil {
		return f.result()
	}
	return model.Ok(model.Delivery{Status: model.DeliveryDelivered, Transport: "fake", Recipients: 1})
}

func (f *fakeAlerter) calls() []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alert.Alert(nil), f.alerts...)
}

type fakePublisher struct {
	dir string
	err error
}

func (p *fakePublisher) Enabled() bool { return true }

func (p *fakePublisher) Publish(_ context.Context, id, src string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	data, err := os.ReadFile(src) // #nosec G304 -- test
	if err != nil {
		return "", err
	}
	name := "fire_" + id + filepath.Ext(src)
	if err := os.WriteFile(filepath.Join(p.dir, name), data, 0o600); err != nil {
		return "", err
	}
	return "/results/" + name, nil
}

var errBoom = errors.New("boom")
