// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/firewatch/internal/alert"
	"github.com/ManuGH/firewatch/internal/api/middleware"
	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/health"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/pipeline/worker"
	"github.com/ManuGH/firewatch/internal/results"
)

var testNamer = artifact.NewNamer()

func stageFile(tracker *artifact.Tracker, stage artifact.Stage, ext string) (artifact.Artifact, error) {
	path := filepath.Join(tracker.Root(), testNamer.Name(stage, tracker.Owner(), ext))
	a, err := tracker.Track(path, stage)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return a, os.WriteFile(path, []byte("data:"+string(stage)), 0o600)
}

type stubTranscoder struct{ fail *model.Failure }

func (s stubTranscoder) Run(_ context.Context, tracker *artifact.Tracker, _ artifact.Artifact) model.StageResult[artifact.Artifact] {
	if s.fail != nil {
		return model.FailedWith[artifact.Artifact](s.fail)
	}
	a, err := stageFile(tracker, artifact.StageTranscoded, ".mp4")
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageTranscode, "write", err)
	}
	return model.Ok(a)
}

type stubDetector struct {
	positive bool
	fail     *model.Failure
}

func (s stubDetector) Run(_ context.Context, tracker *artifact.Tracker, _ artifact.Artifact, _ string) model.StageResult[model.Detection] {
	if s.fail != nil {
		return model.FailedWith[model.Detection](s.fail)
	}
	if !s.positive {
		return model.Ok(model.Detection{Verdict: model.VerdictNegative, Signal: model.SignalNone})
	}
	ev, err := stageFile(tracker, artifact.StageEvidence, ".jpg")
	if err != nil {
		return model.Failed[model.Detection](model.KindInternal, model.StageInference, "write", err)
	}
	return model.Ok(model.Detection{Verdict: model.VerdictPositive, Signal: model.SignalStdoutToken, Evidence: &ev})
}

type stubFrame struct{}

func (stubFrame) Run(_ context.Context, tracker *artifact.Tracker, _ artifact.Artifact) model.StageResult[artifact.Artifact] {
	ev, err := stageFile(tracker, artifact.StageEvidence, ".jpg")
	if err != nil {
		return model.Failed[artifact.Artifact](model.KindInternal, model.StageFrame, "write", err)
	}
	return model.Ok(ev)
}

type stubAlerter struct{ fail bool }

func (s stubAlerter) Dispatch(_ context.Context, _ alert.Alert) model.StageResult[model.Delivery] {
	if s.fail {
		d := model.Delivery{Status: model.DeliveryFailed, Transport: "log", Error: "alert delivery timed out"}
		return model.StageResult[model.Delivery]{Value: d, Failure: model.NewFailure(model.KindDelivery, model.StageAlert, d.Error, context.DeadlineExceeded)}
	}
	return model.Ok(model.Delivery{Status: model.DeliveryDelivered, Transport: "log", Recipients: 1})
}

type testEnv struct {
	srv       *Server
	orch      *worker.Orchestrator
	handler   http.Handler
	uploadDir string
	health    *health.Manager
}

type envOption func(*worker.Config, *worker.Stages, *Config)

func withStages(fn func(*worker.Stages)) envOption {
	return func(_ *worker.Config, s *worker.Stages, _ *Config) { fn(s) }
}

func withLimits(video, frame int64) envOption {
	return func(wc *worker.Config, _ *worker.Stages, c *Config) {
		wc.MaxVideoBytes, wc.MaxFrameBytes = video, frame
		c.MaxVideoBytes, c.MaxFrameBytes = video, frame
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	uploadDir := t.TempDir()
	wcfg := worker.Config{UploadDir: uploadDir, MaxConcurrent: 2}
	stages := worker.Stages{
		Transcoder: stubTranscoder{},
		Detector:   stubDetector{positive: true},
		Frame:      stubFrame{},
		Alerter:    stubAlerter{},
	}
	cfg := Config{Stack: middleware.StackConfig{EnableSecurityHeaders: true}}
	for _, o := range opts {
		o(&wcfg, &stages, &cfg)
	}
	store := results.New(t.TempDir(), "/results/")
	stages.Publisher = store

	orch, err := worker.New(wcfg, stages)
	require.NoError(t, err)
	hm := health.NewManager("test")
	srv := New(cfg, orch, hm, store)
	t.Cleanup(srv.CancelRuns)
	return &testEnv{srv: srv, orch: orch, handler: srv.Handler(), uploadDir: uploadDir, health: hm}
}

type part struct {
	field, filename string
	content         []byte
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, string(p.content)))
			continue
		}
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write(p.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "run left files behind")
}
