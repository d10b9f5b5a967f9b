// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/subproc"
	"github.com/ManuGH/firewatch/internal/subproc/subproctest"
)

func newRun(t *testing.T) (*artifact.Tracker, artifact.Artifact) {
	t.Helper()
	dir := t.TempDir()
	tr := artifact.NewTracker("run-1234abcd", dir)
	raw := filepath.Join(dir, "raw_1.mov")
	require.NoError(t, os.WriteFile(raw, []byte("not really a video"), 0o600))
	a, err := tr.Track(raw, artifact.StageRaw)
	require.NoError(t, err)
	return tr, a
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, de := range des {
		names = append(names, de.Name())
	}
	return names
}

func writeOutput(content string) func(context.Context, subproc.Spec) (subproc.Result, error) {
	return func(_ context.Context, spec subproc.Spec) (subproc.Result, error) {
		if err := os.WriteFile(subproctest.LastArg(spec), []byte(content), 0o600); err != nil {
			return subproc.Result{}, err
		}
		return subproc.Result{}, nil
	}
}

func TestRunSuccessRegistersOutput(t *testing.T) {
	tr, raw := newRun(t)
	fake := &subproctest.Fake{Fn: writeOutput("mp4 bytes")}
	st := New(fake, Options{})

	res := st.Run(context.Background(), tr, raw)
	require.True(t, res.IsOk(), "failure: %v", res.Failure)
	assert.Equal(t, artifact.StageTranscoded, res.Value.Stage)
	assert.Equal(t, ".mp4", filepath.Ext(res.Value.Path))
	assert.FileExists(t, res.Value.Path)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffmpeg", calls[0].Path)
	assert.Contains(t, calls[0].Args, raw.Path)

	report := tr.ReleaseAll()
	assert.Equal(t, 2, report.Removed)
	assert.Empty(t, entries(t, tr.Root()))
}

func TestRunFailuresLeaveNoOutput(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, subproc.Spec) (subproc.Result, error)
		want model.FailureKind
	}{
		{
			name: "non-zero exit",
			fn: func(_ context.Context, spec subproc.Spec) (subproc.Result, error) {
				_ = os.WriteFile(subproctest.LastArg(spec), []byte("partial"), 0o600)
				return subproc.Result{ExitCode: 1, Stderr: []string{"moov atom not found"}}, nil
			},
			want: model.KindTranscode,
		},
		{
			name: "empty output",
			fn:   writeOutput(""),
			want: model.KindTranscode,
		},
		{
			name: "missing output",
			fn: func(context.Context, subproc.Spec) (subproc.Result, error) {
				return subproc.Result{}, nil
			},
			want: model.KindTranscode,
		},
		{
			name: "timeout",
			fn: func(_ context.Context, spec subproc.Spec) (subproc.Result, error) {
				_ = os.WriteFile(subproctest.LastArg(spec), []byte("partial"), 0o600)
				return subproc.Result{TimedOut: true, ExitCode: -1}, fmt.Errorf("%w: ffmpeg", subproc.ErrTimeout)
			},
			want: model.KindTimeout,
		},
		{
			name: "not installed",
			fn: func(context.Context, subproc.Spec) (subproc.Result, error) {
				return subproc.Result{}, fmt.Errorf("%w: ffmpeg: not found", subproc.ErrStart)
			},
			want: model.KindTranscode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, raw := newRun(t)
			st := New(&subproctest.Fake{Fn: tt.fn}, Options{})

			res := st.Run(context.Background(), tr, raw)
			require.False(t, res.IsOk())
			assert.Equal(t, tt.want, res.Failure.Kind)
			assert.Equal(t, model.StageTranscode, res.Failure.Stage)

			// only the raw upload is left for run cleanup
			assert.Equal(t, []string{filepath.Base(raw.Path)}, entries(t, tr.Root()))
			tr.ReleaseAll()
			assert.Empty(t, entries(t, tr.Root()))
		})
	}
}

func TestRunCanceled(t *testing.T) {
	tr, raw := newRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	st := New(&subproctest.Fake{Fn: func(ctx context.Context, _ subproc.Spec) (subproc.Result, error) {
		cancel()
		return subproc.Result{ExitCode: -1}, ctx.Err()
	}}, Options{})

	res := st.Run(ctx, tr, raw)
	require.False(t, res.IsOk())
	assert.Equal(t, model.KindCanceled, res.Failure.Kind)
}

func TestRunAfterReleaseIsInternal(t *testing.T) {
	tr, raw := newRun(t)
	tr.ReleaseAll()
	fake := &subproctest.Fake{Fn: writeOutput("x")}
	res := New(fake, Options{}).Run(context.Background(), tr, raw)
	require.False(t, res.IsOk())
	assert.Equal(t, model.KindInternal, res.Failure.Kind)
	assert.Empty(t, fake.Calls(), "ffmpeg must not start for a finished run")
}

func TestExtractFrame(t *testing.T) {
	tr, media := newRun(t)
	out := filepath.Join(tr.Root(), "evidence.jpg")

	st := New(&subproctest.Fake{Fn: writeOutput("jpeg")}, Options{})
	require.NoError(t, st.ExtractFrame(context.Background(), media.Path, out))
	assert.FileExists(t, out)

	st = New(&subproctest.Fake{Fn: writeOutput("")}, Options{})
	assert.ErrorIs(t, st.ExtractFrame(context.Background(), media.Path, out), ErrNoFrame)

	st = New(&subproctest.Fake{Fn: func(context.Context, subproc.Spec) (subproc.Result, error) {
		return subproc.Result{ExitCode: 1}, nil
	}}, Options{})
	assert.ErrorIs(t, st.ExtractFrame(context.Background(), media.Path, out), ErrNoFrame)
}

func TestRunWatchdogFeedsOnProgress(t *testing.T) {
	tr, raw := newRun(t)
	fake := &subproctest.Fake{Fn: func(ctx context.Context, spec subproc.Spec) (subproc.Result, error) {
		require.NotNil(t, spec.OnStdoutLine)
		spec.OnStdoutLine("total_size=48")
		spec.OnStdoutLine("progress=end")
		return writeOutput("mp4 bytes")(ctx, spec)
	}}
	st := New(fake, Options{StartTimeout: time.Minute, StallTimeout: time.Minute})

	res := st.Run(context.Background(), tr, raw)
	require.True(t, res.IsOk(), "failure: %v", res.Failure)
	assert.Equal(t, "pipe:1", argValue(fake.Calls()[0].Args, "-progress"))
	tr.ReleaseAll()
}

func TestRunStalledTranscodeTimesOut(t *testing.T) {
	tr, raw := newRun(t)
	fake := &subproctest.Fake{Fn: func(ctx context.Context, spec subproc.Spec) (subproc.Result, error) {
		_ = os.WriteFile(subproctest.LastArg(spec), []byte("partial"), 0o600)
		<-ctx.Done()
		return subproc.Result{ExitCode: -1}, ctx.Err()
	}}
	st := New(fake, Options{StartTimeout: 10 * time.Millisecond})

	res := st.Run(context.Background(), tr, raw)
	require.False(t, res.IsOk())
	assert.Equal(t, model.KindTimeout, res.Failure.Kind)
	assert.Contains(t, res.Failure.Detail, "stalled")
	assert.Equal(t, []string{filepath.Base(raw.Path)}, entries(t, tr.Root()))
	tr.ReleaseAll()
}
