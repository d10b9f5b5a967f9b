// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/config"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/subproc"
	"github.com/ManuGH/firewatch/internal/subproc/subproctest"
)

func TestDefaultDetectorVerdicts(t *testing.T) {
	tests := []struct {
		name     string
		exit     int
		token    string
		wantV    model.Verdict
		wantKind model.FailureKind
	}{
		{name: "no fire exits 1", exit: 1, token: "화재 감지되지 않음", wantV: model.VerdictNegative},
		{name: "no fire ascii token", exit: 1, token: "NO_FIRE", wantV: model.VerdictNegative},
		{name: "crash", exit: 2, wantKind: model.KindInference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &subproctest.Fake{Fn: func(context.Context, subproc.Spec) (subproc.Result, error) {
				res := subproc.Result{ExitCode: tt.exit}
				if tt.token != "" {
					res.Seen = subproctest.Seen(tt.token)
				}
				return res, nil
			}}
			stages, _, err := BuildStages(config.Default(), fake, nil)
			require.NoError(t, err)

			dir := t.TempDir()
			tr := artifact.NewTracker("run-defaults1", dir)
			media := filepath.Join(dir, "transcoded_1.mp4")
			require.NoError(t, os.WriteFile(media, []byte("mp4"), 0o600))
			a, err := tr.Track(media, artifact.StageTranscoded)
			require.NoError(t, err)

			res := stages.Detector.Run(context.Background(), tr, a, "req-defaults")
			require.Len(t, fake.Calls(), 1)
			assert.Contains(t, fake.Calls()[0].Args, "aiModel/detectVideo.py")

			if tt.wantKind != "" {
				require.False(t, res.IsOk())
				assert.Equal(t, tt.wantKind, res.Failure.Kind)
			} else {
				require.True(t, res.IsOk(), "failure: %v", res.Failure)
				assert.Equal(t, tt.wantV, res.Value.Verdict)
				assert.Nil(t, res.Value.Evidence)
			}
			tr.ReleaseAll()
		})
	}
}
