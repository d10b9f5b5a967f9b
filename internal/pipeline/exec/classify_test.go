// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package exec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/subproc"
)

func TestClassifyRunError(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want model.FailureKind
	}{
		{"timeout", context.Background(), fmt.Errorf("%w: ffmpeg", subproc.ErrTimeout), model.KindTimeout},
		{"deadline", context.Background(), context.DeadlineExceeded, model.KindTimeout},
		{"canceled", canceled, context.Canceled, model.KindCanceled},
		{"start", context.Background(), fmt.Errorf("%w: nope", subproc.ErrStart), model.KindTranscode},
		{"other", context.Background(), errors.New("wait: broken pipe"), model.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ClassifyRunError(tt.ctx, model.StageTranscode, model.KindTranscode, "ffmpeg", tt.err)
			assert.Equal(t, tt.want, f.Kind)
			assert.Equal(t, model.StageTranscode, f.Stage)
			assert.ErrorIs(t, f, tt.err)
		})
	}
}

func TestExitFailureIncludesStderr(t *testing.T) {
	f := ExitFailure(model.StageInference, model.KindInference, "detector", subproc.Result{ExitCode: 2, Stderr: []string{"Traceback", "ValueError: bad"}})
	assert.Equal(t, model.KindInference, f.Kind)
	assert.Contains(t, f.Detail, "code 2")
	assert.Contains(t, f.Detail, "ValueError: bad")
}
