// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package exec holds the subprocess-backed pipeline stages (transcode and
// inference) and the failure classification they share.
package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/subproc"
)

// ClassifyRunError maps a Runner error onto the failure taxonomy. toolKind is
// the kind reported when the tool itself could not run (transcode or
// inference error).
func ClassifyRunError(ctx context.Context, stage model.StageName, toolKind model.FailureKind, tool string, err error) *model.Failure {
	switch {
	case errors.Is(err, subproc.ErrTimeout):
		return model.NewFailure(model.KindTimeout, stage, fmt.Sprintf("%s exceeded its time limit", tool), err)
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewFailure(model.KindTimeout, stage, "request deadline exceeded", err)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return model.NewFailure(model.KindCanceled, stage, "request canceled", err)
	case errors.Is(err, subproc.ErrStart):
		return model.NewFailure(toolKind, stage, fmt.Sprintf("%s could not be started", tool), err)
	default:
		return model.NewFailure(model.KindInternal, stage, fmt.Sprintf("%s: unexpected runner error", tool), err)
	}
}

// ExitFailure reports a non-zero exit with the tail of stderr.
func ExitFailure(stage model.StageName, kind model.FailureKind, tool string, res subproc.Result) *model.Failure {
	detail := fmt.Sprintf("%s exited with code %d", tool, res.ExitCode)
	if s := res.StderrSummary(); s != "" {
		detail += ": " + s
	}
	return model.NewFailure(kind, stage, detail, nil)
}
