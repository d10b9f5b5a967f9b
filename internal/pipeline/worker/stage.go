// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/metrics"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/telemetry"
)

// runStage wraps one stage call with a child span, duration metrics and panic
// recovery. A panic becomes Failed(INTERNAL_ERROR).
func runStage[T any](ctx context.Context, name model.StageName, fn func(context.Context) model.StageResult[T]) (res model.StageResult[T]) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline."+string(name))
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger := log.WithComponentFromContext(ctx, "worker")
			logger.Error().
				Str(log.FieldEvent, "pipeline.stage_panic").
				Str(log.FieldStage, string(name)).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("stage panicked")
			res = model.Failed[T](model.KindInternal, name, "internal error", fmt.Errorf("panic in %s: %v", name, p))
		}
		outcome, kind := "ok", ""
		if res.Failure != nil {
			outcome, kind = "failed", string(res.Failure.Kind)
			telemetry.FailSpan(span, kind, res.Failure)
		}
		metrics.ObserveStage(string(name), outcome, kind, time.Since(start))
		span.End()
	}()
	return fn(ctx)
}
