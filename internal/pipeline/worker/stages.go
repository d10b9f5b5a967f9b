// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"

	"github.com/ManuGH/firewatch/internal/alert"
	"github.com/ManuGH/firewatch/internal/artifact"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
)

// Transcoder normalises raw video into canonical media.
type Transcoder interface {
	Run(ctx context.Context, tracker *artifact.Tracker, raw artifact.Artifact) model.StageResult[artifact.Artifact]
}

// Detector runs inference on canonical media.
type Detector interface {
	Run(ctx context.Context, tracker *artifact.Tracker, media artifact.Artifact, requestID string) model.StageResult[model.Detection]
}

// FrameNormalizer validates a still frame and produces evidence from it.
type FrameNormalizer interface {
	Run(ctx context.Context, tracker *artifact.Tracker, raw artifact.Artifact) model.StageResult[artifact.Artifact]
}

// Alerter dispatches a positive detection.
type Alerter interface {
	Dispatch(ctx context.Context, a alert.Alert) model.StageResult[model.Delivery]
}

// Publisher copies evidence somewhere that outlives the run.
type Publisher interface {
	Enabled() bool
	Publish(ctx context.Context, requestID, src string) (string, error)
}

// Stages is the swappable set of collaborators. Frame is only required for
// frame mode; Publisher is optional.
type Stages struct {
	Transcoder Transcoder
	Detector   Detector
	Frame      FrameNormalizer
	Alerter    Alerter
	Publisher  Publisher
}

func (s *Stages) supports(mode model.Mode) bool {
	if s == nil || s.Alerter == nil {
		return false
	}
	switch mode {
	case model.ModeVideo:
		return s.Transcoder != nil && s.Detector != nil
	case model.ModeFrame:
		return s.Frame != nil
	}
	return false
}
