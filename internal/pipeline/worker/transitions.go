// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"

	"github.com/ManuGH/firewatch/internal/pipeline/fsm"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
)

type (
	machine    = fsm.Machine[model.State, model.Event]
	transition = fsm.Transition[model.State, model.Event]
)

// newMachine builds the per-mode lifecycle. Every edge into DONE runs onDone
// before the state changes, so artifacts are gone by the time anyone can
// observe DONE.
func newMachine(mode model.Mode, onDone func(ctx context.Context, from, to model.State, ev model.Event) error) (*machine, error) {
	ts := []transition{
		{From: model.StateReceiving, Event: model.EventIngested, To: model.StateReceived},
		{From: model.StateAlerting, Event: model.EventFinish, To: model.StateDone, Action: onDone},
	}
	switch mode {
	case model.ModeVideo:
		ts = append(ts,
			transition{From: model.StateReceived, Event: model.EventTranscode, To: model.StateTranscoding},
			transition{From: model.StateTranscoding, Event: model.EventInfer, To: model.StateInferring},
			transition{From: model.StateInferring, Event: model.EventAlert, To: model.StateAlerting},
			transition{From: model.StateInferring, Event: model.EventFinish, To: model.StateDone, Action: onDone},
		)
	case model.ModeFrame:
		ts = append(ts,
			transition{From: model.StateReceived, Event: model.EventAlert, To: model.StateAlerting},
		)
	}
	for _, s := range []model.State{
		model.StateReceiving, model.StateReceived, model.StateTranscoding,
		model.StateInferring, model.StateAlerting,
	} {
		ts = append(ts, transition{From: s, Event: model.EventFail, To: model.StateDone, Action: onDone})
	}
	return fsm.New(model.StateReceiving, ts)
}
