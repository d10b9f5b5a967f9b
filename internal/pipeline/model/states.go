// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the value types shared by the pipeline stages, the
// orchestrator and the HTTP layer.
package model

// Mode selects which state machine a run follows.
type Mode string

const (
	// ModeVideo transcodes, runs inference and alerts on a positive verdict.
	ModeVideo Mode = "video"
	// ModeFrame alerts unconditionally with the uploaded still frame.
	ModeFrame Mode = "frame"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeVideo || m == ModeFrame
}

// State is a pipeline run lifecycle state.
type State string

const (
	StateReceiving   State = "RECEIVING"
	StateReceived    State = "RECEIVED"
	StateTranscoding State = "TRANSCODING"
	StateInferring   State = "INFERRING"
	StateAlerting    State = "ALERTING"
	StateDone        State = "DONE"
)

// Event drives state transitions.
type Event string

const (
	EventIngested  Event = "ingested"
	EventTranscode Event = "transcode"
	EventInfer     Event = "infer"
	EventAlert     Event = "alert"
	EventFinish    Event = "finish"
	EventFail      Event = "fail"
)

// StageName identifies the step in which a failure happened.
type StageName string

const (
	StageIngest    StageName = "ingest"
	StageTranscode StageName = "transcode"
	StageInference StageName = "inference"
	StageAlert     StageName = "alert"
	StageFrame     StageName = "frame"
	StagePublish   StageName = "publish"
)
