// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldRunID     = "run_id"
	FieldSource    = "source"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldMode      = "mode"
	FieldStage     = "stage"
	FieldReason    = "reason"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldDuration  = "duration_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / artifact fields
	FieldPath     = "path"
	FieldArtifact = "artifact"

	// HTTP fields
	FieldMethod = "method"
	FieldStatus = "status"
	FieldBytes  = "bytes"
	FieldRemote = "remote"
)
