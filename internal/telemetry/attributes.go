// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by pipeline spans.
const (
	RequestIDKey   = "firewatch.request_id"
	ModeKey        = "firewatch.mode"
	SourceKey      = "firewatch.source"
	StageKey       = "firewatch.stage"
	OutcomeKey     = "firewatch.outcome"
	FailureKindKey = "firewatch.failure_kind"
	VerdictKey     = "firewatch.verdict"
	SignalKey      = "firewatch.signal"
	ToolKey        = "process.tool"
	ExitCodeKey    = "process.exit_code"
	TimedOutKey    = "process.timed_out"
	DeliveryKey    = "alert.status"
	TransportKey   = "alert.transport"
)

// RunAttributes describes a pipeline run.
func RunAttributes(requestID, mode, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RequestIDKey, requestID),
		attribute.String(ModeKey, mode),
		attribute.String(SourceKey, source),
	}
}

// ProcessAttributes describes a finished subprocess.
func ProcessAttributes(tool string, exitCode int, timedOut bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ToolKey, tool),
		attribute.Int(ExitCodeKey, exitCode),
		attribute.Bool(TimedOutKey, timedOut),
	}
}

// DeliveryAttributes describes an alert dispatch.
func DeliveryAttributes(status, transport string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DeliveryKey, status),
		attribute.String(TransportKey, transport),
	}
}

// FailSpan marks span as failed with a failure kind.
func FailSpan(span trace.Span, kind string, err error) {
	span.SetAttributes(attribute.String(FailureKindKey, kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Error, kind)
}
