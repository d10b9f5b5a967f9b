// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"errors"
	"fmt"
)

// FailureKind is the closed error taxonomy of a run. Keep these stable:
// metrics and API clients depend on them.
type FailureKind string

const (
	KindInput     FailureKind = "INPUT_ERROR"
	KindTranscode FailureKind = "TRANSCODE_ERROR"
	KindInference FailureKind = "INFERENCE_ERROR"
	KindTimeout   FailureKind = "TIMEOUT"
	KindDelivery  FailureKind = "DELIVERY_ERROR"
	KindInternal  FailureKind = "INTERNAL_ERROR"
	KindCanceled  FailureKind = "CANCELED"
)

// Fatal reports whether the kind ends the run as failed. Delivery problems
// are reported but never flip a successful pipeline.
func (k FailureKind) Fatal() bool {
	return k != KindDelivery
}

// Failure is a classified stage failure. Detail is safe to show to clients;
// Err carries the underlying cause for logs.
type Failure struct {
	Kind   FailureKind
	Stage  StageName
	Detail string
	Err    error
}

// NewFailure builds a Failure.
func NewFailure(kind FailureKind, stage StageName, detail string, err error) *Failure {
	return &Failure{Kind: kind, Stage: stage, Detail: detail, Err: err}
}

func (f *Failure) Error() string {
	if f.Detail == "" && f.Err != nil {
		return fmt.Sprintf("%s in %s: %v", f.Kind, f.Stage, f.Err)
	}
	return fmt.Sprintf("%s in %s: %s", f.Kind, f.Stage, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
