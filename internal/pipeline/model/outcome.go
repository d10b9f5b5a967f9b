// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"time"

	"github.com/ManuGH/firewatch/internal/artifact"
)

// Outcome is the immutable terminal record of a run. It is built only after
// the run's artifacts have been released.
type Outcome struct {
	RequestID    string
	Mode         Mode
	Source       string
	Success      bool
	State        State
	FailedStage  StageName
	Failure      *Failure
	FireDetected *bool
	Signal       Signal
	ResultPath   string
	Delivery     *Delivery
	Released     artifact.ReleaseReport
	Elapsed      time.Duration
}

// Kind returns the failure kind, or "" on success.
func (o Outcome) Kind() FailureKind {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Kind
}

// BoolPtr is a small helper for optional booleans.
func BoolPtr(b bool) *bool { return &b }
