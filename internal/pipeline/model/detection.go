// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "github.com/ManuGH/firewatch/internal/artifact"

// Verdict is the binary inference outcome.
type Verdict string

const (
	VerdictPositive Verdict = "POSITIVE"
	VerdictNegative Verdict = "NEGATIVE"
)

// Signal records which detector output decided the verdict.
type Signal string

const (
	SignalNone         Signal = "none"
	SignalEvidenceFile Signal = "evidence_file"
	SignalStdoutToken  Signal = "stdout_token"
	SignalBoth         Signal = "both"
	SignalNegativeExit Signal = "negative_exit"
)

// Detection is the inference stage payload. Evidence is set exactly when
// the verdict is positive.
type Detection struct {
	Verdict  Verdict
	Signal   Signal
	Evidence *artifact.Artifact
	Output   *artifact.Artifact // annotated media, when the detector produced one
}

// Positive is a convenience accessor.
func (d Detection) Positive() bool {
	return d.Verdict == VerdictPositive
}
