// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package inference

import (
	"errors"
	"slices"

	"github.com/ManuGH/firewatch/internal/pipeline/model"
)

var (
	// ErrDetectorFailed marks a non-zero exit that is not a declared negative.
	ErrDetectorFailed = errors.New("detector exited abnormally")
	// ErrContradictory marks positive and negative signals without evidence.
	ErrContradictory = errors.New("contradictory detector output")
)

// Observation is what the detector left behind once it exited.
type Observation struct {
	ExitCode      int
	EvidenceFound bool
	PositiveToken bool
	NegativeToken bool
}

// Decision is the parsed verdict. NeedsEvidence is set for token-only
// positives, which must still be backed by an evidence image.
type Decision struct {
	Verdict       model.Verdict
	Signal        model.Signal
	NeedsEvidence bool
}

// Decide applies the detector contract: an evidence file or a positive token
// means fire, neither means no fire. The evidence file wins when it
// disagrees with the tokens. A non-zero exit outside negativeExits and an
// unbacked pair of contradictory tokens are inference errors.
func Decide(obs Observation, negativeExits []int) (Decision, *model.Failure) {
	negativeExit := obs.ExitCode != 0 && slices.Contains(negativeExits, obs.ExitCode)
	if obs.ExitCode != 0 && !negativeExit {
		return Decision{}, model.NewFailure(model.KindInference, model.StageInference, "detector failed", ErrDetectorFailed)
	}

	switch {
	case obs.EvidenceFound && obs.PositiveToken:
		return Decision{Verdict: model.VerdictPositive, Signal: model.SignalBoth}, nil
	case obs.EvidenceFound:
		return Decision{Verdict: model.VerdictPositive, Signal: model.SignalEvidenceFile}, nil
	case obs.PositiveToken && (obs.NegativeToken || negativeExit):
		return Decision{}, model.NewFailure(model.KindInference, model.StageInference,
			"detector output is contradictory: positive and negative signals without evidence", ErrContradictory)
	case obs.PositiveToken:
		return Decision{Verdict: model.VerdictPositive, Signal: model.SignalStdoutToken, NeedsEvidence: true}, nil
	case negativeExit:
		return Decision{Verdict: model.VerdictNegative, Signal: model.SignalNegativeExit}, nil
	default:
		return Decision{Verdict: model.VerdictNegative, Signal: model.SignalNone}, nil
	}
}

func anySeen(seen map[string]bool, tokens []string) bool {
	for _, t := range tokens {
		if seen[t] {
			return true
		}
	}
	return false
}
