// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package subproctest provides a scripted subproc.Runner for stage tests.
package subproctest

import (
	"context"
	"sync"

	"github.com/ManuGH/firewatch/internal/subproc"
)

// Fake records every Spec and answers with Fn. A nil Fn exits 0.
type Fake struct {
	Fn func(ctx context.Context, spec subproc.Spec) (subproc.Result, error)

	mu    sync.Mutex
	calls []subproc.Spec
}

// Run implements subproc.Runner.
func (f *Fake) Run(ctx context.Context, spec subproc.Spec) (subproc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()
	if f.Fn == nil {
		return subproc.Result{}, nil
	}
	return f.Fn(ctx, spec)
}

// Calls returns the recorded invocations.
func (f *Fake) Calls() []subproc.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subproc.Spec(nil), f.calls...)
}

// LastArg returns the final argument of spec, the output path for ffmpeg.
func LastArg(spec subproc.Spec) string {
	if len(spec.Args) == 0 {
		return ""
	}
	return spec.Args[len(spec.Args)-1]
}

// Seen builds a Result.Seen map.
func Seen(tokens ...string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}
