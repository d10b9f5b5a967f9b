// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// StageResult is either Ok(Value) or Failed(Failure).
type StageResult[T any] struct {
	Value   T
	Failure *Failure
}

// Ok wraps a successful stage payload.
func Ok[T any](v T) StageResult[T] {
	return StageResult[T]{Value: v}
}

// Failed wraps a stage failure.
func Failed[T any](kind FailureKind, stage StageName, detail string, err error) StageResult[T] {
	return StageResult[T]{Failure: NewFailure(kind, stage, detail, err)}
}

// FailedWith wraps an existing failure.
func FailedWith[T any](f *Failure) StageResult[T] {
	return StageResult[T]{Failure: f}
}

// IsOk reports success.
func (r StageResult[T]) IsOk() bool {
	return r.Failure == nil
}
