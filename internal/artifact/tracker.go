// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package artifact

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/firewatch/internal/fsutil"
	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/metrics"
)

var (
	// ErrReleased is returned when registering after ReleaseAll. The file is
	// removed immediately so it cannot leak.
	ErrReleased = errors.New("tracker already released")
	// ErrForeignOwner is returned when an artifact names a different owner.
	ErrForeignOwner = errors.New("artifact belongs to another owner")
	// ErrUnknown is returned when releasing an artifact that was never registered.
	ErrUnknown = errors.New("artifact not registered")
)

// ReleaseReport summarises removals. Every registered artifact is counted in
// exactly one of Removed, AlreadyGone or Failed once ReleaseAll has run.
type ReleaseReport struct {
	Registered  int
	Removed     int
	AlreadyGone int
	Failed      int
}

// Released is the number of artifacts that have been processed for removal.
func (r ReleaseReport) Released() int {
	return r.Removed + r.AlreadyGone + r.Failed
}

type entry struct {
	Artifact
	done bool
}

// Tracker is the single authority allowed to delete a run's temporary files.
// It is safe for concurrent use.
type Tracker struct {
	owner  string
	root   string
	remove func(string) error
	logger zerolog.Logger

	mu       sync.Mutex
	entries  []*entry
	index    map[string]*entry
	released bool
	report   ReleaseReport
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRemover substitutes the file removal function.
func WithRemover(fn func(string) error) Option {
	return func(t *Tracker) { t.remove = fn }
}

// WithLogger sets the logger used for removal failures.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker for owner whose artifacts must live under root.
func NewTracker(owner, root string, opts ...Option) *Tracker {
	t := &Tracker{
		owner:  owner,
		root:   root,
		remove: os.Remove,
		logger: log.WithComponent("artifact").With().Str(log.FieldRunID, owner).Logger(),
		index:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Owner returns the run id this tracker belongs to.
func (t *Tracker) Owner() string { return t.owner }

// Root returns the directory artifacts are confined to.
func (t *Tracker) Root() string { return t.root }

// Track registers path as an artifact of the given stage.
func (t *Tracker) Track(path string, stage Stage) (Artifact, error) {
	return t.Register(Artifact{Path: path, Stage: stage, Owner: t.owner})
}

// Register takes ownership of a. The path is canonicalised and must resolve
// inside the tracker root. Registering the same path twice is a no-op that
// returns the original registration.
func (t *Tracker) Register(a Artifact) (Artifact, error) {
	if a.Owner == "" {
		a.Owner = t.owner
	}
	if a.Owner != t.owner {
		return Artifact{}, fmt.Errorf("%w: %s registered with %s", ErrForeignOwner, a.Owner, t.owner)
	}
	canonical, err := fsutil.Confine(t.root, a.Path)
	if err != nil {
		return Artifact{}, fmt.Errorf("register %s: %w", a.Stage, err)
	}
	a.Path = canonical

	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		t.removeOne(a)
		return Artifact{}, ErrReleased
	}
	if existing, ok := t.index[a.Path]; ok {
		t.mu.Unlock()
		return existing.Artifact, nil
	}
	e := &entry{Artifact: a}
	t.entries = append(t.entries, e)
	t.index[a.Path] = e
	t.report.Registered++
	t.mu.Unlock()

	metrics.RecordArtifactRegistered(string(a.Stage))
	return a, nil
}

// Release removes a single artifact ahead of ReleaseAll. Releasing an
// artifact twice is a no-op.
func (t *Tracker) Release(a Artifact) error {
	canonical, err := fsutil.Confine(t.root, a.Path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	e, ok := t.index[canonical]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknown, a)
	}
	if e.done {
		t.mu.Unlock()
		return nil
	}
	e.done = true
	t.mu.Unlock()

	result, rmErr := t.removeOne(e.Artifact)
	t.mu.Lock()
	t.count(result)
	t.mu.Unlock()
	return rmErr
}

// ReleaseAll removes every artifact not yet released, newest first. Removal
// failures are logged and counted, never returned. Calling it again returns
// the same report without touching the filesystem.
func (t *Tracker) ReleaseAll() ReleaseReport {
	t.mu.Lock()
	if t.released {
		r := t.report
		t.mu.Unlock()
		return r
	}
	t.released = true
	var pending []Artifact
	for i := len(t.entries) - 1; i >= 0; i-- {
		if e := t.entries[i]; !e.done {
			e.done = true
			pending = append(pending, e.Artifact)
		}
	}
	t.mu.Unlock()

	results := make([]string, 0, len(pending))
	for _, a := range pending {
		r, _ := t.removeOne(a)
		results = append(results, r)
	}

	t.mu.Lock()
	for _, r := range results {
		t.count(r)
	}
	report := t.report
	t.mu.Unlock()

	t.logger.Debug().
		Str(log.FieldEvent, "artifact.release_all").
		Int("registered", report.Registered).
		Int("removed", report.Removed).
		Int("already_gone", report.AlreadyGone).
		Int("failed", report.Failed).
		Msg("released run artifacts")
	return report
}

// Artifacts returns the artifacts that have not been released yet.
func (t *Tracker) Artifacts() []Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Artifact, 0, len(t.entries))
	for _, e := range t.entries {
		if !e.done {
			out = append(out, e.Artifact)
		}
	}
	return out
}

const (
	resultRemoved     = "removed"
	resultAlreadyGone = "already_gone"
	resultFailed      = "failed"
)

func (t *Tracker) count(result string) {
	switch result {
	case resultRemoved:
		t.report.Removed++
	case resultAlreadyGone:
		t.report.AlreadyGone++
	case resultFailed:
		t.report.Failed++
	}
}

func (t *Tracker) removeOne(a Artifact) (string, error) {
	err := t.remove(a.Path)
	switch {
	case err == nil:
		metrics.RecordArtifactReleased(resultRemoved)
		return resultRemoved, nil
	case errors.Is(err, os.ErrNotExist):
		metrics.RecordArtifactReleased(resultAlreadyGone)
		return resultAlreadyGone, nil
	default:
		metrics.RecordArtifactReleased(resultFailed)
		t.logger.Error().
			Err(err).
			Str(log.FieldEvent, "artifact.release_failed").
			Str(log.FieldArtifact, string(a.Stage)).
			Str(log.FieldPath, a.Path).
			Msg("failed to remove temporary artifact")
		return resultFailed, err
	}
}
