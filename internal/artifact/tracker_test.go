// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o600))
	return p
}

func TestReleaseAllRemovesEveryArtifact(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker("run-1", dir)

	var paths []string
	for i, stage := range []Stage{StageRaw, StageTranscoded, StageEvidence} {
		p := touch(t, dir, fmt.Sprintf("f%d", i))
		_, err := tr.Track(p, stage)
		require.NoError(t, err)
		paths = append(paths, p)
	}

	report := tr.ReleaseAll()
	assert.Equal(t, ReleaseReport{Registered: 3, Removed: 3}, report)
	assert.Equal(t, report.Registered, report.Released())
	for _, p := range paths {
		assert.NoFileExists(t, p)
	}
	assert.Empty(t, tr.Artifacts())
}

func TestReleaseAllIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	tr := NewTracker("run-1", dir, WithRemover(func(p string) error {
		calls.Add(1)
		return os.Remove(p)
	}))
	_, err := tr.Track(touch(t, dir, "a"), StageRaw)
	require.NoError(t, err)

	first := tr.ReleaseAll()
	second := tr.ReleaseAll()
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMissingFileIsNotAFailure(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker("run-1", dir)

	p := touch(t, dir, "gone")
	_, err := tr.Track(p, StageTranscoded)
	require.NoError(t, err)
	require.NoError(t, os.Remove(p))

	// pending output that was never written
	_, err = tr.Track(filepath.Join(dir, "never-written.mp4"), StageTranscoded)
	require.NoError(t, err)

	report := tr.ReleaseAll()
	assert.Equal(t, 2, report.AlreadyGone)
	assert.Zero(t, report.Failed)
}

func TestRemovalFailureDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	stuck := touch(t, dir, "stuck")
	other := touch(t, dir, "other")

	tr := NewTracker("run-1", dir, WithRemover(func(p string) error {
		if filepath.Base(p) == "stuck" {
			return errors.New("device busy")
		}
		return os.Remove(p)
	}))
	_, err := tr.Track(stuck, StageRaw)
	require.NoError(t, err)
	_, err = tr.Track(other, StageEvidence)
	require.NoError(t, err)

	report := tr.ReleaseAll()
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 2, report.Released())
	assert.NoFileExists(t, other)
}

func TestEarlyReleaseIsNotRepeated(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	tr := NewTracker("run-1", dir, WithRemover(func(p string) error {
		calls.Add(1)
		return os.Remove(p)
	}))

	a, err := tr.Track(touch(t, dir, "partial.mp4"), StageTranscoded)
	require.NoError(t, err)
	require.NoError(t, tr.Release(a))
	require.NoError(t, tr.Release(a))

	report := tr.ReleaseAll()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, ReleaseReport{Registered: 1, Removed: 1}, report)
}

func TestReleaseUnknownArtifact(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker("run-1", dir)
	err := tr.Release(Artifact{Path: filepath.Join(dir, "x"), Stage: StageRaw})
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestRegisterAfterReleaseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker("run-1", dir)
	tr.ReleaseAll()

	late := touch(t, dir, "late")
	_, err := tr.Track(late, StageEvidence)
	assert.ErrorIs(t, err, ErrReleased)
	assert.NoFileExists(t, late)
}

func TestRegisterRejectsForeignOwnerAndOutsidePaths(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker("run-1", dir)

	_, err := tr.Register(Artifact{Path: touch(t, dir, "a"), Stage: StageRaw, Owner: "run-2"})
	assert.ErrorIs(t, err, ErrForeignOwner)

	outside := touch(t, t.TempDir(), "b")
	_, err = tr.Track(outside, StageRaw)
	assert.Error(t, err)

	tr.ReleaseAll()
	assert.FileExists(t, outside, "files outside the root are never touched")
}

func TestDuplicateRegistrationIsSingleEntry(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker("run-1", dir)
	p := touch(t, dir, "dup")

	first, err := tr.Track(p, StageRaw)
	require.NoError(t, err)
	second, err := tr.Track(p, StageEvidence)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, tr.Artifacts(), 1)
	assert.Equal(t, 1, tr.ReleaseAll().Registered)
}

func TestConcurrentRegistration(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker("run-1", dir)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := filepath.Join(dir, fmt.Sprintf("c%d", i))
			if err := os.WriteFile(p, nil, 0o600); err != nil {
				t.Error(err)
				return
			}
			if _, err := tr.Track(p, StageRaw); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	report := tr.ReleaseAll()
	assert.Equal(t, 50, report.Registered)
	assert.Equal(t, 50, report.Removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
