// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package results publishes evidence images outside the run's temporary
// artifacts so clients can fetch them after the run has cleaned up.
package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/firewatch/internal/fsutil"
	"github.com/ManuGH/firewatch/internal/log"
)

// ErrDisabled is returned by Publish when no results directory is configured.
var ErrDisabled = errors.New("result publication disabled")

// ErrNotFound is returned by Resolve for names that are not published results.
var ErrNotFound = errors.New("result not found")

var (
	safeID     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	resultName = regexp.MustCompile(`^fire_[A-Za-z0-9_-]{1,64}\.[a-z0-9]{1,5}$`)
)

// Store writes published results into one directory.
type Store struct {
	dir    string
	prefix string
}

// New creates a store. An empty dir yields a disabled store.
func New(dir, publicPrefix string) *Store {
	if publicPrefix == "" {
		publicPrefix = "/results/"
	}
	if !strings.HasSuffix(publicPrefix, "/") {
		publicPrefix += "/"
	}
	return &Store{dir: dir, prefix: publicPrefix}
}

// Enabled reports whether Publish will write anything.
func (s *Store) Enabled() bool { return s != nil && s.dir != "" }

// Dir returns the results directory.
func (s *Store) Dir() string { return s.dir }

// Prefix returns the public URL prefix, always ending in a slash.
func (s *Store) Prefix() string { return s.prefix }

// Resolve maps a public result name to its file. Only names Publish could
// have produced are accepted, and the file must still be a regular file
// inside the results directory.
func (s *Store) Resolve(name string) (string, error) {
	if !s.Enabled() || !resultName.MatchString(name) {
		return "", ErrNotFound
	}
	path, err := fsutil.Confine(s.dir, name)
	if err != nil {
		return "", ErrNotFound
	}
	if _, err := fsutil.NonEmptyRegularFile(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// Publish copies src to the results directory under a name derived from
// requestID and returns its public path. The copy is atomic: readers never
// observe a partially written image.
func (s *Store) Publish(ctx context.Context, requestID, src string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if !safeID.MatchString(requestID) {
		return "", fmt.Errorf("invalid request id %q", requestID)
	}
	logger := log.FromContext(ctx)

	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		ext = ".jpg"
	}
	name := "fire_" + requestID + ext
	dst := filepath.Join(s.dir, name)

	in, err := os.Open(src) // #nosec G304 -- src is a tracked evidence artifact
	if err != nil {
		return "", fmt.Errorf("open evidence: %w", err)
	}
	defer func() { _ = in.Close() }()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create pending result: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending result")
		}
	}()

	if _, err := io.Copy(pending, in); err != nil {
		return "", fmt.Errorf("copy evidence: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace result: %w", err)
	}
	return s.prefix + name, nil
}
