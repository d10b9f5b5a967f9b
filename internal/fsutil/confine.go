// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fsutil holds filesystem guards shared by the upload, artifact and
// result paths.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideRoot is returned when a path resolves outside its root.
	ErrOutsideRoot = errors.New("path escapes root")
	// ErrEmptyFile is returned when a required output exists but has no content.
	ErrEmptyFile = errors.New("file is empty")
)

// Confine resolves target against root and guarantees the result is
// physically underneath root, following symlinks. Relative targets are joined
// to root; absolute targets are checked as-is. Targets that do not exist yet
// are checked through their parent directory.
func Confine(root, target string) (string, error) {
	if strings.Contains(target, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrOutsideRoot, target)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}

	full := filepath.Clean(target)
	if !filepath.IsAbs(full) {
		if full == ".." || strings.HasPrefix(full, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: traversal in %q", ErrOutsideRoot, target)
		}
		full = filepath.Join(realRoot, full)
	}

	resolved, err := resolve(full)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, resolved)
	}
	return resolved, nil
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		return abs, nil
	}
	return resolved, nil
}

// resolve follows symlinks for existing paths and for the parent of paths
// that do not exist yet. Resolution failures on existing paths fail closed.
func resolve(full string) (string, error) {
	if _, err := os.Lstat(full); err == nil {
		resolved, err := filepath.EvalSymlinks(full)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		return resolved, nil
	}

	dir := filepath.Dir(full)
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			return "", fmt.Errorf("failed to resolve parent path: %w", err)
		}
		return full, nil
	}
	return filepath.Join(realDir, filepath.Base(full)), nil
}

// NonEmptyRegularFile returns the size of path, or an error when it is
// missing, not a regular file, or empty.
func NonEmptyRegularFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return info.Size(), nil
}

// EnsureWritableDir creates dir if needed and verifies a file can be created in it.
func EnsureWritableDir(dir string) error {
	// #nosec G301 -- upload dirs are shared with the detector process
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".writecheck-*")
	if err != nil {
		return fmt.Errorf("dir %s not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
