// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"os/exec"

	"github.com/ManuGH/firewatch/internal/fsutil"
)

// DirChecker reports whether a working directory is writable.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for a writable directory. An empty path is
// treated as optional.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	if err := fsutil.EnsureWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

// BinaryChecker reports whether an external tool resolves on PATH.
type BinaryChecker struct {
	name string
	bin  string
	// missing is the status reported when the binary is absent.
	missing Status
}

// NewBinaryChecker creates a checker for an executable.
func NewBinaryChecker(name, bin string, missing Status) *BinaryChecker {
	return &BinaryChecker{name: name, bin: bin, missing: missing}
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(_ context.Context) CheckResult {
	path, err := exec.LookPath(c.bin)
	if err != nil {
		return CheckResult{Status: c.missing, Error: err.Error(), Message: c.bin}
	}
	return CheckResult{Status: StatusHealthy, Message: path}
}

// BreakerChecker maps a circuit breaker state onto health. An open breaker is
// degraded, never unhealthy: alert delivery failures are non-fatal.
type BreakerChecker struct {
	name  string
	state func() string
}

// NewBreakerChecker wraps a state accessor.
func NewBreakerChecker(name string, state func() string) *BreakerChecker {
	return &BreakerChecker{name: name, state: state}
}

func (c *BreakerChecker) Name() string { return c.name }

func (c *BreakerChecker) Check(_ context.Context) CheckResult {
	switch s := c.state(); s {
	case "closed":
		return CheckResult{Status: StatusHealthy, Message: s}
	default:
		return CheckResult{Status: StatusDegraded, Message: "circuit " + s}
	}
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	ID string
	Fn func(context.Context) CheckResult
}

func (c CheckerFunc) Name() string { return c.ID }

func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }
