// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

func set(cmd *exec.Cmd) {}

// Kill maps SIGKILL to Process.Kill. Windows has no reliable graceful
// signal, so SIGTERM is a no-op and Terminate falls through to SIGKILL.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

// Windows has no process groups here; only the leader is ever tracked.
func groupAlive(int) bool { return false }

func killGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !isGone(err) {
		return ErrKillFailed
	}
	return nil
}
