// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup supervises external tools as process groups so that a
// timed-out tool and every child it forked can be reaped together.
package procgroup

import (
	"errors"
	"os/exec"
	"time"

	"github.com/ManuGH/firewatch/internal/metrics"
)

var (
	ErrKillFailed = errors.New("kill operation failed")
)

// Set configures the command to start in a new process group.
// Mandatory for Kill and Terminate to reach grandchildren.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Alive reports whether any member of process group pgid can still be
// signalled. Zombies count as alive.
func Alive(pgid int) bool {
	return pgid > 0 && groupAlive(pgid)
}

// KillGroup terminates the process group led by pid: SIGTERM, wait grace,
// SIGKILL, then wait up to timeout. It does not reap the leader; it is meant
// for members left behind once the leader has been waited for.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}

// Terminate stops the process group of cmd. It sends SIGTERM, waits for the
// process to exit via waitCh, and if it has not exited within grace sends
// SIGKILL. It always drains waitCh and returns the Wait error together with
// whether SIGKILL was required. Safe to call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) (forced bool, err error) {
	if cmd == nil || cmd.Process == nil {
		return false, nil
	}

	metrics.IncProcTerminate("SIGTERM", signalResult(Kill(cmd, sigTerm)))

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return false, err
	case <-timer.C:
	}

	metrics.IncProcTerminate("SIGKILL", signalResult(Kill(cmd, sigKill)))

	err = <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return true, err
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case isGone(err):
		return "esrch"
	default:
		return "error"
	}
}
