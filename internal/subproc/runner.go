// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package subproc runs external tools with a bounded lifetime and captures a
// structured result. Tools run in their own process group so a timeout reaps
// every descendant.
package subproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/metrics"
	"github.com/ManuGH/firewatch/internal/procgroup"
)

const (
	defaultKillGrace = 5 * time.Second
	defaultTailLines = 64
	summaryLines     = 8
	summaryBytes     = 1024
)

var (
	// ErrTimeout reports that the tool exceeded Spec.Timeout and was killed.
	ErrTimeout = errors.New("subprocess timed out")
	// ErrStart reports that the tool could not be launched at all.
	ErrStart = errors.New("subprocess failed to start")
)

// Spec describes one tool invocation.
type Spec struct {
	Tool      string // label for logs and metrics, e.g. "ffmpeg"
	Path      string
	Args      []string
	Env       []string // appended to the parent environment
	Dir       string
	Timeout   time.Duration // zero means bounded only by ctx
	KillGrace time.Duration // SIGTERM to SIGKILL delay
	TailLines int           // lines of stdout/stderr retained
	Watch     []string      // stdout tokens to detect anywhere in the stream

	// OnStdoutLine, when set, sees every stdout line as it arrives.
	OnStdoutLine func(line string)
}

// Result is the structured outcome of a finished invocation.
type Result struct {
	ExitCode  int
	Stdout    []string
	Stderr    []string
	Seen      map[string]bool
	StartedAt time.Time
	Elapsed   time.Duration
	TimedOut  bool
	Killed    bool // SIGKILL was needed

	// StdoutLines counts every stdout line, including those dropped from Stdout.
	StdoutLines int
	// Orphans is set when descendants outlived the tool and had to be killed.
	Orphans bool
}

// Success reports a clean zero exit.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// StderrSummary returns the last few stderr lines, bounded in size, for
// inclusion in failure details.
func (r Result) StderrSummary() string {
	lines := r.Stderr
	if len(lines) > summaryLines {
		lines = lines[len(lines)-summaryLines:]
	}
	s := strings.Join(lines, "\n")
	if len(s) > summaryBytes {
		s = "..." + s[len(s)-summaryBytes:]
	}
	return s
}

// Runner executes tools. Stages depend on this interface so tests can
// substitute scripted fakes.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Exec is the os/exec backed Runner.
type Exec struct{}

// NewExec returns the default Runner.
func NewExec() *Exec { return &Exec{} }

// Run starts the tool and waits for it. A non-zero exit is not an error;
// inspect Result.ExitCode. Errors are ErrStart, ErrTimeout, or the context
// error when the parent context ends first.
func (e *Exec) Run(ctx context.Context, spec Spec) (Result, error) {
	tool := spec.Tool
	if tool == "" {
		tool = spec.Path
	}
	logger := log.WithContext(ctx, log.WithComponent("subproc")).With().Str("tool", tool).Logger()

	if spec.Path == "" {
		return Result{}, fmt.Errorf("%w: empty command", ErrStart)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	grace := spec.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	tail := spec.TailLines
	if tail <= 0 {
		tail = defaultTailLines
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	// #nosec G204 -- command and arguments come from operator configuration
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	procgroup.Set(cmd)

	stdout := NewLineRing(tail, spec.Watch...)
	if spec.OnStdoutLine != nil {
		stdout.OnLine(spec.OnStdoutLine)
	}
	stderr := NewLineRing(tail)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Descendants that escape the group must not hold Wait open on the pipes.
	cmd.WaitDelay = grace

	res := Result{StartedAt: time.Now()}
	if err := cmd.Start(); err != nil {
		metrics.ObserveSubprocess(tool, "start_failed", 0)
		logger.Error().Err(err).Str(log.FieldEvent, "subproc.start_failed").Str(log.FieldPath, spec.Path).Msg("tool failed to start")
		return res, fmt.Errorf("%w: %s: %v", ErrStart, spec.Path, err)
	}
	logger.Debug().Int(log.FieldPID, cmd.Process.Pid).Strs("args", spec.Args).Msg("tool started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	interrupted := false
	select {
	case waitErr = <-waitCh:
	case <-runCtx.Done():
		interrupted = true
		res.Killed, waitErr = procgroup.Terminate(cmd, waitCh, grace)
	}

	res.Elapsed = time.Since(res.StartedAt)
	stdout.Flush()
	stderr.Flush()
	res.Stdout = stdout.Lines()
	res.Stderr = stderr.Lines()
	res.Seen = stdout.Seen()
	res.StdoutLines = stdout.Total()
	res.ExitCode = exitCode(cmd, waitErr)

	// The leader is reaped; anything left in its group is a stray descendant.
	if pid := cmd.Process.Pid; procgroup.Alive(pid) {
		res.Orphans = true
		if err := procgroup.KillGroup(pid, grace, grace); err != nil {
			logger.Warn().Err(err).Int(log.FieldPID, pid).Msg("descendants survived the tool's process group kill")
		} else {
			logger.Debug().Int(log.FieldPID, pid).Msg("killed descendants left behind by the tool")
		}
	}

	if interrupted {
		if err := ctx.Err(); err != nil {
			metrics.ObserveSubprocess(tool, "canceled", res.Elapsed)
			logger.Info().Str(log.FieldEvent, "subproc.canceled").Bool("killed", res.Killed).Msg("tool stopped by cancellation")
			return res, err
		}
		res.TimedOut = true
		metrics.ObserveSubprocess(tool, "timeout", res.Elapsed)
		logger.Warn().
			Str(log.FieldEvent, "subproc.timeout").
			Dur("timeout", spec.Timeout).
			Bool("killed", res.Killed).
			Strs("stderr", stderr.LastN(summaryLines)).
			Msg("tool exceeded its time limit")
		return res, fmt.Errorf("%w: %s after %s", ErrTimeout, tool, spec.Timeout)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		metrics.ObserveSubprocess(tool, "wait_failed", res.Elapsed)
		return res, fmt.Errorf("wait %s: %w", tool, waitErr)
	}

	outcome := "ok"
	if res.ExitCode != 0 {
		outcome = "exit_nonzero"
	}
	metrics.ObserveSubprocess(tool, outcome, res.Elapsed)
	logger.Debug().
		Str(log.FieldEvent, "subproc.exited").
		Int(log.FieldExitCode, res.ExitCode).
		Int("stdout_lines", res.StdoutLines).
		Strs("stderr", stderr.LastN(summaryLines)).
		Int64(log.FieldDuration, res.Elapsed.Milliseconds()).
		Msg("tool exited")
	return res, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
