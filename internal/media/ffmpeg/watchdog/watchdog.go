// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package watchdog detects ffmpeg runs that stop making progress, based on
// the key=value stream ffmpeg writes with -progress.
package watchdog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/firewatch/internal/log"
)

var (
	// ErrNoProgress means ffmpeg produced no progress within the start timeout.
	ErrNoProgress = errors.New("no progress after start")
	// ErrStalled means progress stopped for longer than the stall timeout.
	ErrStalled = errors.New("progress stalled")
)

type State int

const (
	StateStarting State = iota
	StateRunning
	StateStalled
	StateTimedOut
	StateCompleted
)

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Watchdog tracks ffmpeg progress and reports start and stall timeouts.
type Watchdog struct {
	mu sync.Mutex

	startTimeout time.Duration
	stallTimeout time.Duration
	interval     time.Duration

	lastOutTimeUs int64
	lastTotalSize int64
	lastHeartbeat time.Time

	state    State
	finished chan struct{}
	once     sync.Once

	clock clock
}

// New creates a watchdog. A zero timeout disables that check.
func New(startTimeout, stallTimeout time.Duration) *Watchdog {
	return &Watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		interval:     time.Second,
		finished:     make(chan struct{}),
		clock:        realClock{},
	}
}

// Run checks progress until ctx ends, ffmpeg reports progress=end, or a
// timeout fires. It returns ErrNoProgress or ErrStalled on timeout and nil
// otherwise.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.lastHeartbeat.IsZero() {
		w.lastHeartbeat = w.clock.Now()
	}
	w.mu.Unlock()

	t := w.clock.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.finished:
			return nil
		case <-t.C():
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

// ParseLine consumes one line of -progress output.
func (w *Watchdog) ParseLine(line string) {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)

	w.mu.Lock()
	defer w.mu.Unlock()

	switch key {
	// out_time_ms is microseconds despite its name; out_time_us is the newer spelling.
	case "out_time_us", "out_time_ms":
		us, _ := strconv.ParseInt(val, 10, 64)
		if us > w.lastOutTimeUs {
			w.lastOutTimeUs = us
			w.recordHeartbeat()
		}
	case "total_size":
		size, _ := strconv.ParseInt(val, 10, 64)
		if size > w.lastTotalSize {
			w.lastTotalSize = size
			w.recordHeartbeat()
		}
	case "progress":
		if val == "end" {
			w.state = StateCompleted
			w.once.Do(func() { close(w.finished) })
		}
	}
}

func (w *Watchdog) recordHeartbeat() {
	w.lastHeartbeat = w.clock.Now()
	if w.state == StateStarting {
		w.state = StateRunning
		log.L().Debug().Str(log.FieldEvent, "watchdog.progress").Msg("ffmpeg progress detected")
	}
}

func (w *Watchdog) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.clock.Now().Sub(w.lastHeartbeat)
	switch w.state {
	case StateStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = StateTimedOut
			return ErrNoProgress
		}
	case StateRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = StateStalled
			return ErrStalled
		}
	}
	return nil
}

// State returns the current state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
