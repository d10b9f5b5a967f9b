// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/firewatch/internal/config"
	"github.com/ManuGH/firewatch/internal/log"
)

type blockingManager struct {
	startErr  error
	shutdowns atomic.Int32
}

func (m *blockingManager) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	<-ctx.Done()
	return nil
}

func (m *blockingManager) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	return nil
}

func (m *blockingManager) RegisterShutdownHook(string, ShutdownHook) {}

func newTestHolder(t *testing.T) (*config.Holder, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  dir: "+filepath.Join(dir, "upload")+"\npipeline:\n  max_concurrent: 2\n"), 0o600))
	loader := config.NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	return config.NewHolder(cfg, loader), path
}

func TestAppRequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestAppAppliesReloadedConfig(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	holder, path := newTestHolder(t)

	var mu sync.Mutex
	var applied []int
	apply := func(cfg config.AppConfig) error {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, cfg.Pipeline.MaxConcurrent)
		return nil
	}

	app := NewApp(log.WithComponent("test"), &blockingManager{}, holder, apply)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_concurrent: 6\n"), 0o600))
	// The listener is registered inside Run; reload until it has seen one.
	require.Eventually(t, func() bool {
		_ = holder.Reload(context.Background())
		mu.Lock()
		defer mu.Unlock()
		return len(applied) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 6, applied[0])
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAppApplyErrorIsNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	holder, _ := newTestHolder(t)
	var calls atomic.Int32
	apply := func(config.AppConfig) error {
		calls.Add(1)
		return errors.New("bad stages")
	}

	app := NewApp(log.WithComponent("test"), &blockingManager{}, holder, apply)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = holder.Reload(context.Background())
		return calls.Load() > 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAppStartFailureShutsDown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	holder, _ := newTestHolder(t)
	errListen := errors.New("address in use")
	mgr := &blockingManager{startErr: errListen}

	app := NewApp(log.WithComponent("test"), mgr, holder, func(config.AppConfig) error { return nil })
	err := app.Run(context.Background())
	require.ErrorIs(t, err, errListen)
	assert.Equal(t, int32(1), mgr.shutdowns.Load())
}
