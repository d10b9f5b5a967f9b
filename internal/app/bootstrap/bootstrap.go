// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bootstrap is the production composition root: it turns a loaded
// configuration into a runnable daemon.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/firewatch/internal/alert"
	"github.com/ManuGH/firewatch/internal/api"
	"github.com/ManuGH/firewatch/internal/api/middleware"
	"github.com/ManuGH/firewatch/internal/config"
	"github.com/ManuGH/firewatch/internal/daemon"
	"github.com/ManuGH/firewatch/internal/health"
	fwlog "github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/pipeline/worker"
	"github.com/ManuGH/firewatch/internal/results"
	"github.com/ManuGH/firewatch/internal/subproc"
	"github.com/ManuGH/firewatch/internal/telemetry"
	fwtls "github.com/ManuGH/firewatch/internal/tls"
)

// ServiceName names the process in logs and traces.
const ServiceName = "firewatch"

// cleanupGrace is how long canceled runs get to release their artifacts
// once the shutdown deadline has passed.
const cleanupGrace = 5 * time.Second

// Container is the production composition root output.
type Container struct {
	Config       config.AppConfig
	ConfigHolder *config.Holder
	Logger       zerolog.Logger
	Orchestrator *worker.Orchestrator
	Health       *health.Manager
	Results      *results.Store
	Server       *api.Server
	Telemetry    *telemetry.Provider
	Manager      daemon.Manager
	App          *daemon.App

	runner     subproc.Runner
	dispatcher atomic.Pointer[alert.Dispatcher]
	hooksOnce  sync.Once

	applyMu sync.Mutex
	alertOn alertSettings // settings the current dispatcher was built from
}

// alertSettings is the part of the config a Dispatcher is built from.
type alertSettings struct {
	Alert config.AlertConfig
	SMTP  config.SMTPConfig
}

func alertSettingsOf(cfg config.AppConfig) alertSettings {
	return alertSettings{Alert: cfg.Alert, SMTP: cfg.SMTP}
}

// LoadConfig resolves the config file, loads .env files and returns the
// validated configuration with its loader. An explicit path must exist;
// otherwise FIREWATCH_CONFIG and then ./config.yaml are tried.
func LoadConfig(version, explicitConfigPath string) (config.AppConfig, *config.Loader, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("load .env: %w", err)
	}
	path, err := resolveConfigPath(strings.TrimSpace(explicitConfigPath))
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("resolve config path: %w", err)
	}
	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		return cfg, loader, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, loader, nil
}

// WireServices builds the production dependency graph and returns a runnable container.
func WireServices(ctx context.Context, version, explicitConfigPath string) (*Container, error) {
	if ctx == nil {
		return nil, fmt.Errorf("wire services context is nil")
	}

	fwlog.Configure(fwlog.Config{
		Level:   "info",
		Service: ServiceName,
		Version: version,
	})

	cfg, loader, err := LoadConfig(version, explicitConfigPath)
	if err != nil {
		return nil, err
	}
	if err := fwlog.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger := fwlog.WithComponent("bootstrap")

	if path := loader.Path(); path != "" {
		logger.Info().
			Str(fwlog.FieldEvent, "config.loaded").
			Str("source", "file").
			Str(fwlog.FieldPath, path).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(fwlog.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}
	if configBytes, marshalErr := json.Marshal(redacted(cfg)); marshalErr == nil {
		hash := sha256.Sum256(configBytes)
		logger.Info().
			Str(fwlog.FieldEvent, "config.snapshot").
			Str("sha256", fmt.Sprintf("%x", hash)).
			Msg("configuration snapshot fingerprint")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks failed: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	c := &Container{
		Config:       cfg,
		ConfigHolder: config.NewHolder(cfg, loader),
		Logger:       logger,
		Results:      results.New(cfg.Results.Dir, cfg.Results.PublicPrefix),
		Telemetry:    tp,
		runner:       subproc.NewExec(),
	}

	stages, dispatcher, err := BuildStages(cfg, c.runner, c.Results)
	if err != nil {
		return nil, err
	}
	c.dispatcher.Store(dispatcher)
	c.alertOn = alertSettingsOf(cfg)

	c.Orchestrator, err = worker.New(worker.Config{
		UploadDir:     cfg.Upload.Dir,
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		MaxVideoBytes: cfg.Upload.MaxVideoBytes,
		MaxFrameBytes: cfg.Upload.MaxFrameBytes,
	}, stages)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	c.Health = health.NewManager(version)
	c.registerCheckers(cfg)

	c.Server = api.New(api.Config{
		MaxVideoBytes: cfg.Upload.MaxVideoBytes,
		MaxFrameBytes: cfg.Upload.MaxFrameBytes,
		Stack:         stackConfig(cfg),
	}, c.Orchestrator, c.Health, c.Results)

	deps := daemon.Deps{
		Logger:     logger,
		APIHandler: c.Server.Handler(),
		Drain: func() {
			c.Health.SetDraining(true)
			c.Orchestrator.Close()
		},
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = promhttp.Handler()
		deps.MetricsAddr = cfg.Metrics.ListenAddr
	}

	serverCfg, err := provisionTLS(cfg.Server, logger)
	if err != nil {
		return nil, err
	}
	c.Manager, err = daemon.NewManager(serverCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("create daemon manager: %w", err)
	}
	c.App = daemon.NewApp(logger, c.Manager, c.ConfigHolder, c.Apply)

	logger.Info().
		Str(fwlog.FieldEvent, "startup").
		Str("version", version).
		Str("addr", cfg.Server.ListenAddr).
		Str("upload_dir", cfg.Upload.Dir).
		Str("alert_transport", dispatcher.TransportName()).
		Bool("results", c.Results.Enabled()).
		Int("max_concurrent", cfg.Pipeline.MaxConcurrent).
		Msg("starting firewatch")

	return c, nil
}

// Apply rebuilds the stages from a reloaded configuration and swaps them into
// the orchestrator. Runs already executing keep their stages. The dispatcher,
// with its breaker and flood limiter state, is kept unless the alert or SMTP
// settings changed. Listener, upload directory, size limits and the results
// store need a restart.
func (c *Container) Apply(cfg config.AppConfig) error {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	settings := alertSettingsOf(cfg)
	dispatcher := c.dispatcher.Load()
	if dispatcher == nil || !reflect.DeepEqual(settings, c.alertOn) {
		next, err := BuildDispatcher(cfg)
		if err != nil {
			return err
		}
		dispatcher = next
	}
	c.Orchestrator.Apply(assembleStages(cfg, c.runner, c.Results, dispatcher))
	c.dispatcher.Store(dispatcher)
	c.alertOn = settings

	prev := c.Config
	if prev.Upload != cfg.Upload || prev.Pipeline != cfg.Pipeline || prev.Results != cfg.Results {
		c.Logger.Warn().
			Str(fwlog.FieldEvent, "config.restart_required").
			Msg("upload, pipeline and results settings take effect after restart")
	}
	return nil
}

// Run registers the shutdown sequence and blocks in the daemon app loop.
func (c *Container) Run(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("run context is nil")
	}
	if c.App == nil || c.Manager == nil || c.Server == nil {
		return fmt.Errorf("container is not fully initialized")
	}

	c.hooksOnce.Do(func() {
		// Hooks run newest first: pipeline drain, then telemetry flush.
		c.Manager.RegisterShutdownHook("telemetry", func(ctx context.Context) error {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupGrace)
			defer cancel()
			return c.Telemetry.Shutdown(flushCtx)
		})
		c.Manager.RegisterShutdownHook("pipeline", c.drainPipeline)
	})

	return c.App.Run(ctx)
}

// drainPipeline waits for in-flight runs. Past the deadline the runs are
// canceled and given cleanupGrace to release their artifacts.
func (c *Container) drainPipeline(ctx context.Context) error {
	c.Orchestrator.Close()
	err := c.Orchestrator.Wait(ctx)
	if err == nil {
		return nil
	}
	c.Logger.Warn().
		Str(fwlog.FieldEvent, "pipeline.cancel_inflight").
		Msg("shutdown deadline reached, canceling in-flight runs")
	c.Server.CancelRuns()

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupGrace)
	defer cancel()
	if waitErr := c.Orchestrator.Wait(graceCtx); waitErr != nil {
		return fmt.Errorf("runs did not finish after cancel: %w", errors.Join(err, waitErr))
	}
	return nil
}

func (c *Container) registerCheckers(cfg config.AppConfig) {
	c.Health.RegisterChecker(health.NewDirChecker("upload_dir", cfg.Upload.Dir))
	c.Health.RegisterChecker(health.NewDirChecker("results_dir", cfg.Results.Dir))
	c.Health.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.Transcode.Bin, health.StatusUnhealthy))
	c.Health.RegisterChecker(health.NewBinaryChecker("inference", cfg.Inference.Command, health.StatusDegraded))
	c.Health.RegisterChecker(health.NewBreakerChecker("alert_transport", func() string {
		return c.dispatcher.Load().BreakerState()
	}))
}

// provisionTLS fills in a self-signed pair when the listener asks for one.
func provisionTLS(server config.ServerConfig, logger zerolog.Logger) (config.ServerConfig, error) {
	t := server.TLS
	if !t.Enabled || !t.AutoGenerate {
		return server, nil
	}
	certFile, keyFile, err := fwtls.EnsureCertificates(fwtls.Config{
		CertPath: t.CertFile,
		KeyPath:  t.KeyFile,
		Hosts:    t.Hosts,
		Logger:   logger,
	})
	if err != nil {
		return server, fmt.Errorf("provision tls: %w", err)
	}
	server.TLS.CertFile, server.TLS.KeyFile = certFile, keyFile
	return server, nil
}

func stackConfig(cfg config.AppConfig) middleware.StackConfig {
	stack := middleware.StackConfig{
		EnableCORS:            len(cfg.CORS.AllowedOrigins) > 0,
		AllowedOrigins:        cfg.CORS.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         cfg.Metrics.Enabled,
		EnableLogging:         true,
		EnableRateLimit:       cfg.RateLimit.Enabled,
		RateLimit:             cfg.RateLimit.Requests,
		RateWindow:            cfg.RateLimit.Window,
	}
	if cfg.Telemetry.Enabled {
		stack.TracingService = ServiceName
	}
	return stack
}

// redacted strips secrets before the config is fingerprinted.
func redacted(cfg config.AppConfig) config.AppConfig {
	cfg.SMTP.Password = ""
	return cfg
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit == "" {
		explicit = strings.TrimSpace(config.ParseString("FIREWATCH_CONFIG", ""))
	}
	if explicit != "" {
		absPath, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("resolve absolute path for config %q: %w", explicit, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return "", fmt.Errorf("config file not found %q: %w", absPath, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("config path %q is a directory", absPath)
		}
		return absPath, nil
	}

	if info, err := os.Stat("config.yaml"); err == nil && !info.IsDir() {
		if absPath, err := filepath.Abs("config.yaml"); err == nil {
			return absPath, nil
		}
	}
	return "", nil
}
