// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file path, if any.
func (l *Loader) Path() string { return l.configPath }

// Load applies defaults, the YAML file and the environment, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.Upload.Dir); err == nil {
		cfg.Upload.Dir = abs
	}
	if cfg.Results.Dir != "" {
		if abs, err := filepath.Abs(cfg.Results.Dir); err == nil {
			cfg.Results.Dir = abs
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes a single strict YAML document over cfg. Keys absent from
// the file keep their current (default) values.
func loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv overrides cfg with environment variables. The original deployment
// names (PORT, ALERT_EMAIL, ALERT_EMAIL_PASS, RECEIVER_EMAIL) are honoured;
// FIREWATCH_* names take precedence where both exist.
func mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString("FIREWATCH_LOG_LEVEL", ParseString("LOG_LEVEL", cfg.LogLevel))

	if port := ParseString("PORT", ""); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
	cfg.Server.ListenAddr = ParseString("FIREWATCH_LISTEN", cfg.Server.ListenAddr)
	cfg.Server.ReadTimeout = ParseDuration("FIREWATCH_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = ParseDuration("FIREWATCH_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = ParseDuration("FIREWATCH_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.MaxConnections = ParseInt("FIREWATCH_MAX_CONNECTIONS", cfg.Server.MaxConnections)
	cfg.Server.TLS.Enabled = ParseBool("FIREWATCH_TLS_ENABLED", cfg.Server.TLS.Enabled)
	cfg.Server.TLS.CertFile = ParseString("FIREWATCH_TLS_CERT", cfg.Server.TLS.CertFile)
	cfg.Server.TLS.KeyFile = ParseString("FIREWATCH_TLS_KEY", cfg.Server.TLS.KeyFile)

	cfg.Metrics.Enabled = ParseBool("FIREWATCH_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = ParseString("FIREWATCH_METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Upload.Dir = ParseString("FIREWATCH_UPLOAD_DIR", cfg.Upload.Dir)
	cfg.Upload.MaxVideoBytes = ParseInt64("FIREWATCH_MAX_VIDEO_BYTES", cfg.Upload.MaxVideoBytes)
	cfg.Upload.MaxFrameBytes = ParseInt64("FIREWATCH_MAX_FRAME_BYTES", cfg.Upload.MaxFrameBytes)
	cfg.Pipeline.MaxConcurrent = ParseInt("FIREWATCH_MAX_CONCURRENT", cfg.Pipeline.MaxConcurrent)

	cfg.Transcode.Bin = ParseString("FIREWATCH_FFMPEG_BIN", cfg.Transcode.Bin)
	cfg.Transcode.Timeout = ParseDuration("FIREWATCH_TRANSCODE_TIMEOUT", cfg.Transcode.Timeout)
	cfg.Transcode.StallTimeout = ParseDuration("FIREWATCH_TRANSCODE_STALL_TIMEOUT", cfg.Transcode.StallTimeout)

	cfg.Inference.Command = ParseString("FIREWATCH_INFERENCE_COMMAND", cfg.Inference.Command)
	if args := ParseString("FIREWATCH_INFERENCE_ARGS", ""); args != "" {
		cfg.Inference.Args = strings.Fields(args)
	}
	cfg.Inference.WorkDir = ParseString("FIREWATCH_INFERENCE_WORKDIR", cfg.Inference.WorkDir)
	cfg.Inference.EvidencePath = ParseString("FIREWATCH_EVIDENCE_PATH", cfg.Inference.EvidencePath)
	cfg.Inference.Timeout = ParseDuration("FIREWATCH_INFERENCE_TIMEOUT", cfg.Inference.Timeout)

	cfg.Alert.Transport = ParseString("FIREWATCH_ALERT_TRANSPORT", cfg.Alert.Transport)
	sender := ParseString("ALERT_EMAIL", "")
	cfg.Alert.From = ParseString("FIREWATCH_ALERT_FROM", firstNonEmpty(sender, cfg.Alert.From))
	cfg.Alert.Recipients = ParseList("FIREWATCH_ALERT_RECIPIENTS", ParseList("RECEIVER_EMAIL", cfg.Alert.Recipients))
	cfg.Alert.MinInterval = ParseDuration("FIREWATCH_ALERT_MIN_INTERVAL", cfg.Alert.MinInterval)
	cfg.Alert.Timeout = ParseDuration("FIREWATCH_ALERT_TIMEOUT", cfg.Alert.Timeout)

	cfg.SMTP.Host = ParseString("FIREWATCH_SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = ParseInt("FIREWATCH_SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = ParseString("FIREWATCH_SMTP_USERNAME", firstNonEmpty(sender, cfg.SMTP.Username))
	cfg.SMTP.Password = ParseString("FIREWATCH_SMTP_PASSWORD", ParseString("ALERT_EMAIL_PASS", cfg.SMTP.Password))
	cfg.SMTP.TLSPolicy = ParseString("FIREWATCH_SMTP_TLS_POLICY", cfg.SMTP.TLSPolicy)

	cfg.Results.Dir = ParseString("FIREWATCH_RESULTS_DIR", cfg.Results.Dir)
	cfg.CORS.AllowedOrigins = ParseList("FIREWATCH_CORS_ORIGINS", cfg.CORS.AllowedOrigins)
	cfg.RateLimit.Enabled = ParseBool("FIREWATCH_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.Requests = ParseInt("FIREWATCH_RATE_LIMIT_REQUESTS", cfg.RateLimit.Requests)

	cfg.Telemetry.Enabled = ParseBool("FIREWATCH_TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString("FIREWATCH_TRACING_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("FIREWATCH_TRACING_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
