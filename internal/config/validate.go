// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

const minShutdownTimeout = 3 * time.Second

// Validate checks cross-field invariants and reports every problem at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		add("log_level: %v", err)
	}

	if cfg.Server.ListenAddr == "" {
		add("server.listen is required")
	}
	if cfg.Server.ShutdownTimeout < minShutdownTimeout {
		add("server.shutdown_timeout must be at least %s", minShutdownTimeout)
	}
	if cfg.Server.MaxConnections < 0 {
		add("server.max_connections must not be negative")
	}
	if t := cfg.Server.TLS; t.Enabled && !t.AutoGenerate && (t.CertFile == "" || t.KeyFile == "") {
		add("server.tls.cert_file and server.tls.key_file are required unless auto_generate is set")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		add("metrics.listen is required when metrics are enabled")
	}

	if cfg.Upload.Dir == "" {
		add("upload.dir is required")
	}
	if cfg.Upload.MaxVideoBytes <= 0 || cfg.Upload.MaxFrameBytes <= 0 {
		add("upload size limits must be positive")
	}
	if cfg.Pipeline.MaxConcurrent < 0 {
		add("pipeline.max_concurrent must not be negative (0 disables the limit)")
	}

	if cfg.Transcode.Bin == "" {
		add("transcode.bin is required")
	}
	if cfg.Transcode.Timeout <= 0 {
		add("transcode.timeout must be positive")
	}
	if cfg.Transcode.StartTimeout < 0 || cfg.Transcode.StallTimeout < 0 {
		add("transcode.start_timeout and transcode.stall_timeout must not be negative")
	}
	if !strings.HasPrefix(cfg.Transcode.Container, ".") {
		add("transcode.container must be a file extension like .mp4")
	}

	if cfg.Inference.Command == "" {
		add("inference.command is required")
	}
	if cfg.Inference.Timeout <= 0 {
		add("inference.timeout must be positive")
	}
	if !containsPlaceholder(cfg.Inference.Args, "{input}") {
		add("inference.args must reference {input}")
	}
	if cfg.Inference.EvidencePath == "" {
		add("inference.evidence_path is required")
	}
	if len(cfg.Inference.PositiveTokens) == 0 {
		add("inference.positive_tokens must not be empty")
	}
	for _, code := range cfg.Inference.NegativeExitCodes {
		if code == 0 {
			add("inference.negative_exit_codes must not contain 0")
		}
	}

	if cfg.Frame.JPEGQuality < 1 || cfg.Frame.JPEGQuality > 100 {
		add("frame.jpeg_quality must be within 1..100")
	}
	if cfg.Frame.MaxDimension < 0 {
		add("frame.max_dimension must not be negative (0 keeps original size)")
	}

	switch cfg.Alert.Transport {
	case "auto", "log":
	case "smtp":
		if cfg.SMTP.Host == "" || cfg.Alert.From == "" {
			add("smtp transport requires smtp.host and alert.from")
		}
		if len(cfg.Alert.Recipients) == 0 {
			add("smtp transport requires at least one alert recipient")
		}
	default:
		add("alert.transport must be auto, smtp or log (got %q)", cfg.Alert.Transport)
	}
	if cfg.Alert.From != "" {
		if _, err := mail.ParseAddress(cfg.Alert.From); err != nil {
			add("alert.from: %v", err)
		}
	}
	for _, r := range cfg.Alert.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			add("alert.recipients %q: %v", r, err)
		}
	}
	if _, err := template.New("subject").Parse(cfg.Alert.SubjectTemplate); err != nil {
		add("alert.subject_template: %v", err)
	}
	if _, err := template.New("body").Parse(cfg.Alert.BodyTemplate); err != nil {
		add("alert.body_template: %v", err)
	}
	if cfg.Alert.Timeout <= 0 {
		add("alert.timeout must be positive")
	}
	if cfg.Alert.MinInterval < 0 || cfg.Alert.Burst < 1 {
		add("alert.min_interval must not be negative and alert.burst must be at least 1")
	}
	if cfg.Alert.BreakerThreshold < 1 || cfg.Alert.BreakerReset <= 0 {
		add("alert breaker threshold and reset must be positive")
	}

	switch cfg.SMTP.TLSPolicy {
	case "mandatory", "opportunistic", "none":
	default:
		add("smtp.tls_policy must be mandatory, opportunistic or none")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		add("smtp.port out of range")
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.Requests < 1 || cfg.RateLimit.Window <= 0) {
		add("rate_limit requires positive requests and window")
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Exporter != "grpc" && cfg.Telemetry.Exporter != "http" {
			add("telemetry.exporter must be grpc or http")
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.sampling_rate must be within 0..1")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func containsPlaceholder(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

// SMTPConfigured reports whether enough SMTP settings exist to send mail.
func (c AppConfig) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.Alert.From != "" && len(c.Alert.Recipients) > 0
}
