// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/firewatch/internal/config"
	"github.com/ManuGH/firewatch/internal/fsutil"
	"github.com/ManuGH/firewatch/internal/log"
)

// PerformStartupChecks validates the environment before the daemon accepts uploads.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkListenAddr(cfg.Server.ListenAddr); err != nil {
		return err
	}
	if err := fsutil.EnsureWritableDir(cfg.Upload.Dir); err != nil {
		return fmt.Errorf("upload directory check failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, cfg.Upload.Dir).Msg("upload directory is writable")

	if cfg.Results.Dir != "" {
		if err := fsutil.EnsureWritableDir(cfg.Results.Dir); err != nil {
			return fmt.Errorf("results directory check failed: %w", err)
		}
	}

	if _, err := exec.LookPath(cfg.Transcode.Bin); err != nil {
		return fmt.Errorf("transcoder binary not found (%s): %w", cfg.Transcode.Bin, err)
	}
	checkOptionalBinary(logger, "inference", cfg.Inference.Command)

	if !cfg.SMTPConfigured() && cfg.Alert.Transport != "log" {
		logger.Warn().Msg("SMTP credentials not configured; alerts will only be logged")
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkListenAddr(addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	return nil
}

// The detector may be provisioned after the daemon (model download), so a
// missing command only warns.
func checkOptionalBinary(logger zerolog.Logger, name, bin string) {
	if _, err := exec.LookPath(bin); err != nil {
		logger.Warn().Err(err).Str("binary", bin).Msgf("%s command not found on PATH", name)
	}
}
