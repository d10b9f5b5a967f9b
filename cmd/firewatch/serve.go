// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/firewatch/internal/app/bootstrap"
	fwlog "github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath(cmd))
		},
	}
}

func runServe(ctx context.Context, path string) error {
	container, err := bootstrap.WireServices(ctx, version.Version, path)
	if err != nil {
		return err
	}
	logger := fwlog.WithComponent("daemon")
	if err := container.Run(ctx); err != nil {
		logger.Error().Err(err).Str(fwlog.FieldEvent, "daemon.exit").Msg("daemon stopped with error")
		return err
	}
	logger.Info().Str(fwlog.FieldEvent, "daemon.exit").Msg("daemon stopped")
	return nil
}
