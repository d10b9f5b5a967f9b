// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/firewatch/internal/app/bootstrap"
	"github.com/ManuGH/firewatch/internal/fsutil"
	fwlog "github.com/ManuGH/firewatch/internal/log"
	"github.com/ManuGH/firewatch/internal/pipeline/model"
	"github.com/ManuGH/firewatch/internal/pipeline/worker"
	"github.com/ManuGH/firewatch/internal/results"
	"github.com/ManuGH/firewatch/internal/subproc"
	"github.com/ManuGH/firewatch/internal/version"
)

// analyzeReport is the JSON printed by analyze.
type analyzeReport struct {
	RequestID    string `json:"requestId"`
	Mode         string `json:"mode"`
	Source       string `json:"source,omitempty"`
	Success      bool   `json:"success"`
	FireDetected *bool  `json:"fireDetected,omitempty"`
	Signal       string `json:"signal,omitempty"`
	ResultPath   string `json:"resultPath,omitempty"`
	ErrorKind    string `json:"errorKind,omitempty"`
	Stage        string `json:"stage,omitempty"`
	Error        string `json:"error,omitempty"`
	Alert        string `json:"alert,omitempty"`
	Released     int    `json:"artifactsReleased"`
	ElapsedMS    int64  `json:"elapsedMs"`
}

func newAnalyzeCmd() *cobra.Command {
	var mode, source string
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run one file through the pipeline and print the outcome as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAnalyze(ctx, cmd.OutOrStdout(), configPath(cmd), model.Mode(mode), source, args[0])
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(model.ModeVideo), "pipeline mode: video or frame")
	cmd.Flags().StringVar(&source, "source", "", "camera tag recorded with the run")
	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, path string, mode model.Mode, source, file string) error {
	if !mode.Valid() {
		return &exitError{code: 2, err: fmt.Errorf("unknown mode %q (want video or frame)", mode)}
	}

	cfg, _, err := bootstrap.LoadConfig(version.Version, path)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	fwlog.Configure(fwlog.Config{Level: cfg.LogLevel, Service: bootstrap.ServiceName, Version: version.Version, Output: io.Discard})

	if err := fsutil.EnsureWritableDir(cfg.Upload.Dir); err != nil {
		return err
	}
	store := results.New(cfg.Results.Dir, cfg.Results.PublicPrefix)
	if store.Enabled() {
		if err := fsutil.EnsureWritableDir(cfg.Results.Dir); err != nil {
			return err
		}
	}

	stages, _, err := bootstrap.BuildStages(cfg, subproc.NewExec(), store)
	if err != nil {
		return err
	}
	orch, err := worker.New(worker.Config{
		UploadDir:     cfg.Upload.Dir,
		MaxConcurrent: 1,
		MaxVideoBytes: cfg.Upload.MaxVideoBytes,
		MaxFrameBytes: cfg.Upload.MaxFrameBytes,
	}, stages)
	if err != nil {
		return err
	}

	run, err := orch.Begin(ctx, mode)
	if err != nil {
		return err
	}
	run.SetSource(source)

	var outcome model.Outcome
	if err := run.Adopt(ctx, file); err != nil {
		outcome = run.Abort(ctx, err)
	} else {
		outcome = run.Execute(ctx)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reportFor(outcome)); err != nil {
		return err
	}
	if !outcome.Success {
		return &exitError{code: 1, err: fmt.Errorf("analysis failed: %s", outcome.Kind())}
	}
	return nil
}

func reportFor(o model.Outcome) analyzeReport {
	r := analyzeReport{
		RequestID:    o.RequestID,
		Mode:         string(o.Mode),
		Source:       o.Source,
		Success:      o.Success,
		FireDetected: o.FireDetected,
		ResultPath:   o.ResultPath,
		Released:     o.Released.Removed,
		ElapsedMS:    o.Elapsed.Milliseconds(),
	}
	if o.Signal != "" && o.Signal != model.SignalNone {
		r.Signal = string(o.Signal)
	}
	if o.Failure != nil {
		r.ErrorKind = string(o.Failure.Kind)
		r.Stage = string(o.Failure.Stage)
		r.Error = o.Failure.Detail
	}
	if o.Delivery != nil {
		r.Alert = string(o.Delivery.Status)
	}
	return r
}
