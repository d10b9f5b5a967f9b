// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bootstrap

import (
	"fmt"

	"github.com/ManuGH/firewatch/internal/alert"
	"github.com/ManuGH/firewatch/internal/config"
	"github.com/ManuGH/firewatch/internal/media/frame"
	"github.com/ManuGH/firewatch/internal/pipeline/exec/inference"
	"github.com/ManuGH/firewatch/internal/pipeline/exec/transcode"
	"github.com/ManuGH/firewatch/internal/pipeline/worker"
	"github.com/ManuGH/firewatch/internal/subproc"
)

// BuildStages constructs the pipeline collaborators for cfg. publisher may
// be nil. The dispatcher is returned separately so health checks can watch
// its breaker.
func BuildStages(cfg config.AppConfig, runner subproc.Runner, publisher worker.Publisher) (worker.Stages, *alert.Dispatcher, error) {
	dispatcher, err := BuildDispatcher(cfg)
	if err != nil {
		return worker.Stages{}, nil, err
	}
	return assembleStages(cfg, runner, publisher, dispatcher), dispatcher, nil
}

// assembleStages builds the subprocess stages around an existing dispatcher.
func assembleStages(cfg config.AppConfig, runner subproc.Runner, publisher worker.Publisher, dispatcher *alert.Dispatcher) worker.Stages {
	transcoder := transcode.New(runner, transcode.Options{
		BinPath:     cfg.Transcode.Bin,
		Timeout:     cfg.Transcode.Timeout,
		KillGrace:   cfg.Transcode.KillGrace,
		VideoCodec:  cfg.Transcode.VideoCodec,
		Preset:      cfg.Transcode.Preset,
		CRF:         cfg.Transcode.CRF,
		PixelFormat: cfg.Transcode.PixelFormat,
		AudioCodec:  cfg.Transcode.AudioCodec,
		Container:   cfg.Transcode.Container,
		ExtraArgs:   cfg.Transcode.ExtraArgs,

		StartTimeout: cfg.Transcode.StartTimeout,
		StallTimeout: cfg.Transcode.StallTimeout,
	})

	detector := inference.New(runner, inference.Options{
		Command:           cfg.Inference.Command,
		Args:              cfg.Inference.Args,
		Env:               cfg.Inference.Env,
		WorkDir:           cfg.Inference.WorkDir,
		EvidencePath:      cfg.Inference.EvidencePath,
		OutputExt:         cfg.Inference.OutputExt,
		PositiveTokens:    cfg.Inference.PositiveTokens,
		NegativeTokens:    cfg.Inference.NegativeTokens,
		NegativeExitCodes: cfg.Inference.NegativeExitCodes,
		Timeout:           cfg.Inference.Timeout,
		KillGrace:         cfg.Inference.KillGrace,
	}, transcoder)

	stages := worker.Stages{
		Transcoder: transcoder,
		Detector:   detector,
		Frame: frame.New(frame.Options{
			MaxDimension: cfg.Frame.MaxDimension,
			JPEGQuality:  cfg.Frame.JPEGQuality,
		}),
		Alerter: dispatcher,
	}
	if publisher != nil {
		stages.Publisher = publisher
	}
	return stages
}

// BuildDispatcher renders alerts through the configured transport. "auto"
// picks SMTP when it is fully configured and falls back to logging.
func BuildDispatcher(cfg config.AppConfig) (*alert.Dispatcher, error) {
	renderer, err := alert.NewRenderer(alert.RenderConfig{
		From:            cfg.Alert.From,
		FromName:        cfg.Alert.FromName,
		Recipients:      cfg.Alert.Recipients,
		SubjectTemplate: cfg.Alert.SubjectTemplate,
		BodyTemplate:    cfg.Alert.BodyTemplate,
	})
	if err != nil {
		return nil, fmt.Errorf("alert renderer: %w", err)
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}

	return alert.NewDispatcher(renderer, transport, alert.Policy{
		Timeout:          cfg.Alert.Timeout,
		MinInterval:      cfg.Alert.MinInterval,
		Burst:            cfg.Alert.Burst,
		BreakerThreshold: cfg.Alert.BreakerThreshold,
		BreakerReset:     cfg.Alert.BreakerReset,
	}), nil
}

func buildTransport(cfg config.AppConfig) (alert.Transport, error) {
	useSMTP := false
	switch cfg.Alert.Transport {
	case "smtp":
		useSMTP = true
	case "auto":
		useSMTP = cfg.SMTPConfigured()
	}
	if !useSMTP {
		return alert.NewLogTransport(), nil
	}

	t, err := alert.NewSMTPTransport(alert.SMTPConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		TLSPolicy:   cfg.SMTP.TLSPolicy,
		ImplicitTLS: cfg.SMTP.ImplicitTLS,
		Timeout:     cfg.Alert.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp transport: %w", err)
	}
	return t, nil
}
