// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/firewatch/internal/app/bootstrap"
	"github.com/ManuGH/firewatch/internal/version"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report validation errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, loader, err := bootstrap.LoadConfig(version.Version, configPath(cmd))
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			source := loader.Path()
			if source == "" {
				source = "environment and defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration from %s is valid\n", source)
			return nil
		},
	}

	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as YAML with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := bootstrap.LoadConfig(version.Version, configPath(cmd))
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			if cfg.SMTP.Password != "" {
				cfg.SMTP.Password = "***"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}

	cmd.AddCommand(validate, dump)
	return cmd
}
