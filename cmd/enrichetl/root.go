//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of EnrichETL.
//
// EnrichETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// EnrichETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with EnrichETL. If not, see https://www.gnu.org/licenses/.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aaronlmathis/enrichetl/config"
	"github.com/aaronlmathis/enrichetl/logging"
	"github.com/aaronlmathis/enrichetl/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := rootCommand().Execute(); err != nil {
		return 1
	}
	return 0
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "enrichetl COMMAND [args]",
		Short:         "Enrich a tabular dataset through an HTTP API and load the result",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (yaml, toml or json)")

	rootCmd.AddCommand(
		runCmd(),
		configCmd(),
	)
	return rootCmd
}

// runFlags are applied on top of the loaded configuration when set.
type runFlags struct {
	source      string
	destination string
	onError     string
	format      string
	listFormat  string
	persist     string
	logLevel    string
	logFormat   string
}

func runCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [flags]",
		Short: "Run the enrichment job once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.source, "source", "", "source object as bucket/key")
	f.StringVar(&flags.destination, "destination", "", "destination object as bucket/key")
	f.StringVar(&flags.onError, "on-error", "", "enrichment failure policy: abort or skip")
	f.StringVar(&flags.format, "format", "", "destination format: csv, jsonl or parquet")
	f.StringVar(&flags.listFormat, "list-format", "", "list rendering in CSV output: python or json")
	f.StringVar(&flags.persist, "persist", "", "persist backend: postgres, mongo or none")
	f.StringVar(&flags.logLevel, "log-level", "", "log level")
	f.StringVar(&flags.logFormat, "log-format", "", "log format: console or json (default console)")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.DB.Password = redact(redacted.DB.Password)
			redacted.Mongo.Password = redact(redacted.Mongo.Password)
			redacted.Mongo.URI = config.RedactDSN(redacted.Mongo.URI)
			redacted.Storage.SecretAccessKey = redact(redacted.Storage.SecretAccessKey)
			redacted.Storage.SessionToken = redact(redacted.Storage.SessionToken)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(redacted)
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func (f *runFlags) apply(cfg *config.Config) error {
	if f.source != "" {
		loc, err := parseLocation(f.source)
		if err != nil {
			return fmt.Errorf("--source: %w", err)
		}
		cfg.Source = loc
	}
	if f.destination != "" {
		loc, err := parseLocation(f.destination)
		if err != nil {
			return fmt.Errorf("--destination: %w", err)
		}
		cfg.Destination = loc
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Enrich.OnError, f.onError)
	set(&cfg.Sink.Format, f.format)
	set(&cfg.Sink.ListFormat, f.listFormat)
	set(&cfg.Persist.Backend, f.persist)
	set(&cfg.Log.Level, f.logLevel)
	set(&cfg.Log.Format, f.logFormat)
	if cfg.Log.Format == "" {
		cfg.Log.Format = logging.FormatConsole
	}
	return cfg.Validate()
}

func parseLocation(s string) (config.ObjectLocation, error) {
	bucket, key, ok := strings.Cut(s, "/")
	if !ok || bucket == "" || key == "" {
		return config.ObjectLocation{}, fmt.Errorf("expected bucket/key, got %q", s)
	}
	return config.ObjectLocation{Bucket: bucket, Key: key}, nil
}

func runJob(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := flags.apply(cfg); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := pipeline.NewRunner(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		logger.Error("failed to initialize run", zap.Error(err))
		return err
	}
	defer runner.Close()

	result, err := runner.Run(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "enrichetl: %v\n", err)
		return err
	}

	out, err := json.Marshal(result.Response)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
