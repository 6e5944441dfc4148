// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command counsel runs the legal intake dialogue service and its tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianCounsel/pkg/logging"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	logDir     string
	logJSON    bool

	config orchestrator.Config
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "counsel",
		Short: "Aleutian Counsel: a legal intake dialogue service",
		Long: `Counsel interviews a person about their legal situation, asks
follow-up questions until it has enough facts, and then reasons over
jurisdiction-specific legal text for each legal domain involved.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write stderr logs as JSON")

	rootCmd.AddCommand(serveCmd, chatCmd, jurisdictionsCmd, indexCmd)
}

// setup loads configuration and installs the process logger.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	config, err = orchestrator.LoadConfig(configPath)
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = config.LogLevel
	}
	if level == "" && cmd == chatCmd {
		// Keep the terminal conversation readable.
		level = "warn"
	}
	parsed, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	dir := logDir
	if dir == "" {
		dir = config.LogDir
	}

	logger = logging.New(logging.Config{
		Level:   parsed,
		LogDir:  dir,
		Service: "counsel",
		JSON:    logJSON,
	})
	slog.SetDefault(logger.Slog())
	return nil
}

func teardown(*cobra.Command, []string) error {
	if logger != nil {
		return logger.Close()
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
