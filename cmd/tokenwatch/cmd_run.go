// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	zlog "github.com/teradata-labs/tokenwatch/internal/log"
	"github.com/teradata-labs/tokenwatch/pkg/monitor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the token monitoring pipeline",
	Long: `Start the full monitoring pipeline.

The pipeline will:
- Tail the configured files, processes, and multiplexer sessions
- Attribute detected token usage to providers and price it
- Enforce per-component token caps
- Evaluate alert rules and dispatch notifications

Press Ctrl+C to gracefully shutdown.`,
	Run: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	if err := settings.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := zlog.Init(settings.Logging.Level, settings.Logging.Format, settings.Logging.File)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting tokenwatch", zap.String("version", rootCmd.Version))

	// Show actual config file used (not just the --config flag)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found", zap.String("searched", "$TOKENWATCH_DATA_DIR/tokenwatch.yaml, ./tokenwatch.yaml, /etc/tokenwatch/tokenwatch.yaml"))
		logger.Info("Using defaults + environment variables")
	}

	mon, err := monitor.New(monitor.Config{
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Failed to create monitor", zap.Error(err))
	}

	ctx := context.Background()
	if err := mon.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize monitor", zap.Error(err))
	}
	if err := mon.Start(ctx); err != nil {
		logger.Fatal("Failed to start monitor", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("Shutting down", zap.String("signal", sig.String()))
	if err := mon.Stop(); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}
