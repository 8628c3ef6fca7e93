// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/tokenwatch/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tokenwatch configuration",
	Long:  `Manage configuration files for tokenwatch.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example tokenwatch.yaml configuration file in the data directory.`,
	Run:   runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources).`,
	Run:   runConfigShow,
}

var configForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	dir := config.DataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", dir, err)
		os.Exit(1)
	}

	path := filepath.Join(dir, config.DefaultConfigFileName+".yaml")
	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Fprintf(os.Stderr, "Config file already exists at %s (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	if err := os.WriteFile(path, []byte(config.GenerateExampleConfig()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote example configuration to %s\n", path)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	fmt.Println("Storage:")
	fmt.Printf("  Persist path: %s\n", settings.PersistPath)
	fmt.Printf("  Alert DB: %s\n", settings.AlertDBPath)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Real-time detection: %t\n", settings.EnableRealTimeDetection)
	fmt.Printf("  Cap enforcement: %t\n", settings.EnableCapEnforcement)
	fmt.Printf("  Alerting: %t\n", settings.EnableAlerting)
	fmt.Println()

	fmt.Println("Intervals:")
	fmt.Printf("  Update: %s\n", settings.UpdateInterval())
	fmt.Printf("  Check: %s\n", settings.CheckInterval())
	fmt.Printf("  Debounce: %s\n", settings.DebounceTime())
	fmt.Printf("  Dashboard retention: %s\n", settings.RetentionPeriod())
	fmt.Printf("  Usage retention: %s\n", settings.UsageRetention())
	fmt.Println()

	fmt.Println("Sources:")
	fmt.Printf("  Files: %s\n", strings.Join(settings.MonitoredFiles, ", "))
	fmt.Printf("  Processes: %s\n", strings.Join(settings.MonitoredProcesses, ", "))
	fmt.Printf("  Multiplexer sessions: %s\n", strings.Join(settings.MonitoredMultiplexerSessions, ", "))
	fmt.Println()

	fmt.Println("Caps:")
	for _, c := range settings.Caps {
		fmt.Printf("  %s: %d\n", c.Component, c.Limit)
	}
	fmt.Println()

	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", settings.Logging.Level)
	fmt.Printf("  Format: %s\n", settings.Logging.Format)
}
