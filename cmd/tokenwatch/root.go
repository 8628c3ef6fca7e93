// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/tokenwatch/internal/version"
	"github.com/teradata-labs/tokenwatch/pkg/config"
)

var (
	cfgFile  string
	settings *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "tokenwatch",
	Short:   "Tokenwatch - LLM token usage monitoring and enforcement",
	Long:    `Tokenwatch watches terminal output, log files, and process streams for LLM token usage, attributes it to providers, enforces per-component caps, and raises alerts before limits are hit.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $TOKENWATCH_DATA_DIR/tokenwatch.yaml)")

	// Component toggles
	rootCmd.PersistentFlags().Bool("detection", true, "enable real-time detection")
	rootCmd.PersistentFlags().Bool("enforcement", true, "enable cap enforcement")
	rootCmd.PersistentFlags().Bool("alerting", true, "enable alerting")

	// Storage flags
	rootCmd.PersistentFlags().String("persist-path", "", "usage persistence file (default: $TOKENWATCH_DATA_DIR/usage.json)")
	rootCmd.PersistentFlags().String("alert-db", "", "alert history database (default: $TOKENWATCH_DATA_DIR/alerts.db)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("enable_real_time_detection", rootCmd.PersistentFlags().Lookup("detection"))
	_ = viper.BindPFlag("enable_cap_enforcement", rootCmd.PersistentFlags().Lookup("enforcement"))
	_ = viper.BindPFlag("enable_alerting", rootCmd.PersistentFlags().Lookup("alerting"))

	_ = viper.BindPFlag("persist_path", rootCmd.PersistentFlags().Lookup("persist-path"))
	_ = viper.BindPFlag("alert_db_path", rootCmd.PersistentFlags().Lookup("alert-db"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	settings, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
