// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
	"github.com/teradata-labs/tokenwatch/pkg/accountant"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded token usage",
	Long:  `Display persisted usage totals, per-provider rollups, and limit projections without starting the pipeline.`,
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	a, err := accountant.New(accountant.Config{
		Bus:         bus.New(zap.NewNop()),
		PersistPath: settings.PersistPath,
		Retention:   settings.UsageRetention(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create accountant: %v\n", err)
		os.Exit(1)
	}
	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load usage: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = a.Stop() }()

	total := a.TotalUsage()
	fmt.Println("Usage:")
	fmt.Printf("  Records: %d\n", a.RecordCount())
	fmt.Printf("  Tokens: %d (input %d, output %d)\n", total.TotalTokens, total.InputTokens, total.OutputTokens)
	fmt.Printf("  Cost: $%.4f\n", total.CostUSD)
	fmt.Println()

	fmt.Println("Providers:")
	for _, p := range a.GetProviderUsage() {
		fmt.Printf("  %s (%s):\n", p.Name, p.ProviderID)
		fmt.Printf("    Tokens: %d  Cost: %.4f %s  Requests: %d\n", p.TotalTokens, p.TotalCost, p.Currency, p.TotalRequests)
		fmt.Printf("    Daily: %.1f%%  Weekly: %.1f%%  Monthly: %.1f%%  Status: %s\n",
			p.Daily.Percentage, p.Weekly.Percentage, p.Monthly.Percentage, p.Status)
	}
	fmt.Println()

	predictions := a.GetLimitPredictions()
	if len(predictions) == 0 {
		fmt.Println("Projections: none")
		return
	}
	fmt.Println("Projections:")
	for _, pr := range predictions {
		fmt.Printf("  %s: %.0f tokens/h, limit in %.1fh (confidence %.2f)\n",
			pr.ProviderID, pr.AvgHourlyTokens, pr.HoursToLimit, pr.Confidence)
		if pr.Recommendation != "" {
			fmt.Printf("    %s\n", pr.Recommendation)
		}
	}
}
