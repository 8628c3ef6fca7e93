// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/tokenwatch/pkg/alerting"
	"github.com/teradata-labs/tokenwatch/pkg/config"
	"github.com/teradata-labs/tokenwatch/pkg/enforcer"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PersistPath:             filepath.Join(t.TempDir(), "usage.json"),
		EnableRealTimeDetection: true,
		EnableCapEnforcement:    true,
		EnableAlerting:          true,
		UpdateIntervalMs:        60000,
		RetentionPeriodHours:    24,
		CheckIntervalSeconds:    30,
		DebounceTimeMs:          500,
		MaxCacheSize:            100,
		UsageRetentionDays:      30,
		Caps: []enforcer.CapConfig{
			{Component: "inspector", Limit: 100000},
			{Component: "orchestrator", Limit: 100000},
		},
	}
}

func newTestMonitor(t *testing.T, settings *config.Config) *Monitor {
	t.Helper()
	if settings == nil {
		settings = testSettings(t)
	}
	m, err := New(Config{Settings: settings, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return m
}

func startedMonitor(t *testing.T, settings *config.Config) *Monitor {
	t.Helper()
	m := newTestMonitor(t, settings)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestLifecycle(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()

	require.Error(t, m.Start(ctx), "start before initialize fails")
	require.NoError(t, m.Initialize(ctx))
	require.Error(t, m.Initialize(ctx), "double initialize fails")
	require.NoError(t, m.Start(ctx))
	require.Error(t, m.Start(ctx), "double start fails")
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop(), "stop is idempotent")
}

func TestDetectionFlowsToAccountantAndEnforcer(t *testing.T) {
	m := startedMonitor(t, nil)

	m.detector.HandleLine(types.SourceTerminal, "inspector",
		"anthropic usage: tokens: 1500 input: 1000 output: 500 model: claude-3-5-sonnet")

	require.Eventually(t, func() bool {
		return m.accountant.RecordCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "detection reaches the accountant")

	rec := m.accountant.Records()[0]
	assert.Equal(t, "claude-code", rec.Provider)
	assert.Equal(t, "claude-3-5-sonnet-20241022", rec.Model)
	assert.Equal(t, 1500, rec.TotalTokens)
	assert.InDelta(t, 0.0105, rec.Cost, 1e-9)

	require.Eventually(t, func() bool {
		for _, c := range m.GetEnforcementStatus().Components {
			if c.Component == "inspector" && c.CurrentUsage == 1500 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "recorded usage reaches the enforcer")
}

func TestUnattributedDetectionDoesNotDegradeHealth(t *testing.T) {
	m := startedMonitor(t, nil)

	m.detector.HandleLine(types.SourceTerminal, "src", "mystery model used tokens: 500")

	time.Sleep(100 * time.Millisecond)
	report := m.GetSystemHealthStatus()
	assert.Equal(t, types.SystemHealthy, report.Status)
	assert.Zero(t, m.accountant.RecordCount())
}

func TestDisabledProviderDetectionDoesNotDegradeHealth(t *testing.T) {
	m := startedMonitor(t, nil)
	require.NoError(t, m.accountant.SetProviderEnabled("claude-code", false))

	m.detector.HandleLine(types.SourceTerminal, "inspector",
		"anthropic usage: tokens: 1500 input: 1000 output: 500 model: claude-3-5-sonnet")

	time.Sleep(100 * time.Millisecond)
	report := m.GetSystemHealthStatus()
	assert.Equal(t, types.SystemHealthy, report.Status)
	assert.Zero(t, m.accountant.RecordCount())
}

func TestMonitoringDataCaching(t *testing.T) {
	m := startedMonitor(t, nil)

	first := m.GetMonitoringData()
	second := m.GetMonitoringData()
	assert.Same(t, first, second, "served from the 5s cache")

	m.invalidateCache()
	third := m.GetMonitoringData()
	assert.NotSame(t, first, third, "data update events invalidate the cache")
}

func TestTUIData(t *testing.T) {
	m := startedMonitor(t, nil)

	_, err := m.accountant.RecordUsage("claude-code", "claude-3-5-sonnet-20241022",
		"inspector", "chat", 1000, 500, nil)
	require.NoError(t, err)
	m.invalidateCache()
	m.dashboard.Snapshot()

	data := m.GetTUIData()
	assert.Equal(t, 1500, data.Summary.TotalTokens)
	assert.InDelta(t, 0.0105, data.Summary.TotalCost, 1e-9)
	assert.Equal(t, 1, data.Summary.ActiveAgents)
	assert.Equal(t, types.SystemHealthy, data.Summary.SystemStatus)
	assert.NotEmpty(t, data.Details.Providers)
	assert.NotEmpty(t, data.Trends)
}

func TestFeederPopulatesResolver(t *testing.T) {
	m := startedMonitor(t, nil)

	_, err := m.accountant.RecordUsage("claude-code", "claude-3-5-sonnet-20241022",
		"inspector", "chat", 1000, 500, nil)
	require.NoError(t, err)

	m.feedResolver()

	r := m.alerting.Resolver()
	v, ok := r.Resolve("tokens.total_usage")
	require.True(t, ok)
	assert.InDelta(t, 1500, v, 1e-9)

	v, ok = r.Resolve("provider.daily_usage_percentage")
	require.True(t, ok)
	assert.Greater(t, v, 0.0)

	_, ok = r.Resolve("enforcement.active_enforcements")
	assert.True(t, ok)
	_, ok = r.Resolve("system.health_score")
	assert.True(t, ok)
}

func TestDisabledComponents(t *testing.T) {
	settings := testSettings(t)
	settings.EnableRealTimeDetection = false
	settings.EnableCapEnforcement = false
	settings.EnableAlerting = false
	m := startedMonitor(t, settings)

	assert.Nil(t, m.detector)
	assert.Nil(t, m.enforcer)
	assert.Nil(t, m.alerting)

	assert.Empty(t, m.GetDetectionEvents(10))
	assert.Empty(t, m.GetEnforcementStatus().Components)
	assert.Nil(t, m.GetActiveAlerts())
	assert.NoError(t, m.AcknowledgeAlert("x", ""))

	data := m.GetMonitoringData()
	assert.NotNil(t, data.TokenMetrics)
}

func TestInitializeFailureClosesAlertStore(t *testing.T) {
	settings := testSettings(t)
	settings.AlertDBPath = filepath.Join(t.TempDir(), "alerts.db")
	settings.AlertRules = []alerting.Rule{{
		ID:         "bad",
		Conditions: []alerting.Condition{{Metric: "made.up", Operator: alerting.OpGreater, Value: 1}},
	}}

	m := newTestMonitor(t, settings)
	require.Error(t, m.Initialize(context.Background()), "invalid rule fails initialization")

	// The store handle was released; the same database is reusable.
	settings.AlertRules = nil
	m2 := newTestMonitor(t, settings)
	require.NoError(t, m2.Initialize(context.Background()))
	require.NoError(t, m2.Start(context.Background()))
	require.NoError(t, m2.Stop())
}

func TestAlertStorePersistsAcrossMonitor(t *testing.T) {
	settings := testSettings(t)
	settings.AlertDBPath = filepath.Join(t.TempDir(), "alerts.db")
	m := startedMonitor(t, settings)

	assert.NotNil(t, m.alerting)
}

func TestReset(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.Reset(ctx))
	t.Cleanup(func() { _ = m.Stop() })

	// Still serving after the restart.
	assert.NotNil(t, m.GetMonitoringData())
}
