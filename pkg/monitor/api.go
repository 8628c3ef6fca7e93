// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package monitor

import (
	"time"

	"github.com/teradata-labs/tokenwatch/pkg/accountant"
	"github.com/teradata-labs/tokenwatch/pkg/alerting"
	"github.com/teradata-labs/tokenwatch/pkg/dashboard"
	"github.com/teradata-labs/tokenwatch/pkg/detector"
	"github.com/teradata-labs/tokenwatch/pkg/enforcer"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// MonitoringData is the composite read API payload.
type MonitoringData struct {
	SystemHealth SystemHealth                   `json:"system_health"`
	TokenMetrics *dashboard.UnifiedTokenMetrics `json:"token_metrics"`
	Enforcement  enforcer.Status                `json:"enforcement"`
	Detections   detector.Stats                 `json:"detections"`
	Performance  dashboard.PerformanceMetrics   `json:"performance"`
	Alerts       []alerting.Instance            `json:"alerts"`
	Projections  []accountant.LimitPrediction   `json:"projections"`
	Timestamp    time.Time                      `json:"timestamp"`
}

// TUISummary is the compact headline block.
type TUISummary struct {
	TotalTokens  int                `json:"total_tokens"`
	TotalCost    float64            `json:"total_cost"`
	ActiveAgents int                `json:"active_agents"`
	ActiveAlerts int                `json:"active_alerts"`
	SystemStatus types.SystemStatus `json:"system_status"`
}

// TUIDetails carries the per-component breakdowns.
type TUIDetails struct {
	Providers        []accountant.ProviderUsage `json:"providers"`
	Enforcement      []enforcer.ComponentState  `json:"enforcement"`
	RecentDetections []types.DetectionEvent     `json:"recent_detections"`
	Alerts           []alerting.Instance        `json:"alerts"`
}

// TrendPoint is one history sample for sparkline-style rendering.
type TrendPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	TotalTokens int       `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
}

// TUIData is the terminal-dashboard-ready shape.
type TUIData struct {
	Summary TUISummary   `json:"summary"`
	Details TUIDetails   `json:"details"`
	Trends  []TrendPoint `json:"trends"`
}

// GetMonitoringData returns the composite view of all components, cached
// for 5 s. Data update events invalidate the cache early.
func (m *Monitor) GetMonitoringData() *MonitoringData {
	m.mu.Lock()
	if m.cached != nil && time.Since(m.cachedAt) < monitoringCacheTTL {
		cached := m.cached
		m.mu.Unlock()
		return cached
	}
	m.mu.Unlock()

	data := &MonitoringData{
		SystemHealth: m.health.sweep(time.Now()),
		TokenMetrics: m.dashboard.GetCurrentMetrics(),
		Performance:  m.dashboard.GetPerformanceMetrics(),
		Projections:  m.accountant.GetLimitPredictions(),
		Timestamp:    time.Now(),
	}
	if m.enforcer != nil {
		data.Enforcement = m.enforcer.GetCurrentStatus()
	}
	if m.detector != nil {
		data.Detections = m.detector.GetStats()
	}
	if m.alerting != nil {
		data.Alerts = m.alerting.ActiveAlerts()
	}

	m.mu.Lock()
	m.cached = data
	m.cachedAt = time.Now()
	m.mu.Unlock()
	return data
}

// GetTUIData adapts the monitoring composite into the compact
// summary/details/trends shape.
func (m *Monitor) GetTUIData() TUIData {
	data := m.GetMonitoringData()

	out := TUIData{
		Summary: TUISummary{
			ActiveAlerts: len(data.Alerts),
			SystemStatus: data.SystemHealth.Status,
		},
		Details: TUIDetails{
			Providers:   m.accountant.GetProviderUsage(),
			Enforcement: data.Enforcement.Components,
			Alerts:      data.Alerts,
		},
	}
	if data.TokenMetrics != nil {
		out.Summary.TotalTokens = data.TokenMetrics.TotalTokensUsed
		out.Summary.TotalCost = data.TokenMetrics.TotalCost
		out.Summary.ActiveAgents = len(data.TokenMetrics.ActiveAgents)
	}
	if m.detector != nil {
		out.Details.RecentDetections = m.detector.GetRecentEvents(10 * time.Minute)
	}
	for _, snap := range m.dashboard.GetMetricsHistory(m.settings.RetentionPeriodHours) {
		out.Trends = append(out.Trends, TrendPoint{
			Timestamp:   snap.Timestamp,
			TotalTokens: snap.TotalTokensUsed,
			TotalCost:   snap.TotalCost,
		})
	}
	return out
}

// GetSystemHealthStatus returns the current health report.
func (m *Monitor) GetSystemHealthStatus() SystemHealth {
	return m.health.sweep(time.Now())
}

// GetProviderUsage returns the accountant's per-provider rollups.
func (m *Monitor) GetProviderUsage() []accountant.ProviderUsage {
	return m.accountant.GetProviderUsage()
}

// GetEnforcementStatus returns the enforcer's current state. Zero value
// when enforcement is disabled.
func (m *Monitor) GetEnforcementStatus() enforcer.Status {
	if m.enforcer == nil {
		return enforcer.Status{}
	}
	return m.enforcer.GetCurrentStatus()
}

// GetDetectionEvents returns detection events from the last N minutes.
func (m *Monitor) GetDetectionEvents(minutes int) []types.DetectionEvent {
	if m.detector == nil {
		return nil
	}
	return m.detector.GetRecentEvents(time.Duration(minutes) * time.Minute)
}

// GetActiveAlerts returns unresolved alerts. Nil when alerting is disabled.
func (m *Monitor) GetActiveAlerts() []alerting.Instance {
	if m.alerting == nil {
		return nil
	}
	return m.alerting.ActiveAlerts()
}

// AcknowledgeAlert forwards to the alerting engine.
func (m *Monitor) AcknowledgeAlert(id, by string) error {
	if m.alerting == nil {
		return nil
	}
	return m.alerting.Acknowledge(id, by)
}

// ResolveAlert forwards to the alerting engine.
func (m *Monitor) ResolveAlert(id, resolution string) error {
	if m.alerting == nil {
		return nil
	}
	return m.alerting.Resolve(id, resolution)
}
