// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package dashboard aggregates accountant, enforcer, and alerting state into
// periodic unified snapshots for read APIs and trend queries.
package dashboard

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
	"github.com/teradata-labs/tokenwatch/pkg/accountant"
	"github.com/teradata-labs/tokenwatch/pkg/alerting"
	"github.com/teradata-labs/tokenwatch/pkg/enforcer"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

const (
	// DefaultSnapshotInterval is how often a snapshot is produced.
	DefaultSnapshotInterval = time.Minute
	// DefaultHistoryWindow bounds the rolling snapshot history.
	DefaultHistoryWindow = 24 * time.Hour
)

// UsageSource is the accountant surface the aggregator reads.
type UsageSource interface {
	TotalUsage() types.Usage
	ActiveAgents(window time.Duration) []string
	GetProviderUsage() []accountant.ProviderUsage
	GetLimitPredictions() []accountant.LimitPrediction
}

// EnforcementSource is the enforcer surface the aggregator reads.
type EnforcementSource interface {
	GetCurrentStatus() enforcer.Status
}

// AlertSource is the alerting surface the aggregator reads.
type AlertSource interface {
	ActiveAlerts() []alerting.Instance
}

// UnifiedTokenMetrics is one dashboard snapshot. Snapshots are immutable
// once published; readers share the same instance.
type UnifiedTokenMetrics struct {
	TotalTokensUsed    int                          `json:"total_tokens_used"`
	TotalCost          float64                      `json:"total_cost"`
	ActiveAgents       []string                     `json:"active_agents"`
	Alerts             []alerting.Instance          `json:"alerts"`
	Projections        []accountant.LimitPrediction `json:"projections"`
	PerProviderSummary []accountant.ProviderUsage   `json:"per_provider_summary"`
	Enforcement        enforcer.Status              `json:"enforcement"`
	Timestamp          time.Time                    `json:"timestamp"`
}

// PerformanceMetrics reports process counters for the read API.
type PerformanceMetrics struct {
	SnapshotCount   int64         `json:"snapshot_count"`
	LastSnapshotAge time.Duration `json:"last_snapshot_age"`
	HistoryLength   int           `json:"history_length"`
	Goroutines      int           `json:"goroutines"`
	HeapAllocBytes  uint64        `json:"heap_alloc_bytes"`
	Uptime          time.Duration `json:"uptime"`
}

// Config configures the aggregator.
type Config struct {
	Bus         *bus.Bus
	Logger      *zap.Logger
	Usage       UsageSource
	Enforcement EnforcementSource // optional
	Alerts      AlertSource       // optional

	SnapshotInterval time.Duration
	HistoryWindow    time.Duration
	AgentWindow      time.Duration // window for the active-agent list, default 24h
}

// Aggregator produces UnifiedTokenMetrics snapshots on a timer. The latest
// snapshot is shared immutable; readers never see a partial one.
type Aggregator struct {
	bus         *bus.Bus
	logger      *zap.Logger
	usage       UsageSource
	enforcement EnforcementSource
	alerts      AlertSource

	interval      time.Duration
	historyWindow time.Duration
	agentWindow   time.Duration

	latest        atomic.Pointer[UnifiedTokenMetrics]
	snapshotCount atomic.Int64
	startedAt     time.Time

	mu      sync.Mutex
	history []*UnifiedTokenMetrics
	started bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an aggregator. The usage source is required; enforcement and
// alert sources are optional and leave their sections empty when absent.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Usage == nil {
		return nil, fmt.Errorf("usage source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.AgentWindow <= 0 {
		cfg.AgentWindow = 24 * time.Hour
	}

	return &Aggregator{
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		usage:         cfg.Usage,
		enforcement:   cfg.Enforcement,
		alerts:        cfg.Alerts,
		interval:      cfg.SnapshotInterval,
		historyWindow: cfg.HistoryWindow,
		agentWindow:   cfg.AgentWindow,
		stopCh:        make(chan struct{}),
	}, nil
}

// Start takes an immediate snapshot and begins the periodic task.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already started")
	}
	a.started = true
	a.startedAt = time.Now()
	a.mu.Unlock()

	a.Snapshot()

	a.wg.Add(1)
	go a.snapshotLoop(ctx)

	a.logger.Info("Dashboard aggregator started",
		zap.Duration("interval", a.interval))
	return nil
}

// Stop halts the periodic task.
func (a *Aggregator) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.mu.Unlock()

	close(a.stopCh)
	a.wg.Wait()
	a.logger.Info("Dashboard aggregator stopped")
	return nil
}

func (a *Aggregator) snapshotLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Snapshot()
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		}
	}
}

// Snapshot collects one snapshot, publishes it as the latest, and appends
// it to history.
func (a *Aggregator) Snapshot() *UnifiedTokenMetrics {
	now := time.Now()
	total := a.usage.TotalUsage()

	snap := &UnifiedTokenMetrics{
		TotalTokensUsed:    total.TotalTokens,
		TotalCost:          total.CostUSD,
		ActiveAgents:       a.usage.ActiveAgents(a.agentWindow),
		Projections:        a.usage.GetLimitPredictions(),
		PerProviderSummary: a.usage.GetProviderUsage(),
		Timestamp:          now,
	}
	if a.enforcement != nil {
		snap.Enforcement = a.enforcement.GetCurrentStatus()
	}
	if a.alerts != nil {
		snap.Alerts = a.alerts.ActiveAlerts()
	}

	a.latest.Store(snap)
	a.snapshotCount.Add(1)

	a.mu.Lock()
	a.history = append(a.history, snap)
	cutoff := now.Add(-a.historyWindow)
	trim := 0
	for trim < len(a.history) && !a.history[trim].Timestamp.After(cutoff) {
		trim++
	}
	a.history = a.history[trim:]
	a.mu.Unlock()

	a.bus.Publish(bus.EventDataUpdate, nil)
	return snap
}

// GetCurrentMetrics returns the latest snapshot, or nil before the first.
func (a *Aggregator) GetCurrentMetrics() *UnifiedTokenMetrics {
	return a.latest.Load()
}

// GetMetricsHistory returns snapshots younger than the given number of
// hours, oldest first.
func (a *Aggregator) GetMetricsHistory(hours int) []*UnifiedTokenMetrics {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*UnifiedTokenMetrics
	for _, snap := range a.history {
		if snap.Timestamp.After(cutoff) {
			out = append(out, snap)
		}
	}
	return out
}

// GetPerformanceMetrics reports process counters.
func (a *Aggregator) GetPerformanceMetrics() PerformanceMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	pm := PerformanceMetrics{
		SnapshotCount:  a.snapshotCount.Load(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
	}
	if latest := a.latest.Load(); latest != nil {
		pm.LastSnapshotAge = time.Since(latest.Timestamp)
	}

	a.mu.Lock()
	pm.HistoryLength = len(a.history)
	if !a.startedAt.IsZero() {
		pm.Uptime = time.Since(a.startedAt)
	}
	a.mu.Unlock()
	return pm
}
