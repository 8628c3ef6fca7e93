// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package monitor composes the detection, accounting, enforcement,
// dashboard, and alerting components into one lifecycle with a health-aware
// read API.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
	"github.com/teradata-labs/tokenwatch/pkg/accountant"
	"github.com/teradata-labs/tokenwatch/pkg/alerting"
	"github.com/teradata-labs/tokenwatch/pkg/config"
	"github.com/teradata-labs/tokenwatch/pkg/dashboard"
	"github.com/teradata-labs/tokenwatch/pkg/detector"
	"github.com/teradata-labs/tokenwatch/pkg/enforcer"
	"github.com/teradata-labs/tokenwatch/pkg/pattern"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// feederInterval is how often fresh component values are pushed into the
// alerting resolver.
const feederInterval = 30 * time.Second

// monitoringCacheTTL bounds how stale the composite read API may be.
const monitoringCacheTTL = 5 * time.Second

// Component names used in health tracking.
const (
	componentDetector   = "detector"
	componentAccountant = "accountant"
	componentEnforcer   = "enforcer"
	componentDashboard  = "dashboard"
	componentAlerting   = "alerting"
)

// Config configures the monitor.
type Config struct {
	Settings      *config.Config
	Logger        *zap.Logger
	PricingSource accountant.PricingSource // optional
}

// Monitor owns the component graph. Initialize builds and wires it, Start
// runs it, Stop tears it down in reverse dependency order.
type Monitor struct {
	settings      *config.Config
	logger        *zap.Logger
	pricingSource accountant.PricingSource

	bus        *bus.Bus
	registry   *pattern.Registry
	detector   *detector.Detector
	accountant *accountant.Accountant
	enforcer   *enforcer.Enforcer
	dashboard  *dashboard.Aggregator
	alerting   *alerting.Engine
	health     *healthTracker

	mu          sync.Mutex
	initialized bool
	started     bool
	cached      *MonitoringData
	cachedAt    time.Time

	eventSub *bus.Subscription
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an uninitialized monitor. Settings are required and must
// already be validated.
func New(cfg Config) (*Monitor, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Monitor{
		settings:      cfg.Settings,
		logger:        cfg.Logger,
		pricingSource: cfg.PricingSource,
	}, nil
}

// Initialize builds every enabled component and wires the event flow:
// detections feed the accountant, recorded usage feeds the enforcer, and
// data updates invalidate the read cache.
func (m *Monitor) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return fmt.Errorf("monitor already initialized")
	}
	s := m.settings

	m.bus = bus.New(m.logger)
	m.stopCh = make(chan struct{})

	registry := pattern.NewRegistry()
	for _, p := range pattern.Builtin() {
		if err := registry.Add(p); err != nil {
			return fmt.Errorf("failed to register builtin pattern: %w", err)
		}
	}
	for _, spec := range s.Patterns {
		p, err := spec.Compile()
		if err != nil {
			return fmt.Errorf("failed to compile pattern %q: %w", spec.Name, err)
		}
		if err := registry.Add(p); err != nil {
			return fmt.Errorf("failed to register pattern %q: %w", spec.Name, err)
		}
	}
	m.registry = registry

	var componentNames []string

	acct, err := accountant.New(accountant.Config{
		Bus:           m.bus,
		Logger:        m.logger.Named("accountant"),
		PersistPath:   s.PersistPath,
		Retention:     s.UsageRetention(),
		PricingSource: m.pricingSource,
	})
	if err != nil {
		return fmt.Errorf("failed to create accountant: %w", err)
	}
	m.accountant = acct
	componentNames = append(componentNames, componentAccountant)

	if s.EnableRealTimeDetection {
		det, err := detector.New(detector.Config{
			Registry:     registry,
			Bus:          m.bus,
			Logger:       m.logger.Named("detector"),
			DebounceTime: s.DebounceTime(),
			MaxCacheSize: s.MaxCacheSize,
			Estimator:    detector.NewEstimator(),
		})
		if err != nil {
			return fmt.Errorf("failed to create detector: %w", err)
		}
		m.detector = det
		componentNames = append(componentNames, componentDetector)
	}

	if s.EnableCapEnforcement {
		enf, err := enforcer.New(enforcer.Config{
			Bus:            m.bus,
			Logger:         m.logger.Named("enforcer"),
			Caps:           s.Caps,
			EnableInvasive: s.EnableInvasiveEnforcement,
		})
		if err != nil {
			return fmt.Errorf("failed to create enforcer: %w", err)
		}
		m.enforcer = enf
		componentNames = append(componentNames, componentEnforcer)
	}

	// The alert store is owned by the engine once alerting.New succeeds;
	// until the monitor is fully initialized it must be closed on any
	// failure path, since Stop is never called for a failed Initialize.
	var alertStore *alerting.Store
	closeOnError := func(err error) error {
		if alertStore != nil {
			_ = alertStore.Close()
		}
		return err
	}

	if s.EnableAlerting {
		if s.AlertDBPath != "" {
			alertStore, err = alerting.NewStore(ctx, s.AlertDBPath, m.logger.Named("alertstore"))
			if err != nil {
				return fmt.Errorf("failed to open alert store: %w", err)
			}
		}
		eng, err := alerting.New(alerting.Config{
			Bus:                  m.bus,
			Logger:               m.logger.Named("alerting"),
			Store:                alertStore,
			CheckInterval:        s.CheckInterval(),
			Rules:                s.AlertRules,
			Notifications:        s.Notifications,
			EnableSystemCommands: s.EnableSystemCommands,
		})
		if err != nil {
			return closeOnError(fmt.Errorf("failed to create alerting engine: %w", err))
		}
		m.alerting = eng
		componentNames = append(componentNames, componentAlerting)
	}

	var alertSource dashboard.AlertSource
	if m.alerting != nil {
		alertSource = m.alerting
	}
	var enfSource dashboard.EnforcementSource
	if m.enforcer != nil {
		enfSource = m.enforcer
	}
	dash, err := dashboard.New(dashboard.Config{
		Bus:              m.bus,
		Logger:           m.logger.Named("dashboard"),
		Usage:            m.accountant,
		Enforcement:      enfSource,
		Alerts:           alertSource,
		SnapshotInterval: s.UpdateInterval(),
		HistoryWindow:    s.RetentionPeriod(),
	})
	if err != nil {
		return closeOnError(fmt.Errorf("failed to create dashboard aggregator: %w", err))
	}
	m.dashboard = dash
	componentNames = append(componentNames, componentDashboard)

	m.health = newHealthTracker(componentNames...)

	sub, err := m.bus.Subscribe(256,
		bus.EventDetection,
		bus.EventUsageRecorded,
		bus.EventDataUpdate)
	if err != nil {
		return closeOnError(fmt.Errorf("failed to subscribe to events: %w", err))
	}
	m.eventSub = sub

	m.initialized = true
	m.logger.Info("Monitor initialized",
		zap.Strings("components", componentNames),
		zap.Int("patterns", registry.Len()))
	return nil
}

// Start runs the components, attaches the configured sources, and begins
// the event pump, health checks, and resolver feeder.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return fmt.Errorf("monitor is not initialized")
	}
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	if err := m.accountant.Start(ctx); err != nil {
		return fmt.Errorf("failed to start accountant: %w", err)
	}
	if m.detector != nil {
		if err := m.detector.Start(ctx); err != nil {
			return fmt.Errorf("failed to start detector: %w", err)
		}
		m.attachSources()
	}
	if m.alerting != nil {
		if err := m.alerting.Start(ctx); err != nil {
			return fmt.Errorf("failed to start alerting engine: %w", err)
		}
	}
	if err := m.dashboard.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dashboard aggregator: %w", err)
	}

	m.wg.Add(3)
	go m.eventPump()
	go m.healthLoop()
	go m.feederLoop()

	// Initial health check and resolver feed so rules see values right away.
	m.health.sweep(time.Now())
	m.feedResolver()

	m.logger.Info("Monitor started")
	return nil
}

// Stop tears components down in reverse dependency order and flushes
// persistence.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	var firstErr error
	if err := m.dashboard.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	m.health.markStopped(componentDashboard)

	if m.alerting != nil {
		if err := m.alerting.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.health.markStopped(componentAlerting)
	}
	if m.detector != nil {
		m.detector.Stop()
		m.health.markStopped(componentDetector)
	}
	if err := m.accountant.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	m.health.markStopped(componentAccountant)
	if m.enforcer != nil {
		m.health.markStopped(componentEnforcer)
	}

	m.bus.Close()

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()

	m.logger.Info("Monitor stopped")
	return firstErr
}

// Reset stops everything, quiesces briefly, and starts fresh.
func (m *Monitor) Reset(ctx context.Context) error {
	if err := m.Stop(); err != nil {
		return fmt.Errorf("failed to stop during reset: %w", err)
	}
	time.Sleep(time.Second)
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize during reset: %w", err)
	}
	return m.Start(ctx)
}

// attachSources adds the configured files, processes, and multiplexer
// sessions to the detector. Failures degrade health but do not abort start.
func (m *Monitor) attachSources() {
	s := m.settings
	for _, path := range s.MonitoredFiles {
		if err := m.detector.AddSource(detector.NewFileSource(path, 0)); err != nil {
			m.logger.Warn("Failed to attach file source",
				zap.String("path", path), zap.Error(err))
			m.health.fail(componentDetector, err)
		}
	}
	for _, cmdline := range s.MonitoredProcesses {
		fields := strings.Fields(cmdline)
		if len(fields) == 0 {
			continue
		}
		if err := m.detector.AddSource(detector.NewProcessSource(fields[0], fields[1:]...)); err != nil {
			m.logger.Warn("Failed to attach process source",
				zap.String("command", cmdline), zap.Error(err))
			m.health.fail(componentDetector, err)
		}
	}
	for _, session := range s.MonitoredMultiplexerSessions {
		if err := m.detector.AddSource(detector.NewTmuxSource(session, 0)); err != nil {
			m.logger.Warn("Failed to attach multiplexer source",
				zap.String("session", session), zap.Error(err))
			m.health.fail(componentDetector, err)
		}
	}
}

// eventPump routes bus events between components: detections into the
// accountant, recorded usage into the enforcer, and data updates into cache
// invalidation.
func (m *Monitor) eventPump() {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-m.eventSub.Channel:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) handleEvent(ev bus.Event) {
	switch ev.Kind {
	case bus.EventDetection:
		det, ok := ev.Payload.(types.DetectionEvent)
		if !ok {
			return
		}
		m.health.touch(componentDetector)
		if _, err := m.accountant.RecordDetection(det); err != nil {
			// Unattributed detections are expected noise, and a disabled
			// provider is an operator choice; anything else counts against
			// the accountant.
			if !errors.Is(err, accountant.ErrUnattributed) && !errors.Is(err, accountant.ErrProviderDisabled) {
				m.health.fail(componentAccountant, err)
			}
			return
		}
		m.health.touch(componentAccountant)

	case bus.EventUsageRecorded:
		rec, ok := ev.Payload.(types.UsageRecord)
		if !ok {
			return
		}
		m.health.touch(componentAccountant)
		if m.enforcer != nil {
			m.enforcer.RecordUsage(rec.Agent, rec.TotalTokens, nil)
			m.health.touch(componentEnforcer)
		}

	case bus.EventDataUpdate:
		m.invalidateCache()
	}
}

func (m *Monitor) invalidateCache() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

func (m *Monitor) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.settings.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probeComponents()
			report := m.health.sweep(time.Now())
			if report.Status != types.SystemHealthy {
				m.logger.Warn("System health degraded",
					zap.String("status", string(report.Status)))
			}
		case <-m.stopCh:
			return
		}
	}
}

// probeComponents exercises each component's read surface so idle but
// healthy components keep reporting as alive.
func (m *Monitor) probeComponents() {
	m.accountant.RecordCount()
	m.health.touch(componentAccountant)
	if m.detector != nil {
		m.detector.GetStats()
		m.health.touch(componentDetector)
	}
	if m.enforcer != nil {
		m.enforcer.GetCurrentStatus()
		m.health.touch(componentEnforcer)
	}
	if m.dashboard.GetCurrentMetrics() != nil {
		m.health.touch(componentDashboard)
	}
	if m.alerting != nil {
		m.alerting.ActiveAlerts()
		m.health.touch(componentAlerting)
	}
}

func (m *Monitor) feederLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(feederInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.feedResolver()
		case <-m.stopCh:
			return
		}
	}
}

// feedResolver pushes fresh provider, enforcement, and health values into
// the alerting resolver so threshold rules read live data.
func (m *Monitor) feedResolver() {
	if m.alerting == nil {
		return
	}
	r := m.alerting.Resolver()
	set := func(metric string, value float64) {
		if err := r.Set(metric, value); err != nil {
			m.logger.Debug("Failed to feed metric",
				zap.String("metric", metric), zap.Error(err))
		}
	}

	var maxDaily, maxWeekly, maxMonthly float64
	for _, pu := range m.accountant.GetProviderUsage() {
		if pu.Daily.Percentage > maxDaily {
			maxDaily = pu.Daily.Percentage
		}
		if pu.Weekly.Percentage > maxWeekly {
			maxWeekly = pu.Weekly.Percentage
		}
		if pu.Monthly.Percentage > maxMonthly {
			maxMonthly = pu.Monthly.Percentage
		}
	}
	set("provider.daily_usage_percentage", maxDaily)
	set("provider.weekly_usage_percentage", maxWeekly)
	set("provider.monthly_usage_percentage", maxMonthly)

	total := m.accountant.TotalUsage()
	set("tokens.total_usage", float64(total.TotalTokens))

	hourTokens, hourCost, dayCost := m.recentUsage()
	set("tokens.usage_rate", hourTokens/60) // tokens per minute over the last hour
	set("cost.hourly_total", hourCost)
	set("cost.daily_total", dayCost)
	set("cost.cost_rate", hourCost)
	if total.TotalTokens > 0 {
		set("tokens.efficiency_score", float64(total.OutputTokens)/float64(total.TotalTokens))
	}

	var maxRate, maxConfidence float64
	for _, pred := range m.accountant.GetLimitPredictions() {
		if pred.DailyLimit > 0 {
			rate := pred.AvgHourlyTokens / float64(pred.DailyLimit) * 100
			if rate > maxRate {
				maxRate = rate
			}
		}
		if pred.Confidence > maxConfidence {
			maxConfidence = pred.Confidence
		}
	}
	set("projection.usage_increase_rate", maxRate)
	set("projection.cost_increase_rate", hourCost)
	set("projection.confidence_score", maxConfidence)

	if m.enforcer != nil {
		st := m.enforcer.GetCurrentStatus()
		set("enforcement.actions_count", float64(st.ActionsCount))
		set("enforcement.active_enforcements", float64(st.ActiveEnforcements))
		set("enforcement.escalation_level", float64(rankSystem(st.SystemStatus)))
		set("inspector.usage_percentage", m.enforcer.UsagePercentage("inspector"))
		set("orchestrator.usage_percentage", m.enforcer.UsagePercentage("orchestrator"))
	}

	report := m.health.sweep(time.Now())
	running := 0
	for _, ch := range report.Components {
		if ch.Status == types.HealthRunning {
			running++
		}
	}
	set("system.active_components", float64(running))
	if len(report.Components) > 0 {
		set("system.health_score", float64(running)/float64(len(report.Components)))
	}
	set("system.error_rate", m.health.errorRate())
}

// recentUsage sums tokens and cost over the last hour and cost over the
// last day.
func (m *Monitor) recentUsage() (hourTokens, hourCost, dayCost float64) {
	now := time.Now()
	hourCut := now.Add(-time.Hour)
	dayCut := now.Add(-24 * time.Hour)
	for _, rec := range m.accountant.Records() {
		if rec.Timestamp.After(dayCut) {
			dayCost += rec.Cost
		}
		if rec.Timestamp.After(hourCut) {
			hourTokens += float64(rec.TotalTokens)
			hourCost += rec.Cost
		}
	}
	return hourTokens, hourCost, dayCost
}

func rankSystem(status types.ComponentStatus) int {
	switch status {
	case types.StatusWarning:
		return 1
	case types.StatusCritical:
		return 2
	case types.StatusBlocked:
		return 3
	default:
		return 0
	}
}
