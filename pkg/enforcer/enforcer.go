// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package enforcer tracks short-window token caps for named components
// (typically "inspector" and "orchestrator") and emits enforcement events
// when a component crosses a threshold. Over-recording past the limit is
// accepted and surfaced, never silently dropped.
package enforcer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// DefaultWindow is the rolling cap window.
const DefaultWindow = 24 * time.Hour

// Threshold ladder as fractions of the limit.
const (
	warningThreshold  = 0.70
	criticalThreshold = 0.90
	blockedThreshold  = 1.00
)

// ActionKind describes what an enforcement event asks for.
type ActionKind string

const (
	// ActionAdvise is the default advisory action: emit and let consumers react.
	ActionAdvise ActionKind = "advise"
	// ActionThrottle asks the component to slow down.
	ActionThrottle ActionKind = "throttle"
	// ActionBlock asks the component to stop issuing requests.
	ActionBlock ActionKind = "block"
)

// Action is the descriptor attached to an enforcement event. Invasive
// handling (killing processes, closing sessions) stays disabled unless
// explicitly enabled in config; the descriptor itself is always advisory.
type Action struct {
	Component string
	Kind      ActionKind
	Status    types.ComponentStatus
	Usage     int
	Limit     int
	Invasive  bool
}

// CapConfig declares one enforced component.
type CapConfig struct {
	Component string        `mapstructure:"component"`
	Limit     int           `mapstructure:"limit"`
	Window    time.Duration `mapstructure:"window"` // default: 24h rolling
}

// Config configures the enforcer.
type Config struct {
	Bus             *bus.Bus
	Logger          *zap.Logger
	Caps            []CapConfig
	EnableInvasive  bool // gate for invasive action descriptors
	DefaultLimit    int  // limit for components first seen at record time
	DefaultWindowOverride time.Duration
}

// ComponentState is the reported state of one capped component.
type ComponentState struct {
	Component    string                `json:"component"`
	CurrentUsage int                   `json:"current_usage"`
	Limit        int                   `json:"limit"`
	Percentage   float64               `json:"percentage"`
	Status       types.ComponentStatus `json:"status"`
	LastUpdate   time.Time             `json:"last_update"`
	WindowReset  time.Time             `json:"window_reset"`
}

// Status is the system-level enforcement report.
type Status struct {
	Components         []ComponentState      `json:"components"`
	SystemStatus       types.ComponentStatus `json:"system_status"`
	ActiveEnforcements int                   `json:"active_enforcements"`
	ActionsCount       int64                 `json:"actions_count"`
	Timestamp          time.Time             `json:"timestamp"`
}

type componentUsage struct {
	limit       int
	window      time.Duration
	current     int
	status      types.ComponentStatus
	lastUpdate  time.Time
	windowStart time.Time
}

// Enforcer owns the per-component windowed counters.
type Enforcer struct {
	bus            *bus.Bus
	logger         *zap.Logger
	enableInvasive bool
	defaultLimit   int
	defaultWindow  time.Duration

	mu         sync.Mutex
	components map[string]*componentUsage
	actions    int64
}

// New creates an enforcer. Bus is required; components named in Caps are
// registered immediately.
func New(cfg Config) (*Enforcer, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100000
	}
	window := cfg.DefaultWindowOverride
	if window <= 0 {
		window = DefaultWindow
	}

	e := &Enforcer{
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		enableInvasive: cfg.EnableInvasive,
		defaultLimit:   cfg.DefaultLimit,
		defaultWindow:  window,
		components:     make(map[string]*componentUsage),
	}
	for _, cc := range cfg.Caps {
		if cc.Component == "" {
			return nil, fmt.Errorf("cap component name is required")
		}
		if cc.Limit <= 0 {
			return nil, fmt.Errorf("cap for %q needs a positive limit", cc.Component)
		}
		w := cc.Window
		if w <= 0 {
			w = window
		}
		e.components[cc.Component] = &componentUsage{
			limit:       cc.Limit,
			window:      w,
			status:      types.StatusNormal,
			windowStart: time.Now(),
		}
	}
	return e, nil
}

// RecordUsage adds tokens to a component's window. Unknown components are
// registered with the default limit. Crossing a threshold upward emits an
// enforcement event; usage beyond the limit is still accepted.
func (e *Enforcer) RecordUsage(component string, tokens int, metadata map[string]string) {
	if tokens <= 0 {
		return
	}
	now := time.Now()

	e.mu.Lock()
	cu, ok := e.components[component]
	if !ok {
		cu = &componentUsage{
			limit:       e.defaultLimit,
			window:      e.defaultWindow,
			status:      types.StatusNormal,
			windowStart: now,
		}
		e.components[component] = cu
	}

	e.maybeResetLocked(cu, now)

	prev := cu.status
	cu.current += tokens
	cu.lastUpdate = now
	cu.status = statusFor(cu.current, cu.limit)

	var action *Action
	if rank(cu.status) > rank(prev) {
		e.actions++
		action = &Action{
			Component: component,
			Kind:      actionFor(cu.status),
			Status:    cu.status,
			Usage:     cu.current,
			Limit:     cu.limit,
			Invasive:  e.enableInvasive && cu.status == types.StatusBlocked,
		}
	}
	e.mu.Unlock()

	if action != nil {
		e.logger.Warn("Enforcement threshold crossed",
			zap.String("component", component),
			zap.String("status", string(action.Status)),
			zap.Int("usage", action.Usage),
			zap.Int("limit", action.Limit))
		e.bus.Publish(bus.EventEnforcementTriggered, *action)
		e.bus.Publish(bus.EventDataUpdate, nil)
	}
}

// GetCurrentStatus returns every component's windowed state plus the
// system-level rollup.
func (e *Enforcer) GetCurrentStatus() Status {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		SystemStatus: types.StatusNormal,
		ActionsCount: e.actions,
		Timestamp:    now,
	}
	names := make([]string, 0, len(e.components))
	for name := range e.components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cu := e.components[name]
		e.maybeResetLocked(cu, now)

		pct := 0.0
		if cu.limit > 0 {
			pct = float64(cu.current) / float64(cu.limit) * 100
		}
		st.Components = append(st.Components, ComponentState{
			Component:    name,
			CurrentUsage: cu.current,
			Limit:        cu.limit,
			Percentage:   pct,
			Status:       cu.status,
			LastUpdate:   cu.lastUpdate,
			WindowReset:  cu.windowStart.Add(cu.window),
		})
		if rank(cu.status) > rank(st.SystemStatus) {
			st.SystemStatus = cu.status
		}
		if cu.status == types.StatusCritical || cu.status == types.StatusBlocked {
			st.ActiveEnforcements++
		}
	}
	return st
}

// UsagePercentage returns a component's current window percentage, for the
// alerting resolver. Unknown components report zero.
func (e *Enforcer) UsagePercentage(component string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	cu, ok := e.components[component]
	if !ok || cu.limit <= 0 {
		return 0
	}
	e.maybeResetLocked(cu, time.Now())
	return float64(cu.current) / float64(cu.limit) * 100
}

// maybeResetLocked clears the counter at the window boundary. Status is
// monotonic within a window and recomputes only here and on record.
func (e *Enforcer) maybeResetLocked(cu *componentUsage, now time.Time) {
	if now.Sub(cu.windowStart) < cu.window {
		return
	}
	cu.current = 0
	cu.status = types.StatusNormal
	cu.windowStart = now
}

func statusFor(usage, limit int) types.ComponentStatus {
	if limit <= 0 {
		return types.StatusNormal
	}
	frac := float64(usage) / float64(limit)
	switch {
	case frac >= blockedThreshold:
		return types.StatusBlocked
	case frac >= criticalThreshold:
		return types.StatusCritical
	case frac >= warningThreshold:
		return types.StatusWarning
	default:
		return types.StatusNormal
	}
}

func actionFor(status types.ComponentStatus) ActionKind {
	switch status {
	case types.StatusBlocked:
		return ActionBlock
	case types.StatusCritical:
		return ActionThrottle
	default:
		return ActionAdvise
	}
}

func rank(status types.ComponentStatus) int {
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
