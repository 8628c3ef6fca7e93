// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package monitor

import (
	"sync"
	"time"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// Staleness ladder: a component not updated for degradedAfter becomes
// degraded; one stuck in error for stoppedAfter becomes stopped.
const (
	degradedAfter = 30 * time.Second
	stoppedAfter  = 60 * time.Second
)

// ComponentHealth is the tracked state of one component.
type ComponentHealth struct {
	Status     types.HealthStatus `json:"status"`
	LastCheck  time.Time          `json:"last_check"`
	ErrorCount int                `json:"error_count"`
	LastError  string             `json:"last_error,omitempty"`
}

// SystemHealth is the aggregate health report.
type SystemHealth struct {
	Status     types.SystemStatus         `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// healthTracker owns per-component health state. Components touch it when
// they do work; the monitor's periodic check applies the staleness ladder.
type healthTracker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	errorSince map[string]time.Time
}

func newHealthTracker(names ...string) *healthTracker {
	h := &healthTracker{
		components: make(map[string]*ComponentHealth),
		errorSince: make(map[string]time.Time),
	}
	now := time.Now()
	for _, name := range names {
		h.components[name] = &ComponentHealth{
			Status:    types.HealthRunning,
			LastCheck: now,
		}
	}
	return h
}

// touch marks a component alive now.
func (h *healthTracker) touch(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.components[name]
	if !ok {
		ch = &ComponentHealth{}
		h.components[name] = ch
	}
	ch.Status = types.HealthRunning
	ch.LastCheck = time.Now()
	delete(h.errorSince, name)
}

// fail records an error on a component.
func (h *healthTracker) fail(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.components[name]
	if !ok {
		ch = &ComponentHealth{}
		h.components[name] = ch
	}
	ch.Status = types.HealthError
	ch.ErrorCount++
	ch.LastError = err.Error()
	ch.LastCheck = time.Now()
	if _, ok := h.errorSince[name]; !ok {
		h.errorSince[name] = time.Now()
	}
}

// markStopped records a deliberate stop.
func (h *healthTracker) markStopped(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.components[name]; ok {
		ch.Status = types.HealthStopped
		ch.LastCheck = time.Now()
	}
}

// sweep applies the staleness ladder and returns the aggregate report.
func (h *healthTracker) sweep(now time.Time) SystemHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := SystemHealth{
		Status:     types.SystemHealthy,
		Components: make(map[string]ComponentHealth, len(h.components)),
		Timestamp:  now,
	}
	for name, ch := range h.components {
		if ch.Status == types.HealthError {
			if since, ok := h.errorSince[name]; ok && now.Sub(since) >= stoppedAfter {
				ch.Status = types.HealthStopped
			}
		} else if ch.Status == types.HealthRunning && now.Sub(ch.LastCheck) >= degradedAfter {
			ch.Status = types.HealthDegraded
		}

		report.Components[name] = *ch
		switch ch.Status {
		case types.HealthDegraded:
			if report.Status == types.SystemHealthy {
				report.Status = types.SystemDegraded
			}
		case types.HealthStopped, types.HealthError:
			report.Status = types.SystemCritical
		}
	}
	return report
}

// errorRate returns errors per component, for the system.error_rate metric.
func (h *healthTracker) errorRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.components) == 0 {
		return 0
	}
	total := 0
	for _, ch := range h.components {
		total += ch.ErrorCount
	}
	return float64(total) / float64(len(h.components))
}
