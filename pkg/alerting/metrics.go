// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// resolverTTL bounds resolver pressure during bursty checks. An alert
// triggered at time t observes values sampled no earlier than t - TTL.
const resolverTTL = 60 * time.Second

// knownMetrics is the closed set of exact metric names rules may reference.
// Component families (inspector.*, orchestrator.*) are matched by prefix.
var knownMetrics = map[string]struct{}{
	"provider.daily_usage_percentage":   {},
	"provider.weekly_usage_percentage":  {},
	"provider.monthly_usage_percentage": {},
	"cost.hourly_total":                 {},
	"cost.daily_total":                  {},
	"cost.cost_rate":                    {},
	"tokens.usage_rate":                 {},
	"tokens.total_usage":                {},
	"tokens.efficiency_score":           {},
	"projection.cost_increase_rate":     {},
	"projection.usage_increase_rate":    {},
	"projection.confidence_score":       {},
	"enforcement.actions_count":         {},
	"enforcement.active_enforcements":   {},
	"enforcement.escalation_level":      {},
	"system.health_score":               {},
	"system.active_components":          {},
	"system.error_rate":                 {},
}

var componentFamilies = []string{"inspector.", "orchestrator."}

// IsKnownMetric reports whether a metric name belongs to the closed metric
// namespace. Rules naming anything else are rejected at configuration time.
func IsKnownMetric(name string) bool {
	if _, ok := knownMetrics[name]; ok {
		return true
	}
	for _, prefix := range componentFamilies {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return true
		}
	}
	return false
}

// ResolverFunc produces the current value for one metric.
type ResolverFunc func() (float64, error)

type cachedValue struct {
	value float64
	at    time.Time
}

// Resolver maps metric names to values. Values arrive two ways: registered
// pull functions, and pushes from the integration feeder. Either way reads
// are served from a TTL cache.
type Resolver struct {
	logger *zap.Logger
	ttl    time.Duration

	mu    sync.RWMutex
	funcs map[string]ResolverFunc
	cache map[string]cachedValue
}

// NewResolver creates an empty resolver with the default 60 s TTL.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		logger: logger,
		ttl:    resolverTTL,
		funcs:  make(map[string]ResolverFunc),
		cache:  make(map[string]cachedValue),
	}
}

// Register binds a pull function to a metric name. Unknown names are
// rejected so the namespace stays closed.
func (r *Resolver) Register(metric string, fn ResolverFunc) error {
	if !IsKnownMetric(metric) {
		return fmt.Errorf("unknown metric %q", metric)
	}
	if fn == nil {
		return fmt.Errorf("resolver for %q is nil", metric)
	}
	r.mu.Lock()
	r.funcs[metric] = fn
	r.mu.Unlock()
	return nil
}

// Set pushes a value into the cache, stamped now. The integration feeder
// uses this to keep provider and enforcement metrics fresh.
func (r *Resolver) Set(metric string, value float64) error {
	if !IsKnownMetric(metric) {
		return fmt.Errorf("unknown metric %q", metric)
	}
	r.mu.Lock()
	r.cache[metric] = cachedValue{value: value, at: time.Now()}
	r.mu.Unlock()
	return nil
}

// Resolve returns the metric's value and whether one is available. Missing
// data resolves to (0, false), which conditions treat as false.
func (r *Resolver) Resolve(metric string) (float64, bool) {
	now := time.Now()

	r.mu.RLock()
	cached, hit := r.cache[metric]
	fn := r.funcs[metric]
	r.mu.RUnlock()

	if hit && now.Sub(cached.at) < r.ttl {
		return cached.value, true
	}
	// A pushed value past its TTL is treated as missing so alerts never
	// observe values older than the TTL window.
	if fn == nil {
		return 0, false
	}

	value, err := fn()
	if err != nil {
		r.logger.Debug("Metric resolver failed",
			zap.String("metric", metric),
			zap.Error(err))
		return 0, false
	}

	r.mu.Lock()
	r.cache[metric] = cachedValue{value: value, at: now}
	r.mu.Unlock()
	return value, true
}

// Invalidate drops the cached value for a metric so the next Resolve pulls.
func (r *Resolver) Invalidate(metric string) {
	r.mu.Lock()
	delete(r.cache, metric)
	r.mu.Unlock()
}
