// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package accountant attributes detected usage to a provider/model/agent
// triple, prices it, persists it, and answers rolled-up queries. The record
// store is the only mutable state shared across components; it is serialized
// under a single RWMutex and readers always see a consistent snapshot.
package accountant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// DefaultRetention is the rolling record retention window.
const DefaultRetention = 30 * 24 * time.Hour

// Sentinel errors for locally-absorbed record failures.
var (
	ErrNoTokens         = fmt.Errorf("record has zero tokens")
	ErrNegativeTokens   = fmt.Errorf("record has negative tokens")
	ErrUnattributed     = fmt.Errorf("no provider matches record metadata")
	ErrProviderDisabled = fmt.Errorf("provider is disabled")
)

// Config configures the accountant.
type Config struct {
	Bus           *bus.Bus
	Logger        *zap.Logger
	PersistPath   string        // empty disables persistence
	Retention     time.Duration // default: 30 days
	PricingSource PricingSource // optional, enables auto pricing refresh
	Providers     []*Provider   // default: BuiltinProviders()
}

// Accountant owns providers and usage records.
type Accountant struct {
	bus           *bus.Bus
	logger        *zap.Logger
	persistPath   string
	retention     time.Duration
	pricingSource PricingSource

	mu        sync.RWMutex
	providers map[string]*Provider
	order     []string // provider iteration order
	records   []types.UsageRecord

	saveCh chan struct{}
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// LimitEvent is the payload of limit:warning and limit:exceeded events.
type LimitEvent struct {
	Provider   string
	Agent      string
	Tokens     int
	Limit      int
	Percentage float64
}

// New creates an accountant. Bus is required.
func New(cfg Config) (*Accountant, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Providers == nil {
		cfg.Providers = BuiltinProviders()
	}

	a := &Accountant{
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		persistPath:   cfg.PersistPath,
		retention:     cfg.Retention,
		pricingSource: cfg.PricingSource,
		providers:     make(map[string]*Provider),
		saveCh:        make(chan struct{}, 1),
	}
	for _, p := range cfg.Providers {
		if err := a.addProviderLocked(p); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Start loads persisted state and launches the persistence worker, hourly
// retention sweep, and pricing refresh loop.
func (a *Accountant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.persistPath != "" {
		if err := a.load(); err != nil {
			return fmt.Errorf("failed to load persisted usage: %w", err)
		}
		a.wg.Add(1)
		go a.persistWorker()
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc("@hourly", a.sweepRetention); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	a.cron.Start()

	if a.pricingSource != nil {
		if interval := a.minPricingInterval(); interval > 0 {
			a.wg.Add(1)
			go a.pricingRefreshLoop(interval)
		}
	}

	a.logger.Info("Accountant started",
		zap.Int("providers", len(a.order)),
		zap.Int("records", a.RecordCount()),
		zap.String("persist_path", a.persistPath))
	return nil
}

// Stop flushes persistence and releases background tasks. The most recent
// committed record is never lost on clean shutdown.
func (a *Accountant) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	a.wg.Wait()

	if a.persistPath != "" {
		if err := a.save(); err != nil {
			return fmt.Errorf("final save failed: %w", err)
		}
	}
	a.logger.Info("Accountant stopped")
	return nil
}

// RecordDetection attributes and commits a detection event. Attribution
// failures are returned to the caller and otherwise absorbed: logged at
// warn, no record synthesized.
func (a *Accountant) RecordDetection(ev types.DetectionEvent) (*types.UsageRecord, error) {
	blob := attributionBlob(ev)
	providerID, modelID := attribute(blob)
	if providerID == "" {
		a.logger.Warn("Dropping unattributable detection",
			zap.String("source_id", ev.SourceID),
			zap.String("pattern", ev.Pattern))
		return nil, ErrUnattributed
	}

	input, output := ev.InputTokens, ev.OutputTokens
	if input == 0 && output == 0 {
		// Only a total was extracted; book it as output.
		output = ev.TotalTokens
	}

	agent := ev.Metadata.Agent
	if agent == "" {
		agent = ev.SourceID
	}
	operation := ev.Metadata.Operation
	if operation == "" {
		operation = "detected"
	}

	meta := ev.Metadata
	meta.Provider = providerID
	meta.Model = modelID
	return a.commit(providerID, modelID, agent, operation, input, output, ev.Timestamp, meta)
}

// RecordUsage commits a directly-reported usage.
func (a *Accountant) RecordUsage(providerID, modelID, agent, operation string, inputTokens, outputTokens int, extra map[string]string) (*types.UsageRecord, error) {
	meta := types.MetadataEnvelope{
		Provider:  providerID,
		Model:     modelID,
		Operation: operation,
		Agent:     agent,
		Extra:     extra,
	}
	return a.commit(providerID, modelID, agent, operation, inputTokens, outputTokens, time.Now(), meta)
}

// commit validates, prices, and appends a usage record, then emits events.
func (a *Accountant) commit(providerID, modelID, agent, operation string, input, output int, ts time.Time, meta types.MetadataEnvelope) (*types.UsageRecord, error) {
	if input < 0 || output < 0 {
		return nil, ErrNegativeTokens
	}
	if input == 0 && output == 0 {
		return nil, ErrNoTokens
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	a.mu.Lock()
	provider, ok := a.providers[providerID]
	if !ok {
		a.mu.Unlock()
		a.logger.Warn("Dropping record for unknown provider", zap.String("provider", providerID))
		return nil, ErrUnattributed
	}
	if !provider.Enabled {
		a.mu.Unlock()
		a.logger.Warn("Dropping record for disabled provider", zap.String("provider", providerID))
		return nil, ErrProviderDisabled
	}

	model := provider.Model(modelID)
	if model == nil {
		if len(provider.Models) == 0 {
			a.mu.Unlock()
			return nil, fmt.Errorf("provider %q has no models", providerID)
		}
		model = &provider.Models[0]
	}

	record := types.UsageRecord{
		ID:           uuid.New().String(),
		Timestamp:    ts,
		Provider:     providerID,
		Model:        model.ID,
		Agent:        agent,
		Operation:    operation,
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
		Cost:         float64(input)/1000*model.Pricing.InputPer1K + float64(output)/1000*model.Pricing.OutputPer1K,
		Currency:     provider.Pricing.Currency,
		Metadata:     meta,
	}
	a.records = append(a.records, record)

	// Re-evaluate the producing agent's daily usage while the lock is held;
	// events fire after release.
	dayStart := ts.Add(-24 * time.Hour)
	agentDaily := 0
	for _, r := range a.records {
		if r.Provider == providerID && r.Agent == agent && r.Timestamp.After(dayStart) {
			agentDaily += r.TotalTokens
		}
	}
	limit := provider.Limits.TokensPerDay
	a.mu.Unlock()

	a.requestSave()
	a.bus.Publish(bus.EventUsageRecorded, record)
	a.bus.Publish(bus.EventDataUpdate, nil)

	if limit > 0 {
		pct := float64(agentDaily) / float64(limit) * 100
		ev := LimitEvent{Provider: providerID, Agent: agent, Tokens: agentDaily, Limit: limit, Percentage: pct}
		switch {
		case pct > 100:
			a.bus.Publish(bus.EventLimitExceeded, ev)
		case pct > 90:
			a.bus.Publish(bus.EventLimitWarning, ev)
		}
	}

	return &record, nil
}

// attributionBlob serializes detection metadata to a lowercased search blob.
func attributionBlob(ev types.DetectionEvent) string {
	parts := []string{ev.Metadata.Provider, ev.Metadata.Model, ev.Metadata.Operation, ev.Metadata.Agent, ev.Line}
	for k, v := range ev.Metadata.Extra {
		parts = append(parts, k, v)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// attribute walks the built-in provider patterns; the first gate match
// chooses the provider and the first model regex match the model. An empty
// model id defers to the provider's first model.
func attribute(blob string) (providerID, modelID string) {
	for _, pp := range attributionPatterns {
		if !pp.gate.MatchString(blob) {
			continue
		}
		for _, mp := range pp.models {
			if mp.re.MatchString(blob) {
				return pp.providerID, mp.modelID
			}
		}
		return pp.providerID, ""
	}
	return "", ""
}

// AddProvider registers a provider at runtime.
func (a *Accountant) AddProvider(p *Provider) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addProviderLocked(p)
}

func (a *Accountant) addProviderLocked(p *Provider) error {
	if p.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("provider %q needs at least one model", p.ID)
	}
	if _, exists := a.providers[p.ID]; exists {
		return fmt.Errorf("provider %q already registered", p.ID)
	}
	a.providers[p.ID] = p
	a.order = append(a.order, p.ID)
	return nil
}

// SetProviderEnabled toggles a provider.
func (a *Accountant) SetProviderEnabled(id string, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.providers[id]
	if !ok {
		return fmt.Errorf("provider %q not found", id)
	}
	p.Enabled = enabled
	return nil
}

// Providers returns a snapshot of the provider catalog in registration order.
func (a *Accountant) Providers() []*Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Provider, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.providers[id].clone())
	}
	return out
}

// RecordCount returns the number of retained records.
func (a *Accountant) RecordCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Records returns a copy of all retained records sorted by timestamp.
func (a *Accountant) Records() []types.UsageRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.UsageRecord, len(a.records))
	copy(out, a.records)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// TotalUsage returns fleet-wide token and cost totals.
func (a *Accountant) TotalUsage() types.Usage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var u types.Usage
	for _, r := range a.records {
		u.InputTokens += r.InputTokens
		u.OutputTokens += r.OutputTokens
		u.TotalTokens += r.TotalTokens
		u.CostUSD += r.Cost
	}
	return u
}

// ActiveAgents returns the distinct agents seen in the given window.
func (a *Accountant) ActiveAgents(window time.Duration) []string {
	cutoff := time.Now().Add(-window)

	a.mu.RLock()
	defer a.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range a.records {
		if r.Timestamp.After(cutoff) {
			seen[r.Agent] = struct{}{}
		}
	}
	agents := make([]string, 0, len(seen))
	for agent := range seen {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	return agents
}

// requestSave signals the persistence worker without blocking.
func (a *Accountant) requestSave() {
	if a.persistPath == "" {
		return
	}
	select {
	case a.saveCh <- struct{}{}:
	default:
	}
}

// sweepRetention drops records older than the retention window.
func (a *Accountant) sweepRetention() {
	cutoff := time.Now().Add(-a.retention)

	a.mu.Lock()
	kept := a.records[:0]
	for _, r := range a.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	dropped := len(a.records) - len(kept)
	a.records = kept
	a.mu.Unlock()

	if dropped > 0 {
		a.logger.Info("Retention sweep pruned usage records", zap.Int("dropped", dropped))
		a.requestSave()
	}
}
