// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
)

const (
	// DefaultCheckInterval is the rule evaluation cadence.
	DefaultCheckInterval = 30 * time.Second
	// DefaultRetention bounds how long alert history is kept.
	DefaultRetention = 7 * 24 * time.Hour

	maxHistory = 1000
)

// Config configures the alerting engine.
type Config struct {
	Bus      *bus.Bus
	Logger   *zap.Logger
	Resolver *Resolver // optional; created empty when nil
	Store    *Store    // optional SQLite history; in-memory only when nil

	CheckInterval time.Duration
	Retention     time.Duration
	Rules         []Rule // evaluated alongside the built-ins; same ID overrides

	Notifications        NotificationConfig
	EnableSystemCommands bool
	HTTPClient           *http.Client
}

type freqWindow struct {
	windowStart time.Time
	count       int
}

type metricSample struct {
	value float64
	at    time.Time
}

type actionTask struct {
	spec    ActionSpec
	alertID string
}

// Engine evaluates alert rules on a timer, owns active alerts, and runs
// their actions through a drain queue so slow channels never stall
// evaluation.
type Engine struct {
	bus           *bus.Bus
	logger        *zap.Logger
	resolver      *Resolver
	store         *Store
	dispatcher    *dispatcher
	checkInterval time.Duration
	retention     time.Duration
	cron          *cron.Cron

	mu            sync.Mutex
	rules         map[string]*Rule
	active        map[string]*Instance
	history       []*Instance
	freq          map[string]*freqWindow
	prevSamples   map[string]metricSample

	actionQueue chan actionTask
	stopCh      chan struct{}
	doneCh      chan struct{}
	wg          sync.WaitGroup
	started     bool
}

// New creates an engine seeded with the built-in rules plus any configured
// ones. Rules naming unknown metrics fail here, at configuration time.
func New(cfg Config) (*Engine, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(cfg.Logger)
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	e := &Engine{
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		resolver:      cfg.Resolver,
		store:         cfg.Store,
		dispatcher:    newDispatcher(cfg.Logger, cfg.Bus, cfg.Notifications, cfg.EnableSystemCommands, cfg.HTTPClient),
		checkInterval: cfg.CheckInterval,
		retention:     cfg.Retention,
		rules:         make(map[string]*Rule),
		active:        make(map[string]*Instance),
		freq:          make(map[string]*freqWindow),
		prevSamples:   make(map[string]metricSample),
		actionQueue:   make(chan actionTask, 64),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	for _, r := range BuiltinRules() {
		rule := r
		e.rules[rule.ID] = &rule
	}
	for _, r := range cfg.Rules {
		if err := e.AddRule(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddRule validates and installs a rule. Re-adding an existing ID replaces
// it; the call is idempotent.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules[rule.ID] = &rule
	e.mu.Unlock()
	return nil
}

// RemoveRule uninstalls a rule. Removing an absent ID is a no-op, so a
// second call has the same effect and result as the first.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	delete(e.rules, id)
	e.mu.Unlock()
}

// Rules returns a snapshot of the installed rules, sorted by ID.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolver exposes the metric resolver so the integration layer can feed it.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Start launches the evaluation loop, the action drain, and the hourly
// retention sweep.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("alerting engine already started")
	}
	e.started = true
	e.mu.Unlock()

	e.cron = cron.New()
	if _, err := e.cron.AddFunc("@hourly", e.sweepRetention); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	e.cron.Start()

	e.wg.Add(2)
	go e.evaluateLoop(ctx)
	go e.drainActions()

	e.logger.Info("Alerting engine started",
		zap.Duration("check_interval", e.checkInterval),
		zap.Int("rules", len(e.Rules())))
	return nil
}

// Stop halts evaluation, drains in-flight actions, and closes the history
// store if one is attached.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	close(e.stopCh)
	if e.cron != nil {
		e.cron.Stop()
	}
	e.wg.Wait()
	close(e.doneCh)

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			return fmt.Errorf("failed to close alert store: %w", err)
		}
	}
	e.logger.Info("Alerting engine stopped")
	return nil
}

func (e *Engine) evaluateLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.evaluate(time.Now())
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		}
	}
}

// evaluate runs one pass: rule checks, then pending escalations.
func (e *Engine) evaluate(now time.Time) {
	e.mu.Lock()
	ruleIDs := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Strings(ruleIDs)
	e.mu.Unlock()

	for _, id := range ruleIDs {
		e.evaluateRule(id, now)
	}
	e.runPendingEscalations(now)
}

func (e *Engine) evaluateRule(id string, now time.Time) {
	e.mu.Lock()
	rule, ok := e.rules[id]
	if !ok || !rule.Enabled {
		e.mu.Unlock()
		return
	}
	r := *rule

	// Cooldown: an active alert from this rule younger than the cooldown
	// suppresses re-triggering.
	for _, inst := range e.active {
		if inst.RuleID == r.ID && !inst.Resolved && now.Sub(inst.Timestamp) < r.Cooldown {
			e.mu.Unlock()
			return
		}
	}

	// Frequency: the counter resets on hourly boundaries per rule.
	fw, ok := e.freq[r.ID]
	hourStart := now.Truncate(time.Hour)
	if !ok || !fw.windowStart.Equal(hourStart) {
		fw = &freqWindow{windowStart: hourStart}
		e.freq[r.ID] = fw
	}
	if r.MaxFrequency > 0 && fw.count >= r.MaxFrequency {
		e.mu.Unlock()
		return
	}
	prev := make(map[string]metricSample, len(r.Conditions))
	for _, c := range r.Conditions {
		prev[c.Metric] = e.prevSamples[c.Metric]
	}
	e.mu.Unlock()

	values := make(map[string]float64, len(r.Conditions))
	allTrue := true
	for _, c := range r.Conditions {
		v, resolved := e.resolver.Resolve(c.Metric)
		if !resolved {
			// Fail closed: never trigger on missing data.
			allTrue = false
			break
		}
		values[c.Metric] = v
		if !evalCondition(c, v, prev[c.Metric], now) {
			allTrue = false
			break
		}
	}

	e.mu.Lock()
	for metric, v := range values {
		e.prevSamples[metric] = metricSample{value: v, at: now}
	}
	e.mu.Unlock()

	if !allTrue {
		return
	}
	e.trigger(r, values, now, fw)
}

func (e *Engine) trigger(r Rule, values map[string]float64, now time.Time, fw *freqWindow) {
	parts := make([]string, 0, len(values))
	metrics := make([]string, 0, len(values))
	for m := range values {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		parts = append(parts, fmt.Sprintf("%s=%.2f", m, values[m]))
	}

	inst := &Instance{
		ID:        uuid.NewString(),
		RuleID:    r.ID,
		Timestamp: now,
		Severity:  r.Severity,
		Title:     r.Name,
		Message:   fmt.Sprintf("%s (%s)", r.Name, strings.Join(parts, ", ")),
		Values:    values,
	}

	e.mu.Lock()
	e.active[inst.ID] = inst
	e.history = append(e.history, inst)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	fw.count++
	e.mu.Unlock()

	e.logger.Info("Alert triggered",
		zap.String("alert_id", inst.ID),
		zap.String("rule_id", r.ID),
		zap.String("severity", string(inst.Severity)))

	e.bus.Publish(bus.EventAlertTriggered, *inst)
	e.persist(inst)
	e.enqueueActions(inst.ID, r.Actions)
}

// runPendingEscalations bumps active, unacknowledged, unresolved alerts
// whose next escalation delay has elapsed since trigger time.
func (e *Engine) runPendingEscalations(now time.Time) {
	type due struct {
		inst    *Instance
		actions []ActionSpec
	}
	var dues []due

	e.mu.Lock()
	for _, inst := range e.active {
		if inst.Acknowledged || inst.Resolved {
			continue
		}
		rule, ok := e.rules[inst.RuleID]
		if !ok || inst.EscalationLevel >= len(rule.Escalations) {
			continue
		}
		esc := rule.Escalations[inst.EscalationLevel]
		if now.Sub(inst.Timestamp) < esc.Delay {
			continue
		}
		inst.EscalationLevel++
		inst.Escalated = true
		if severityRank(esc.Severity) > severityRank(inst.Severity) {
			inst.Severity = esc.Severity
		}
		dues = append(dues, due{inst: inst, actions: esc.Actions})
	}
	e.mu.Unlock()

	for _, d := range dues {
		e.logger.Warn("Alert escalated",
			zap.String("alert_id", d.inst.ID),
			zap.String("rule_id", d.inst.RuleID),
			zap.Int("level", d.inst.EscalationLevel),
			zap.String("severity", string(d.inst.Severity)))
		e.bus.Publish(bus.EventAlertEscalated, *d.inst)
		e.persist(d.inst)
		e.enqueueActions(d.inst.ID, d.actions)
	}
}

// Acknowledge marks an alert acknowledged and stops further escalation.
// Idempotent; unknown IDs error.
func (e *Engine) Acknowledge(id, by string) error {
	e.mu.Lock()
	inst, ok := e.active[id]
	if !ok {
		inst = e.findHistoryLocked(id)
	}
	if inst == nil {
		e.mu.Unlock()
		return fmt.Errorf("alert not found: %s", id)
	}
	if inst.Acknowledged {
		e.mu.Unlock()
		return nil
	}
	now := time.Now()
	inst.Acknowledged = true
	inst.AcknowledgedBy = by
	inst.AcknowledgedAt = &now
	snapshot := *inst
	e.mu.Unlock()

	e.bus.Publish(bus.EventAlertAcknowledged, snapshot)
	e.persist(&snapshot)
	return nil
}

// Resolve marks an alert resolved and removes it from the active set.
// Idempotent; unknown IDs error.
func (e *Engine) Resolve(id, resolution string) error {
	e.mu.Lock()
	inst, ok := e.active[id]
	if !ok {
		inst = e.findHistoryLocked(id)
	}
	if inst == nil {
		e.mu.Unlock()
		return fmt.Errorf("alert not found: %s", id)
	}
	if inst.Resolved {
		e.mu.Unlock()
		return nil
	}
	now := time.Now()
	inst.Resolved = true
	inst.ResolvedAt = &now
	inst.Resolution = resolution
	delete(e.active, id)
	snapshot := *inst
	e.mu.Unlock()

	e.bus.Publish(bus.EventAlertResolved, snapshot)
	e.persist(&snapshot)
	return nil
}

func (e *Engine) findHistoryLocked(id string) *Instance {
	for _, inst := range e.history {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// ActiveAlerts returns unresolved alerts, newest first.
func (e *Engine) ActiveAlerts() []Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Instance, 0, len(e.active))
	for _, inst := range e.active {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// History returns alerts triggered within the window, newest first.
func (e *Engine) History(window time.Duration) []Instance {
	cutoff := time.Now().Add(-window)
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Instance
	for _, inst := range e.history {
		if inst.Timestamp.After(cutoff) {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (e *Engine) enqueueActions(alertID string, specs []ActionSpec) {
	for _, spec := range specs {
		select {
		case e.actionQueue <- actionTask{spec: spec, alertID: alertID}:
		default:
			e.logger.Warn("Action queue full, dropping action",
				zap.String("alert_id", alertID),
				zap.String("kind", string(spec.Kind)))
		}
	}
}

func (e *Engine) drainActions() {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.actionQueue:
			e.runAction(task)
		case <-e.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case task := <-e.actionQueue:
					e.runAction(task)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) runAction(task actionTask) {
	e.mu.Lock()
	inst, ok := e.active[task.alertID]
	if !ok {
		inst = e.findHistoryLocked(task.alertID)
	}
	if inst == nil {
		e.mu.Unlock()
		return
	}
	snapshot := *inst
	e.mu.Unlock()

	rec := e.dispatcher.execute(task.spec, &snapshot)

	e.mu.Lock()
	inst.Actions = append(inst.Actions, rec)
	snapshot = *inst
	e.mu.Unlock()
	e.persist(&snapshot)
}

// persist writes one instance to the history store, if attached.
func (e *Engine) persist(inst *Instance) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.SaveAlert(ctx, inst); err != nil {
		e.logger.Error("Failed to persist alert",
			zap.String("alert_id", inst.ID),
			zap.Error(err))
	}
}

// sweepRetention prunes alert history and stale frequency counters.
func (e *Engine) sweepRetention() {
	cutoff := time.Now().Add(-e.retention)

	e.mu.Lock()
	kept := e.history[:0]
	for _, inst := range e.history {
		if inst.Timestamp.After(cutoff) {
			kept = append(kept, inst)
		}
	}
	pruned := len(e.history) - len(kept)
	e.history = kept

	staleCutoff := time.Now().Add(-2 * time.Hour)
	for id, fw := range e.freq {
		if fw.windowStart.Before(staleCutoff) {
			delete(e.freq, id)
		}
	}
	e.mu.Unlock()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := e.store.PruneOlderThan(ctx, cutoff)
		if err != nil {
			e.logger.Error("Failed to prune alert store", zap.Error(err))
		} else if removed > 0 {
			e.logger.Debug("Pruned alert store", zap.Int64("removed", removed))
		}
	}
	if pruned > 0 {
		e.logger.Debug("Pruned alert history", zap.Int("removed", pruned))
	}
}

// evalCondition applies one condition's operator to the resolved value.
// change and rate compare against the sample from the previous evaluation;
// with no prior sample they are false.
func evalCondition(c Condition, value float64, prev metricSample, now time.Time) bool {
	switch c.Operator {
	case OpGreater:
		return value > c.Value
	case OpGreaterEqual:
		return value >= c.Value
	case OpLess:
		return value < c.Value
	case OpLessEqual:
		return value <= c.Value
	case OpEqual:
		return value == c.Value
	case OpNotEqual:
		return value != c.Value
	case OpChange:
		if prev.at.IsZero() {
			return false
		}
		return math.Abs(value-prev.value) >= c.Value
	case OpRate:
		if prev.at.IsZero() {
			return false
		}
		minutes := now.Sub(prev.at).Minutes()
		if minutes <= 0 {
			return false
		}
		return math.Abs(value-prev.value)/minutes >= c.Value
	default:
		return false
	}
}
