// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/tokenwatch/internal/bus"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *bus.Bus) {
	t.Helper()

	b := bus.New(zaptest.NewLogger(t))
	t.Cleanup(b.Close)

	cfg.Bus = b
	cfg.Logger = zaptest.NewLogger(t)
	e, err := New(cfg)
	require.NoError(t, err)
	return e, b
}

// hourBase returns a time safely inside the current hour window so repeated
// evaluations in a test never straddle an hourly boundary.
func hourBase() time.Time {
	return time.Now().Truncate(time.Hour).Add(5 * time.Minute)
}

func TestThresholdTriggersWarning(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 72))

	e.evaluate(hourBase())

	active := e.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "inspector-high-usage", active[0].RuleID)
	assert.Equal(t, "Inspector High Token Usage", active[0].Title)
	assert.Equal(t, SeverityWarning, active[0].Severity)
	assert.InDelta(t, 72, active[0].Values["inspector.usage_percentage"], 1e-9)
}

func TestNoTriggerBelowThreshold(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 50))

	e.evaluate(hourBase())
	assert.Empty(t, e.ActiveAlerts())
}

func TestMissingMetricFailsClosed(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	// No resolver values at all: nothing may trigger.
	e.evaluate(hourBase())
	assert.Empty(t, e.ActiveAlerts())
}

func TestCooldownSuppressesRetrigger(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 72))

	now := hourBase()
	e.evaluate(now)
	e.evaluate(now.Add(time.Minute))
	assert.Len(t, e.ActiveAlerts(), 1, "active alert inside cooldown suppresses re-trigger")
}

func TestEscalationAfterDelay(t *testing.T) {
	e, b := newTestEngine(t, Config{})
	sub, err := b.Subscribe(10, bus.EventAlertEscalated)
	require.NoError(t, err)

	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 72))
	now := hourBase()
	e.evaluate(now)
	require.Len(t, e.ActiveAlerts(), 1)

	// Under five minutes: nothing happens.
	e.evaluate(now.Add(2 * time.Minute))
	assert.Equal(t, SeverityWarning, e.ActiveAlerts()[0].Severity)

	// Five minutes without acknowledgment bumps severity to critical.
	e.evaluate(now.Add(5*time.Minute + time.Second))
	inst := e.ActiveAlerts()[0]
	assert.Equal(t, SeverityCritical, inst.Severity)
	assert.True(t, inst.Escalated)
	assert.Equal(t, 1, inst.EscalationLevel)

	select {
	case ev := <-sub.Channel:
		escalated := ev.Payload.(Instance)
		assert.Equal(t, SeverityCritical, escalated.Severity)
	default:
		t.Fatal("expected an escalation event")
	}
}

func TestAcknowledgeCancelsEscalation(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 72))

	now := hourBase()
	e.evaluate(now)
	id := e.ActiveAlerts()[0].ID

	require.NoError(t, e.Acknowledge(id, "operator"))
	require.NoError(t, e.Acknowledge(id, "operator"), "acknowledge is idempotent")

	e.evaluate(now.Add(9 * time.Minute))
	inst := e.ActiveAlerts()[0]
	assert.False(t, inst.Escalated, "acknowledged alerts do not escalate")
	assert.Equal(t, SeverityWarning, inst.Severity)
	assert.Equal(t, "operator", inst.AcknowledgedBy)
	require.NotNil(t, inst.AcknowledgedAt)
}

func TestResolveRemovesFromActive(t *testing.T) {
	e, b := newTestEngine(t, Config{})
	sub, err := b.Subscribe(10, bus.EventAlertResolved)
	require.NoError(t, err)

	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 72))
	e.evaluate(hourBase())
	id := e.ActiveAlerts()[0].ID

	require.NoError(t, e.Resolve(id, "usage dropped"))
	require.NoError(t, e.Resolve(id, "usage dropped"), "resolve is idempotent")
	assert.Empty(t, e.ActiveAlerts())

	// Still visible in history.
	hist := e.History(time.Hour)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Resolved)
	assert.Equal(t, "usage dropped", hist[0].Resolution)

	select {
	case <-sub.Channel:
	default:
		t.Fatal("expected a resolved event")
	}
}

func TestUnknownAlertIDErrors(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	assert.Error(t, e.Acknowledge("nope", ""))
	assert.Error(t, e.Resolve("nope", ""))
}

func TestFrequencyCap(t *testing.T) {
	rule := Rule{
		ID:       "freq-test",
		Name:     "Frequency Test",
		Kind:     KindThreshold,
		Severity: SeverityInfo,
		Conditions: []Condition{
			{Metric: "tokens.total_usage", Operator: OpGreater, Value: 0},
		},
		MaxFrequency: 4,
		Enabled:      true,
	}
	e, _ := newTestEngine(t, Config{Rules: []Rule{rule}})
	require.NoError(t, e.Resolver().Set("tokens.total_usage", 100))

	now := hourBase()
	for i := 0; i < 6; i++ {
		e.evaluateRule("freq-test", now.Add(time.Duration(i)*time.Minute))
	}
	assert.Len(t, e.ActiveAlerts(), 4, "fifth trigger in the hour is suppressed")

	// The hourly window rolls over and triggers flow again.
	e.evaluateRule("freq-test", now.Add(time.Hour))
	assert.Len(t, e.ActiveAlerts(), 5)
}

func TestChangeOperatorNeedsHistory(t *testing.T) {
	rule := Rule{
		ID:       "change-test",
		Name:     "Change Test",
		Kind:     KindTrend,
		Severity: SeverityInfo,
		Conditions: []Condition{
			{Metric: "cost.daily_total", Operator: OpChange, Value: 2},
		},
		Enabled: true,
	}
	e, _ := newTestEngine(t, Config{Rules: []Rule{rule}})

	now := hourBase()
	require.NoError(t, e.Resolver().Set("cost.daily_total", 10))
	e.evaluateRule("change-test", now)
	assert.Empty(t, e.ActiveAlerts(), "no previous sample means no trigger")

	require.NoError(t, e.Resolver().Set("cost.daily_total", 15))
	e.evaluateRule("change-test", now.Add(time.Minute))
	assert.Len(t, e.ActiveAlerts(), 1)
}

func TestAddRuleValidation(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	err := e.AddRule(Rule{
		ID:         "bad",
		Conditions: []Condition{{Metric: "made.up", Operator: OpGreater, Value: 1}},
	})
	assert.Error(t, err, "unknown metric is rejected at configuration time")

	err = e.AddRule(Rule{
		ID:         "bad-op",
		Conditions: []Condition{{Metric: "cost.daily_total", Operator: "~", Value: 1}},
	})
	assert.Error(t, err)
}

func TestRemoveRuleIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	before := len(e.Rules())
	require.Positive(t, before, "builtin rules are installed")

	e.RemoveRule("inspector-high-usage")
	assert.Len(t, e.Rules(), before-1)

	// Second removal is a no-op with the same effect.
	e.RemoveRule("inspector-high-usage")
	assert.Len(t, e.Rules(), before-1)
	for _, r := range e.Rules() {
		assert.NotEqual(t, "inspector-high-usage", r.ID)
	}

	// Removing an ID that never existed changes nothing.
	e.RemoveRule("absent")
	assert.Len(t, e.Rules(), before-1)
}

func TestConfiguredRuleOverridesBuiltin(t *testing.T) {
	override := Rule{
		ID:       "inspector-high-usage",
		Name:     "Inspector High Token Usage",
		Kind:     KindThreshold,
		Severity: SeverityCritical,
		Conditions: []Condition{
			{Metric: "inspector.usage_percentage", Operator: OpGreater, Value: 95},
		},
		Enabled: true,
	}
	e, _ := newTestEngine(t, Config{Rules: []Rule{override}})
	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 80))

	e.evaluate(hourBase())
	assert.Empty(t, e.ActiveAlerts(), "override raised the threshold to 95")
}

func TestActionRecordsOnInstance(t *testing.T) {
	e, _ := newTestEngine(t, Config{
		CheckInterval: time.Hour, // driven manually
		Notifications: NotificationConfig{EnableNudge: true},
	})
	require.NoError(t, e.Start(context.Background()))
	defer func() { require.NoError(t, e.Stop()) }()

	require.NoError(t, e.Resolver().Set("inspector.usage_percentage", 72))
	e.evaluate(hourBase())
	require.Len(t, e.ActiveAlerts(), 1)

	// The built-in rule runs log and emit actions through the drain queue.
	assert.Eventually(t, func() bool {
		return len(e.ActiveAlerts()[0].Actions) == 2
	}, 2*time.Second, 10*time.Millisecond)
	for _, rec := range e.ActiveAlerts()[0].Actions {
		assert.True(t, rec.Success)
	}
}

func TestRetentionSweep(t *testing.T) {
	e, _ := newTestEngine(t, Config{Retention: time.Hour})

	e.mu.Lock()
	old := &Instance{ID: "old", RuleID: "r", Timestamp: time.Now().Add(-2 * time.Hour)}
	fresh := &Instance{ID: "fresh", RuleID: "r", Timestamp: time.Now()}
	e.history = append(e.history, old, fresh)
	e.mu.Unlock()

	e.sweepRetention()

	hist := e.History(24 * time.Hour)
	require.Len(t, hist, 1)
	assert.Equal(t, "fresh", hist[0].ID)
}
