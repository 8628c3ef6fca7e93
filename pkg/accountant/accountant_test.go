// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package accountant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/tokenwatch/internal/bus"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

func newTestAccountant(t *testing.T, cfg Config) (*Accountant, *bus.Bus) {
	t.Helper()

	b := bus.New(zaptest.NewLogger(t))
	t.Cleanup(b.Close)

	cfg.Bus = b
	cfg.Logger = zaptest.NewLogger(t)
	a, err := New(cfg)
	require.NoError(t, err)
	return a, b
}

// backdate inserts a record with a fixed timestamp, bypassing the clock.
func backdate(a *Accountant, r types.UsageRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

func TestRecordDetectionAttributionAndCost(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})

	rec, err := a.RecordDetection(types.DetectionEvent{
		Source:       types.SourceTerminal,
		SourceID:     "main:0.1",
		Line:         "anthropic usage: tokens: 1500 input: 1000 output: 500 model: claude-3-5-sonnet",
		InputTokens:  1000,
		OutputTokens: 500,
		TotalTokens:  1500,
		Timestamp:    time.Now(),
		Metadata:     types.MetadataEnvelope{Model: "claude-3-5-sonnet"},
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-code", rec.Provider)
	assert.Equal(t, "claude-3-5-sonnet-20241022", rec.Model)
	assert.Equal(t, 1500, rec.TotalTokens)
	assert.InDelta(t, 0.0105, rec.Cost, 1e-9)
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, "main:0.1", rec.Agent)
}

func TestRecordInvariants(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})

	rec, err := a.RecordUsage("openai", "gpt-4o", "agent-1", "chat", 300, 200, nil)
	require.NoError(t, err)
	assert.Equal(t, rec.TotalTokens, rec.InputTokens+rec.OutputTokens)
	assert.GreaterOrEqual(t, rec.Cost, 0.0)
	assert.NotEmpty(t, rec.ID)
}

func TestRecordRejectsZeroAndNegative(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})

	_, err := a.RecordUsage("openai", "gpt-4o", "agent-1", "chat", 0, 0, nil)
	assert.ErrorIs(t, err, ErrNoTokens)

	_, err = a.RecordUsage("openai", "gpt-4o", "agent-1", "chat", -1, 10, nil)
	assert.ErrorIs(t, err, ErrNegativeTokens)

	assert.Zero(t, a.RecordCount())
}

func TestRecordDisabledProviderDropped(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})
	require.NoError(t, a.SetProviderEnabled("gemini", false))

	_, err := a.RecordUsage("gemini", "gemini-1.5-pro", "agent-1", "chat", 100, 50, nil)
	assert.ErrorIs(t, err, ErrProviderDisabled)
}

func TestRecordDetectionUnattributedDropped(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})

	_, err := a.RecordDetection(types.DetectionEvent{
		SourceID:    "f",
		Line:        "some mystery vendor: 500 tokens",
		TotalTokens: 500,
	})
	assert.ErrorIs(t, err, ErrUnattributed)
	assert.Zero(t, a.RecordCount())
}

func TestAttributeDefaultsToFirstModel(t *testing.T) {
	provider, model := attribute("openai call finished")
	assert.Equal(t, "openai", provider)
	assert.Empty(t, model)

	a, _ := newTestAccountant(t, Config{})
	rec, err := a.RecordDetection(types.DetectionEvent{
		SourceID:    "f",
		Line:        "openai call: 400 tokens",
		TotalTokens: 400,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", rec.Model, "provider's first model is the default")
}

func TestProviderUsageTotalsMatchRecords(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})

	total := 0
	for i := 0; i < 5; i++ {
		rec, err := a.RecordUsage("claude-code", "claude-3-5-haiku-20241022", "agent-1", "chat", 100*(i+1), 50, nil)
		require.NoError(t, err)
		total += rec.TotalTokens
	}

	usage := a.GetProviderUsage()
	var claude *ProviderUsage
	for i := range usage {
		if usage[i].ProviderID == "claude-code" {
			claude = &usage[i]
		}
	}
	require.NotNil(t, claude)
	assert.Equal(t, total, claude.TotalTokens)
	assert.Equal(t, 5, claude.TotalRequests)
	assert.InDelta(t, float64(total)/5, claude.AvgTokensPerRequest, 1e-9)
}

func TestProviderStatusLadder(t *testing.T) {
	tests := []struct {
		pct  float64
		want types.ProviderStatus
	}{
		{10, types.ProviderHealthy},
		{60, types.ProviderHealthy},
		{61, types.ProviderWarning},
		{80, types.ProviderWarning},
		{81, types.ProviderCritical},
		{95, types.ProviderCritical}, // exactly 95% is critical, not exceeded
		{95.1, types.ProviderExceeded},
		{120, types.ProviderExceeded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, windowStatus(tt.pct), "pct=%v", tt.pct)
	}
}

func TestProviderStatusFromWorstWindow(t *testing.T) {
	a, _ := newTestAccountant(t, Config{Providers: []*Provider{{
		ID:      "tiny",
		Name:    "Tiny",
		Models:  []Model{{ID: "m", Pricing: ModelPricing{InputPer1K: 0.001, OutputPer1K: 0.001}}},
		Limits:  RateLimits{TokensPerDay: 1000},
		Pricing: PricingPolicy{Currency: "USD"},
		Enabled: true,
	}}})

	_, err := a.RecordUsage("tiny", "m", "agent-1", "chat", 900, 50, nil)
	require.NoError(t, err)

	usage := a.GetProviderUsage()
	require.Len(t, usage, 1)
	assert.InDelta(t, 95, usage[0].Daily.Percentage, 1e-9)
	assert.Equal(t, types.ProviderCritical, usage[0].Status)
}

func TestLimitPredictionsMinimumRecords(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})

	assert.Empty(t, a.GetLimitPredictions(), "no records, no predictions")

	_, err := a.RecordUsage("openai", "gpt-4o", "agent-1", "chat", 100, 50, nil)
	require.NoError(t, err)
	_, err = a.RecordUsage("openai", "gpt-4o", "agent-1", "chat", 100, 50, nil)
	require.NoError(t, err)
	assert.Empty(t, a.GetLimitPredictions(), "two records is below the minimum")

	_, err = a.RecordUsage("openai", "gpt-4o", "agent-1", "chat", 100, 50, nil)
	require.NoError(t, err)

	preds := a.GetLimitPredictions()
	require.Len(t, preds, 1)
	assert.Equal(t, "openai", preds[0].ProviderID)
	assert.GreaterOrEqual(t, preds[0].Confidence, 0.1)
	assert.LessOrEqual(t, preds[0].Confidence, 1.0)
}

func TestLimitPredictionStopRecommendation(t *testing.T) {
	a, _ := newTestAccountant(t, Config{Providers: []*Provider{{
		ID:      "tiny",
		Name:    "Tiny",
		Models:  []Model{{ID: "m"}},
		Limits:  RateLimits{TokensPerDay: 10000},
		Pricing: PricingPolicy{Currency: "USD"},
		Enabled: true,
	}}})

	// 9600 tokens burned in the last day: 400 tokens of headroom at
	// 400/hour average leaves one hour to the limit.
	for i := 0; i < 4; i++ {
		_, err := a.RecordUsage("tiny", "m", "agent-1", "chat", 2400, 0, nil)
		require.NoError(t, err)
	}

	preds := a.GetLimitPredictions()
	require.Len(t, preds, 1)
	assert.Less(t, preds[0].HoursToLimit, 2.0)
	assert.Equal(t, RecommendStop, preds[0].Recommendation)
}

func TestLimitWarningEvents(t *testing.T) {
	a, b := newTestAccountant(t, Config{Providers: []*Provider{{
		ID:      "tiny",
		Name:    "Tiny",
		Models:  []Model{{ID: "m"}},
		Limits:  RateLimits{TokensPerDay: 1000},
		Pricing: PricingPolicy{Currency: "USD"},
		Enabled: true,
	}}})

	warn, err := b.Subscribe(10, bus.EventLimitWarning)
	require.NoError(t, err)
	exceeded, err := b.Subscribe(10, bus.EventLimitExceeded)
	require.NoError(t, err)

	_, err = a.RecordUsage("tiny", "m", "agent-1", "chat", 901, 0, nil)
	require.NoError(t, err)
	ev := <-warn.Channel
	payload := ev.Payload.(LimitEvent)
	assert.Equal(t, "agent-1", payload.Agent)
	assert.Greater(t, payload.Percentage, 90.0)

	_, err = a.RecordUsage("tiny", "m", "agent-1", "chat", 200, 0, nil)
	require.NoError(t, err)
	ev = <-exceeded.Channel
	payload = ev.Payload.(LimitEvent)
	assert.Greater(t, payload.Percentage, 100.0)
}

func TestActiveAgents(t *testing.T) {
	a, _ := newTestAccountant(t, Config{})

	_, err := a.RecordUsage("openai", "gpt-4o", "agent-b", "chat", 10, 5, nil)
	require.NoError(t, err)
	_, err = a.RecordUsage("openai", "gpt-4o", "agent-a", "chat", 10, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"agent-a", "agent-b"}, a.ActiveAgents(time.Hour))
}

func TestRetentionSweep(t *testing.T) {
	a, _ := newTestAccountant(t, Config{Retention: 24 * time.Hour})

	backdate(a, types.UsageRecord{
		ID: "old", Provider: "openai", Model: "gpt-4o", Agent: "x",
		InputTokens: 10, OutputTokens: 5, TotalTokens: 15,
		Timestamp: time.Now().Add(-48 * time.Hour),
	})
	_, err := a.RecordUsage("openai", "gpt-4o", "x", "chat", 10, 5, nil)
	require.NoError(t, err)

	a.sweepRetention()
	assert.Equal(t, 1, a.RecordCount())
}
