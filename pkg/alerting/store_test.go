// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(context.Background(),
		filepath.Join(t.TempDir(), "alerts.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleInstance(id string, triggered time.Time) *Instance {
	return &Instance{
		ID:        id,
		RuleID:    "inspector-high-usage",
		Timestamp: triggered,
		Severity:  SeverityWarning,
		Title:     "Inspector High Token Usage",
		Message:   "inspector.usage_percentage=72.00",
		Values:    map[string]float64{"inspector.usage_percentage": 72},
		Actions: []ActionExecution{
			{Timestamp: triggered, Kind: ActionLog, Success: true, Duration: time.Millisecond},
		},
	}
}

func TestStoreSaveAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveAlert(ctx, sampleInstance("a1", now)))

	hist, err := store.History(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "a1", hist[0].ID)
	assert.Equal(t, "inspector-high-usage", hist[0].RuleID)
	assert.Equal(t, SeverityWarning, hist[0].Severity)
	assert.InDelta(t, 72, hist[0].Values["inspector.usage_percentage"], 1e-9)
}

func TestStoreSaveIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	inst := sampleInstance("a1", now)
	require.NoError(t, store.SaveAlert(ctx, inst))

	ackAt := now.Add(time.Minute)
	inst.Acknowledged = true
	inst.AcknowledgedBy = "operator"
	inst.AcknowledgedAt = &ackAt
	require.NoError(t, store.SaveAlert(ctx, inst))

	hist, err := store.History(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, hist, 1, "re-saving the same ID replaces the row")
	assert.True(t, hist[0].Acknowledged)
	assert.Equal(t, "operator", hist[0].AcknowledgedBy)
	require.NotNil(t, hist[0].AcknowledgedAt)
}

func TestStoreHistoryOrderAndCutoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveAlert(ctx, sampleInstance("old", now.Add(-3*time.Hour))))
	require.NoError(t, store.SaveAlert(ctx, sampleInstance("mid", now.Add(-30*time.Minute))))
	require.NoError(t, store.SaveAlert(ctx, sampleInstance("new", now)))

	hist, err := store.History(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "new", hist[0].ID, "newest first")
	assert.Equal(t, "mid", hist[1].ID)
}

func TestStorePrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveAlert(ctx, sampleInstance("old", now.Add(-48*time.Hour))))
	require.NoError(t, store.SaveAlert(ctx, sampleInstance("new", now)))

	removed, err := store.PruneOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	hist, err := store.History(ctx, now.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "new", hist[0].ID)
}
