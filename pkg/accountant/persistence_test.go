// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package accountant

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "usage.json")

	a1, _ := newTestAccountant(t, Config{PersistPath: path})
	for i := 0; i < 50; i++ {
		_, err := a1.RecordUsage("claude-code", "claude-3-5-sonnet-20241022", "agent-1", "chat", 100, 50, nil)
		require.NoError(t, err)
	}
	for i := 0; i < 50; i++ {
		_, err := a1.RecordUsage("openai", "gpt-4o", "agent-2", "chat", 80, 40, nil)
		require.NoError(t, err)
	}
	before := a1.GetProviderUsage()
	require.NoError(t, a1.save())

	a2, _ := newTestAccountant(t, Config{PersistPath: path})
	require.NoError(t, a2.load())

	assert.Equal(t, 100, a2.RecordCount())
	after := a2.GetProviderUsage()
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ProviderID, after[i].ProviderID)
		assert.Equal(t, before[i].TotalTokens, after[i].TotalTokens)
		assert.InDelta(t, before[i].TotalCost, after[i].TotalCost, 1e-12)
		assert.Equal(t, before[i].TotalRequests, after[i].TotalRequests)
	}
}

func TestLoadPrunesExpiredRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	a1, _ := newTestAccountant(t, Config{PersistPath: path, Retention: 24 * time.Hour})
	backdate(a1, types.UsageRecord{
		ID: "expired", Provider: "openai", Model: "gpt-4o", Agent: "x",
		InputTokens: 10, OutputTokens: 5, TotalTokens: 15,
		Timestamp: time.Now().Add(-48 * time.Hour),
	})
	_, err := a1.RecordUsage("openai", "gpt-4o", "x", "chat", 10, 5, nil)
	require.NoError(t, err)
	require.NoError(t, a1.save())

	a2, _ := newTestAccountant(t, Config{PersistPath: path, Retention: 24 * time.Hour})
	require.NoError(t, a2.load())
	assert.Equal(t, 1, a2.RecordCount())
}

func TestLoadMissingFileIsFreshStart(t *testing.T) {
	a, _ := newTestAccountant(t, Config{PersistPath: filepath.Join(t.TempDir(), "absent.json")})
	assert.NoError(t, a.load())
	assert.Zero(t, a.RecordCount())
}

func TestLoadRestoresProviderState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	a1, _ := newTestAccountant(t, Config{PersistPath: path})
	require.NoError(t, a1.SetProviderEnabled("gemini", false))
	require.NoError(t, a1.save())

	a2, _ := newTestAccountant(t, Config{PersistPath: path})
	require.NoError(t, a2.load())
	for _, p := range a2.Providers() {
		if p.ID == "gemini" {
			assert.False(t, p.Enabled)
		}
	}
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "usage.json")
	a, _ := newTestAccountant(t, Config{PersistPath: path})
	require.NoError(t, a.save())

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestStartStopFlushesLastRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	a1, _ := newTestAccountant(t, Config{PersistPath: path})
	require.NoError(t, a1.Start(context.Background()))
	_, err := a1.RecordUsage("openai", "gpt-4o", "x", "chat", 10, 5, nil)
	require.NoError(t, err)
	require.NoError(t, a1.Stop())

	a2, _ := newTestAccountant(t, Config{PersistPath: path})
	require.NoError(t, a2.load())
	assert.Equal(t, 1, a2.RecordCount())
}
