// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package accountant

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// persistVersion is the on-disk format version.
const persistVersion = 1

// persistedState is the single JSON document the accountant writes. Writes
// are full-file replace through a temp file and rename, so readers never
// observe a torn document.
type persistedState struct {
	Version      int                 `json:"version"`
	Providers    []*Provider         `json:"providers"`
	UsageRecords []types.UsageRecord `json:"usage_records"`
	LastSaved    time.Time           `json:"last_saved"`
}

// persistWorker serializes disk writes. Save requests are coalesced through
// a buffered-1 channel so a burst of records costs one write.
func (a *Accountant) persistWorker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.saveCh:
			if err := a.save(); err != nil {
				// Keep in-memory state; retry on the next save request.
				a.logger.Error("Failed to persist usage records", zap.Error(err))
			}
		}
	}
}

// save writes the full state. The record snapshot is taken under the read
// lock; the disk write happens outside it.
func (a *Accountant) save() error {
	a.mu.RLock()
	state := persistedState{
		Version:   persistVersion,
		LastSaved: time.Now(),
	}
	for _, id := range a.order {
		state.Providers = append(state.Providers, a.providers[id].clone())
	}
	state.UsageRecords = make([]types.UsageRecord, len(a.records))
	copy(state.UsageRecords, a.records)
	a.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(a.persistPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".usage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), a.persistPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// load restores state from disk. Records older than retention are dropped;
// a missing file is a fresh start, not an error.
func (a *Accountant) load() error {
	data, err := os.ReadFile(a.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	cutoff := time.Now().Add(-a.retention)
	var kept []types.UsageRecord
	for _, r := range state.UsageRecords {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}

	a.mu.Lock()
	a.records = kept
	for _, p := range state.Providers {
		if existing, ok := a.providers[p.ID]; ok {
			// Persisted pricing and enablement win over catalog defaults.
			existing.Pricing = p.Pricing
			existing.Enabled = p.Enabled
			for _, m := range p.Models {
				if cur := existing.Model(m.ID); cur != nil {
					cur.Pricing = m.Pricing
				}
			}
		} else {
			_ = a.addProviderLocked(p)
		}
	}
	a.mu.Unlock()

	a.logger.Info("Loaded persisted usage",
		zap.Int("records", len(kept)),
		zap.Int("dropped", len(state.UsageRecords)-len(kept)))
	return nil
}
