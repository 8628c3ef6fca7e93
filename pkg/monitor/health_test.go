// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

func TestHealthAllRunning(t *testing.T) {
	h := newHealthTracker("a", "b")

	report := h.sweep(time.Now())
	assert.Equal(t, types.SystemHealthy, report.Status)
	require.Len(t, report.Components, 2)
	for _, ch := range report.Components {
		assert.Equal(t, types.HealthRunning, ch.Status)
	}
}

func TestHealthStaleComponentDegrades(t *testing.T) {
	h := newHealthTracker("a", "b")
	h.touch("a")

	// "b" has not been touched for over 30 seconds.
	report := h.sweep(time.Now().Add(degradedAfter + time.Second))
	assert.Equal(t, types.SystemDegraded, report.Status)
	assert.Equal(t, types.HealthDegraded, report.Components["b"].Status)
}

func TestHealthErrorBecomesStopped(t *testing.T) {
	h := newHealthTracker("a")
	h.fail("a", fmt.Errorf("boom"))

	report := h.sweep(time.Now())
	assert.Equal(t, types.SystemCritical, report.Status)
	assert.Equal(t, types.HealthError, report.Components["a"].Status)
	assert.Equal(t, 1, report.Components["a"].ErrorCount)
	assert.Equal(t, "boom", report.Components["a"].LastError)

	// A minute stuck in error moves to stopped.
	report = h.sweep(time.Now().Add(stoppedAfter + time.Second))
	assert.Equal(t, types.HealthStopped, report.Components["a"].Status)
	assert.Equal(t, types.SystemCritical, report.Status)
}

func TestHealthTouchClearsError(t *testing.T) {
	h := newHealthTracker("a")
	h.fail("a", fmt.Errorf("boom"))
	h.touch("a")

	report := h.sweep(time.Now())
	assert.Equal(t, types.SystemHealthy, report.Status)
	assert.Equal(t, types.HealthRunning, report.Components["a"].Status)
	assert.Equal(t, 1, report.Components["a"].ErrorCount, "error count survives recovery")
}

func TestHealthErrorRate(t *testing.T) {
	h := newHealthTracker("a", "b")
	assert.Zero(t, h.errorRate())

	h.fail("a", fmt.Errorf("x"))
	h.fail("a", fmt.Errorf("y"))
	assert.InDelta(t, 1.0, h.errorRate(), 1e-9)
}
