// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestIsKnownMetric(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"inspector.usage_percentage", true},
		{"orchestrator.anything_goes", true},
		{"provider.daily_usage_percentage", true},
		{"cost.hourly_total", true},
		{"enforcement.actions_count", true},
		{"system.health_score", true},
		{"inspector.", false},
		{"provider.bogus", false},
		{"made.up_metric", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsKnownMetric(tt.name), tt.name)
	}
}

func TestResolverPushAndPull(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t))

	require.NoError(t, r.Set("tokens.total_usage", 4200))
	v, ok := r.Resolve("tokens.total_usage")
	require.True(t, ok)
	assert.InDelta(t, 4200, v, 1e-9)

	calls := 0
	require.NoError(t, r.Register("cost.daily_total", func() (float64, error) {
		calls++
		return 1.5, nil
	}))
	v, ok = r.Resolve("cost.daily_total")
	require.True(t, ok)
	assert.InDelta(t, 1.5, v, 1e-9)

	// Second read within the TTL is served from cache.
	_, _ = r.Resolve("cost.daily_total")
	assert.Equal(t, 1, calls)
}

func TestResolverRejectsUnknownMetric(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t))
	assert.Error(t, r.Set("made.up", 1))
	assert.Error(t, r.Register("made.up", func() (float64, error) { return 0, nil }))
}

func TestResolverFailClosed(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t))

	_, ok := r.Resolve("system.error_rate")
	assert.False(t, ok, "no value and no resolver yields unknown")

	require.NoError(t, r.Register("system.error_rate", func() (float64, error) {
		return 0, fmt.Errorf("source down")
	}))
	_, ok = r.Resolve("system.error_rate")
	assert.False(t, ok, "resolver failure yields unknown")
}

func TestResolverTTLExpiry(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t))
	r.ttl = 20 * time.Millisecond

	require.NoError(t, r.Set("tokens.usage_rate", 10))
	_, ok := r.Resolve("tokens.usage_rate")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	// A pushed value past its TTL is missing, not stale.
	_, ok = r.Resolve("tokens.usage_rate")
	assert.False(t, ok)
}

func TestResolverInvalidate(t *testing.T) {
	r := NewResolver(zaptest.NewLogger(t))

	value := 1.0
	require.NoError(t, r.Register("system.health_score", func() (float64, error) {
		return value, nil
	}))
	v, _ := r.Resolve("system.health_score")
	assert.InDelta(t, 1.0, v, 1e-9)

	value = 0.5
	r.Invalidate("system.health_score")
	v, _ = r.Resolve("system.health_score")
	assert.InDelta(t, 0.5, v, 1e-9)
}
