// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Close()

	sub, err := b.Subscribe(10, EventUsageRecorded)
	require.NoError(t, err)

	delivered := b.Publish(EventUsageRecorded, "payload")
	assert.Equal(t, 1, delivered)

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, EventUsageRecorded, ev.Kind)
		assert.Equal(t, "payload", ev.Payload)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestSubscribeMultipleKinds(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Close()

	sub, err := b.Subscribe(10, EventAlertTriggered, EventAlertResolved)
	require.NoError(t, err)

	b.Publish(EventAlertTriggered, nil)
	b.Publish(EventAlertResolved, nil)
	b.Publish(EventUsageRecorded, nil) // not subscribed

	assert.Equal(t, EventAlertTriggered, (<-sub.Channel).Kind)
	assert.Equal(t, EventAlertResolved, (<-sub.Channel).Kind)
	select {
	case ev := <-sub.Channel:
		t.Fatalf("unexpected event: %v", ev.Kind)
	default:
	}
}

func TestSubscribeRequiresKind(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Close()

	_, err := b.Subscribe(10)
	assert.Error(t, err)
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Close()

	_, err := b.Subscribe(1, EventDataUpdate)
	require.NoError(t, err)

	assert.Equal(t, 1, b.Publish(EventDataUpdate, nil))
	// Buffer full: second publish drops instead of blocking.
	assert.Equal(t, 0, b.Publish(EventDataUpdate, nil))

	_, _, dropped := b.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestUnsubscribe(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Close()

	sub, err := b.Subscribe(10, EventNudgeRequest)
	require.NoError(t, err)

	b.Unsubscribe(sub.ID)
	assert.Equal(t, 0, b.Publish(EventNudgeRequest, nil))

	_, open := <-sub.Channel
	assert.False(t, open, "channel should be closed after unsubscribe")

	// Idempotent.
	b.Unsubscribe(sub.ID)
}

func TestClose(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	sub, err := b.Subscribe(10, EventStarted)
	require.NoError(t, err)

	b.Close()
	assert.Equal(t, 0, b.Publish(EventStarted, nil))

	_, open := <-sub.Channel
	assert.False(t, open)

	_, err = b.Subscribe(10, EventStarted)
	assert.Error(t, err)
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "usage:recorded", EventUsageRecorded.String())
	assert.Equal(t, "enforcement_triggered", EventEnforcementTriggered.String())
	assert.Equal(t, "nudge_request", EventNudgeRequest.String())
	assert.Contains(t, EventKind(99).String(), "unknown")
}
