// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package bus provides a typed in-process event bus with a closed set of
// event kinds. Components register handlers at construction time; publishers
// never block on slow subscribers.
package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind enumerates every event the pipeline can emit.
type EventKind int

const (
	// EventDetection is an internal feed from the detector to the accountant.
	EventDetection EventKind = iota
	// EventUsageRecorded fires after the accountant commits a usage record.
	EventUsageRecorded
	// EventLimitWarning fires when an agent crosses 90% of a provider's daily limit.
	EventLimitWarning
	// EventLimitExceeded fires when an agent crosses 100% of a provider's daily limit.
	EventLimitExceeded
	// EventEnforcementTriggered fires when a capped component crosses a threshold.
	EventEnforcementTriggered
	// EventAlert is the generic alert notification.
	EventAlert
	// EventAlertTriggered fires when a rule creates a new alert instance.
	EventAlertTriggered
	// EventAlertEscalated fires when an unhandled alert climbs the escalation ladder.
	EventAlertEscalated
	// EventAlertAcknowledged fires on acknowledgement.
	EventAlertAcknowledged
	// EventAlertResolved fires on resolution.
	EventAlertResolved
	// EventNudgeRequest carries an advisory message for the UI layer.
	EventNudgeRequest
	// EventDataUpdate fires when any metric surface changes; invalidates caches.
	EventDataUpdate
	// EventCriticalAlert fires for critical and emergency severities.
	EventCriticalAlert
	// EventStarted fires when the monitoring system comes up.
	EventStarted
	// EventStopped fires when the monitoring system shuts down.
	EventStopped
)

var kindNames = map[EventKind]string{
	EventDetection:            "detection",
	EventUsageRecorded:        "usage:recorded",
	EventLimitWarning:         "limit:warning",
	EventLimitExceeded:        "limit:exceeded",
	EventEnforcementTriggered: "enforcement_triggered",
	EventAlert:                "alert",
	EventAlertTriggered:       "alert_triggered",
	EventAlertEscalated:       "alert_escalated",
	EventAlertAcknowledged:    "alert_acknowledged",
	EventAlertResolved:        "alert_resolved",
	EventNudgeRequest:         "nudge_request",
	EventDataUpdate:           "data_update",
	EventCriticalAlert:        "critical_alert",
	EventStarted:              "started",
	EventStopped:              "stopped",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Payload any
}

// DefaultBufferSize is the default subscriber channel buffer.
const DefaultBufferSize = 100

// Subscription receives events for the kinds it was registered with.
type Subscription struct {
	ID      string
	Kinds   []EventKind
	Channel <-chan Event

	channel chan Event
}

// Bus is a typed pub/sub event bus. All operations are safe for concurrent
// use. Publish is non-blocking: events are dropped when a subscriber's
// buffer is full, and the drop is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventKind]map[string]*Subscription
	byID   map[string]*Subscription
	logger *zap.Logger

	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalDropped   atomic.Int64

	closed atomic.Bool
}

// New creates an event bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[EventKind]map[string]*Subscription),
		byID:   make(map[string]*Subscription),
		logger: logger,
	}
}

// Publish delivers an event to every subscriber registered for its kind.
// Returns the number of subscribers the event was delivered to.
func (b *Bus) Publish(kind EventKind, payload any) int {
	if b.closed.Load() {
		return 0
	}

	ev := Event{Kind: kind, Time: time.Now(), Payload: payload}
	b.totalPublished.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs[kind] {
		select {
		case sub.channel <- ev:
			delivered++
			b.totalDelivered.Add(1)
		default:
			b.totalDropped.Add(1)
			b.logger.Debug("Dropped event for slow subscriber",
				zap.String("kind", kind.String()),
				zap.String("subscription_id", sub.ID))
		}
	}
	return delivered
}

// Subscribe registers for one or more event kinds. bufferSize <= 0 uses
// DefaultBufferSize.
func (b *Bus) Subscribe(bufferSize int, kinds ...EventKind) (*Subscription, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("event bus is closed")
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("at least one event kind is required")
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	ch := make(chan Event, bufferSize)
	sub := &Subscription{
		ID:      uuid.New().String(),
		Kinds:   kinds,
		Channel: ch,
		channel: ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kind := range kinds {
		if b.subs[kind] == nil {
			b.subs[kind] = make(map[string]*Subscription)
		}
		b.subs[kind][sub.ID] = sub
	}
	b.byID[sub.ID] = sub

	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[subscriptionID]
	if !ok {
		return
	}
	for _, kind := range sub.Kinds {
		delete(b.subs[kind], subscriptionID)
	}
	delete(b.byID, subscriptionID)
	close(sub.channel)
}

// Stats returns published/delivered/dropped counters.
func (b *Bus) Stats() (published, delivered, dropped int64) {
	return b.totalPublished.Load(), b.totalDelivered.Load(), b.totalDropped.Load()
}

// Close shuts down the bus. Subsequent publishes are no-ops; all subscriber
// channels are closed.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.byID {
		close(sub.channel)
		delete(b.byID, id)
	}
	b.subs = make(map[EventKind]map[string]*Subscription)
}
