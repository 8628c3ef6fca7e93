// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/tokenwatch/internal/bus"
)

func newTestDispatcher(t *testing.T, notifications NotificationConfig, allowCommands bool) (*dispatcher, *bus.Bus) {
	t.Helper()

	b := bus.New(zaptest.NewLogger(t))
	t.Cleanup(b.Close)
	return newDispatcher(zaptest.NewLogger(t), b, notifications, allowCommands, nil), b
}

func testInstance() *Instance {
	return &Instance{
		ID:        "a1",
		RuleID:    "r1",
		Timestamp: time.Now(),
		Severity:  SeverityCritical,
		Title:     "Test Alert",
		Message:   "something crossed a line",
		Values:    map[string]float64{"cost.daily_total": 12.5},
	}
}

func TestWebhookAction(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, NotificationConfig{
		EnableWebhooks: true,
		WebhookURLs:    []string{srv.URL},
	}, false)

	rec := d.execute(ActionSpec{Kind: ActionWebhook}, testInstance())
	assert.True(t, rec.Success)
	assert.Equal(t, "a1", received.AlertID)
	assert.Equal(t, "critical", received.Severity)
}

func TestWebhookDisabledIsRecordedFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, NotificationConfig{}, false)

	rec := d.execute(ActionSpec{Kind: ActionWebhook, Target: "http://localhost:1"}, testInstance())
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "disabled")
}

func TestWebhookNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, NotificationConfig{EnableWebhooks: true}, false)
	rec := d.execute(ActionSpec{Kind: ActionWebhook, Target: srv.URL}, testInstance())
	assert.False(t, rec.Success)
}

func TestEmitPublishesCriticalToo(t *testing.T) {
	d, b := newTestDispatcher(t, NotificationConfig{}, false)
	alertSub, err := b.Subscribe(10, bus.EventAlert)
	require.NoError(t, err)
	critSub, err := b.Subscribe(10, bus.EventCriticalAlert)
	require.NoError(t, err)

	rec := d.execute(ActionSpec{Kind: ActionEmit}, testInstance())
	assert.True(t, rec.Success)

	select {
	case <-alertSub.Channel:
	default:
		t.Fatal("expected an alert event")
	}
	select {
	case <-critSub.Channel:
	default:
		t.Fatal("critical severity also publishes the critical channel")
	}
}

func TestNudgeAction(t *testing.T) {
	d, b := newTestDispatcher(t, NotificationConfig{EnableNudge: true}, false)
	sub, err := b.Subscribe(10, bus.EventNudgeRequest)
	require.NoError(t, err)

	rec := d.execute(ActionSpec{Kind: ActionNudge, Message: "slow down"}, testInstance())
	assert.True(t, rec.Success)

	select {
	case ev := <-sub.Channel:
		payload := ev.Payload.(map[string]string)
		assert.Equal(t, "slow down", payload["message"])
	default:
		t.Fatal("expected a nudge event")
	}
}

func TestSystemCommandGated(t *testing.T) {
	d, _ := newTestDispatcher(t, NotificationConfig{}, false)
	rec := d.execute(ActionSpec{Kind: ActionSystemCommand, Command: []string{"true"}}, testInstance())
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "disabled")

	d2, _ := newTestDispatcher(t, NotificationConfig{}, true)
	rec = d2.execute(ActionSpec{Kind: ActionSystemCommand, Command: []string{"true"}}, testInstance())
	assert.True(t, rec.Success)
}

func TestEmailAction(t *testing.T) {
	d, _ := newTestDispatcher(t, NotificationConfig{
		EnableEmail:     true,
		EmailRecipients: []string{"ops@example.com"},
		SMTPAddr:        "mail.example.com:587",
		SMTPFrom:        "tokenwatch@example.com",
	}, false)

	var sentTo []string
	d.sendMail = func(addr, from string, to []string, msg []byte) error {
		sentTo = to
		assert.Contains(t, string(msg), "Subject: [CRITICAL] Test Alert")
		return nil
	}

	rec := d.execute(ActionSpec{Kind: ActionEmail}, testInstance())
	assert.True(t, rec.Success)
	assert.Equal(t, []string{"ops@example.com"}, sentTo)
}

func TestUnknownActionKind(t *testing.T) {
	d, _ := newTestDispatcher(t, NotificationConfig{}, false)
	rec := d.execute(ActionSpec{Kind: "teleport"}, testInstance())
	assert.False(t, rec.Success)
}
