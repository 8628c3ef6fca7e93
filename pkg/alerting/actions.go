// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
)

// actionTimeout bounds one action attempt. Exceeding it yields a recorded
// failure and never blocks the engine.
const actionTimeout = 10 * time.Second

// NotificationConfig enables outbound channels and lists their targets.
// A channel left disabled turns its actions into recorded failures rather
// than silent drops.
type NotificationConfig struct {
	EnableWebhooks  bool     `mapstructure:"enable_webhooks"`
	EnableEmail     bool     `mapstructure:"enable_email"`
	EnableSlack     bool     `mapstructure:"enable_slack"`
	EnableNudge     bool     `mapstructure:"enable_nudge"`
	WebhookURLs     []string `mapstructure:"webhook_urls"`
	EmailRecipients []string `mapstructure:"email_recipients"`
	SlackChannels   []string `mapstructure:"slack_channels"`

	// SMTP settings for the email channel.
	SMTPAddr string `mapstructure:"smtp_addr"` // host:port
	SMTPFrom string `mapstructure:"smtp_from"`
}

// dispatcher executes alert actions. It is owned by the engine and shares
// its logger and bus.
type dispatcher struct {
	logger        *zap.Logger
	bus           *bus.Bus
	notifications NotificationConfig
	allowCommands bool
	httpClient    *http.Client

	// sendMail is swappable for tests.
	sendMail func(addr, from string, to []string, msg []byte) error
}

func newDispatcher(logger *zap.Logger, b *bus.Bus, notifications NotificationConfig, allowCommands bool, client *http.Client) *dispatcher {
	if client == nil {
		client = &http.Client{Timeout: actionTimeout}
	}
	return &dispatcher{
		logger:        logger,
		bus:           b,
		notifications: notifications,
		allowCommands: allowCommands,
		httpClient:    client,
		sendMail: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// execute runs one action and returns its execution record. Failures are
// recorded, never propagated.
func (d *dispatcher) execute(spec ActionSpec, inst *Instance) ActionExecution {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	message := spec.Message
	if message == "" {
		message = inst.Message
	}

	var err error
	switch spec.Kind {
	case ActionLog:
		d.logger.Warn("Alert",
			zap.String("alert_id", inst.ID),
			zap.String("rule_id", inst.RuleID),
			zap.String("severity", string(inst.Severity)),
			zap.String("message", message))
	case ActionEmit:
		d.bus.Publish(bus.EventAlert, *inst)
		if inst.Severity == SeverityCritical || inst.Severity == SeverityEmergency {
			d.bus.Publish(bus.EventCriticalAlert, *inst)
		}
	case ActionWebhook:
		err = d.postWebhooks(ctx, spec.Target, inst, message)
	case ActionEmail:
		err = d.sendEmail(inst, message)
	case ActionSlack:
		err = d.postSlack(ctx, spec.Target, inst, message)
	case ActionNudge:
		if !d.notifications.EnableNudge {
			err = fmt.Errorf("nudge notifications are disabled")
		} else {
			d.bus.Publish(bus.EventNudgeRequest, map[string]string{
				"alert_id": inst.ID,
				"severity": string(inst.Severity),
				"message":  message,
			})
		}
	case ActionSystemCommand:
		err = d.runCommand(ctx, spec.Command)
	default:
		err = fmt.Errorf("unknown action kind %q", spec.Kind)
	}

	rec := ActionExecution{
		Timestamp: start,
		Kind:      spec.Kind,
		Success:   err == nil,
		Duration:  time.Since(start),
	}
	if err != nil {
		rec.Error = err.Error()
		d.logger.Warn("Alert action failed",
			zap.String("alert_id", inst.ID),
			zap.String("kind", string(spec.Kind)),
			zap.Error(err))
	}
	return rec
}

type webhookPayload struct {
	AlertID   string             `json:"alert_id"`
	RuleID    string             `json:"rule_id"`
	Severity  string             `json:"severity"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Values    map[string]float64 `json:"values,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func (d *dispatcher) postWebhooks(ctx context.Context, target string, inst *Instance, message string) error {
	if !d.notifications.EnableWebhooks {
		return fmt.Errorf("webhook notifications are disabled")
	}
	urls := d.notifications.WebhookURLs
	if target != "" {
		urls = []string{target}
	}
	if len(urls) == 0 {
		return fmt.Errorf("no webhook URLs configured")
	}

	body, err := json.Marshal(webhookPayload{
		AlertID:   inst.ID,
		RuleID:    inst.RuleID,
		Severity:  string(inst.Severity),
		Title:     inst.Title,
		Message:   message,
		Values:    inst.Values,
		Timestamp: inst.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var firstErr error
	for _, url := range urls {
		if err := d.postJSON(ctx, url, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *dispatcher) postSlack(ctx context.Context, target string, inst *Instance, message string) error {
	if !d.notifications.EnableSlack {
		return fmt.Errorf("slack notifications are disabled")
	}
	if target == "" {
		return fmt.Errorf("slack action needs a webhook URL target")
	}
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(inst.Severity)), inst.Title, message),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	return d.postJSON(ctx, target, body)
}

func (d *dispatcher) postJSON(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s returned %s", url, resp.Status)
	}
	return nil
}

func (d *dispatcher) sendEmail(inst *Instance, message string) error {
	if !d.notifications.EnableEmail {
		return fmt.Errorf("email notifications are disabled")
	}
	if d.notifications.SMTPAddr == "" || d.notifications.SMTPFrom == "" {
		return fmt.Errorf("email action needs smtp_addr and smtp_from")
	}
	if len(d.notifications.EmailRecipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [%s] %s\r\n\r\n%s\r\n",
		d.notifications.SMTPFrom,
		strings.Join(d.notifications.EmailRecipients, ", "),
		strings.ToUpper(string(inst.Severity)),
		inst.Title,
		message)
	return d.sendMail(d.notifications.SMTPAddr, d.notifications.SMTPFrom, d.notifications.EmailRecipients, []byte(msg))
}

func (d *dispatcher) runCommand(ctx context.Context, argv []string) error {
	if !d.allowCommands {
		return fmt.Errorf("system commands are disabled")
	}
	if len(argv) == 0 {
		return fmt.Errorf("system_command action needs a command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q failed: %w (%s)", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
