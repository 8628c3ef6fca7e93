// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package alerting evaluates rules against the aggregate metric surface,
// triggers alerts with cooldown and frequency limits, executes actions, and
// escalates unhandled alerts along a delay ladder.
package alerting

import (
	"fmt"
	"time"
)

// Severity orders alert severities from least to most urgent.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// RuleKind classifies what a rule watches.
type RuleKind string

const (
	KindThreshold   RuleKind = "threshold"
	KindTrend       RuleKind = "trend"
	KindAnomaly     RuleKind = "anomaly"
	KindProjection  RuleKind = "projection"
	KindEnforcement RuleKind = "enforcement"
)

// Operator compares a resolved metric value against a condition value.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	// OpChange compares the absolute change since the previous evaluation.
	OpChange Operator = "change"
	// OpRate compares the per-minute rate of change since the previous evaluation.
	OpRate Operator = "rate"
)

// Condition is one clause of a rule; all clauses must hold to trigger.
type Condition struct {
	Metric      string        `mapstructure:"metric" json:"metric"`
	Operator    Operator      `mapstructure:"operator" json:"operator"`
	Value       float64       `mapstructure:"value" json:"value"`
	Aggregation string        `mapstructure:"aggregation" json:"aggregation,omitempty"`
	Timeframe   time.Duration `mapstructure:"timeframe" json:"timeframe,omitempty"`
}

// ActionKind enumerates supported alert actions.
type ActionKind string

const (
	ActionLog     ActionKind = "log"
	ActionEmit    ActionKind = "emit"
	ActionWebhook ActionKind = "webhook"
	ActionEmail   ActionKind = "email"
	ActionSlack   ActionKind = "slack"
	ActionNudge   ActionKind = "nudge"
	// ActionSystemCommand runs a local command; gated behind explicit enablement.
	ActionSystemCommand ActionKind = "system_command"
)

// ActionSpec configures one action on a rule or escalation level.
type ActionSpec struct {
	Kind    ActionKind `mapstructure:"kind" json:"kind"`
	Target  string     `mapstructure:"target" json:"target,omitempty"`   // URL, address, or channel
	Message string     `mapstructure:"message" json:"message,omitempty"` // overrides the alert message
	Command []string   `mapstructure:"command" json:"command,omitempty"` // system_command argv
}

// Escalation is one rung of the escalation ladder.
type Escalation struct {
	Delay    time.Duration `mapstructure:"delay" json:"delay"`
	Severity Severity      `mapstructure:"severity" json:"severity"`
	Actions  []ActionSpec  `mapstructure:"actions" json:"actions,omitempty"`
}

// Rule is an alert rule. Cooldown suppresses re-triggering while an active
// alert from the rule is young; MaxFrequency bounds triggers per hour window.
type Rule struct {
	ID           string        `mapstructure:"id" json:"id"`
	Name         string        `mapstructure:"name" json:"name"`
	Kind         RuleKind      `mapstructure:"kind" json:"kind"`
	Severity     Severity      `mapstructure:"severity" json:"severity"`
	Conditions   []Condition   `mapstructure:"conditions" json:"conditions"`
	Cooldown     time.Duration `mapstructure:"cooldown" json:"cooldown"`
	MaxFrequency int           `mapstructure:"max_frequency" json:"max_frequency"`
	Escalations  []Escalation  `mapstructure:"escalations" json:"escalations,omitempty"`
	Actions      []ActionSpec  `mapstructure:"actions" json:"actions,omitempty"`
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
}

// Validate rejects malformed rules at configuration time.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %q: at least one condition is required", r.ID)
	}
	for _, c := range r.Conditions {
		if !IsKnownMetric(c.Metric) {
			return fmt.Errorf("rule %q: unknown metric %q", r.ID, c.Metric)
		}
		switch c.Operator {
		case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual, OpChange, OpRate:
		default:
			return fmt.Errorf("rule %q: unknown operator %q", r.ID, c.Operator)
		}
	}
	if r.MaxFrequency < 0 {
		return fmt.Errorf("rule %q: max frequency must be non-negative", r.ID)
	}
	return nil
}

// ActionExecution records one action attempt on an alert instance.
type ActionExecution struct {
	Timestamp time.Time     `json:"timestamp"`
	Kind      ActionKind    `json:"kind"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Instance is one triggered alert.
type Instance struct {
	ID              string             `json:"id"`
	RuleID          string             `json:"rule_id"`
	Timestamp       time.Time          `json:"timestamp"`
	Severity        Severity           `json:"severity"`
	Title           string             `json:"title"`
	Message         string             `json:"message"`
	Values          map[string]float64 `json:"values,omitempty"`
	Acknowledged    bool               `json:"acknowledged"`
	AcknowledgedBy  string             `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time         `json:"acknowledged_at,omitempty"`
	Resolved        bool               `json:"resolved"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	Resolution      string             `json:"resolution,omitempty"`
	Escalated       bool               `json:"escalated"`
	EscalationLevel int                `json:"escalation_level"`
	Actions         []ActionExecution  `json:"actions,omitempty"`
}

// severityRank orders severities for escalation bumps.
func severityRank(s Severity) int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	default:
		return 0
	}
}
