// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package alerting

import "time"

// BuiltinRules returns the default rule set. Configured rules with the same
// ID override these.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:       "inspector-high-usage",
			Name:     "Inspector High Token Usage",
			Kind:     KindThreshold,
			Severity: SeverityWarning,
			Conditions: []Condition{
				{Metric: "inspector.usage_percentage", Operator: OpGreater, Value: 70},
			},
			Cooldown:     10 * time.Minute,
			MaxFrequency: 4,
			Escalations: []Escalation{
				{Delay: 5 * time.Minute, Severity: SeverityCritical, Actions: []ActionSpec{{Kind: ActionNudge}}},
				{Delay: 15 * time.Minute, Severity: SeverityEmergency, Actions: []ActionSpec{{Kind: ActionEmit}}},
			},
			Actions: []ActionSpec{{Kind: ActionLog}, {Kind: ActionEmit}},
			Enabled: true,
		},
		{
			ID:       "orchestrator-high-usage",
			Name:     "Orchestrator High Token Usage",
			Kind:     KindThreshold,
			Severity: SeverityWarning,
			Conditions: []Condition{
				{Metric: "orchestrator.usage_percentage", Operator: OpGreater, Value: 70},
			},
			Cooldown:     10 * time.Minute,
			MaxFrequency: 4,
			Escalations: []Escalation{
				{Delay: 5 * time.Minute, Severity: SeverityCritical, Actions: []ActionSpec{{Kind: ActionNudge}}},
			},
			Actions: []ActionSpec{{Kind: ActionLog}, {Kind: ActionEmit}},
			Enabled: true,
		},
		{
			ID:       "provider-daily-limit",
			Name:     "Provider Daily Limit Approaching",
			Kind:     KindThreshold,
			Severity: SeverityCritical,
			Conditions: []Condition{
				{Metric: "provider.daily_usage_percentage", Operator: OpGreater, Value: 85},
			},
			Cooldown:     30 * time.Minute,
			MaxFrequency: 2,
			Actions:      []ActionSpec{{Kind: ActionLog}, {Kind: ActionEmit}},
			Enabled:      true,
		},
		{
			ID:       "cost-spike",
			Name:     "Hourly Cost Spike",
			Kind:     KindTrend,
			Severity: SeverityWarning,
			Conditions: []Condition{
				{Metric: "cost.hourly_total", Operator: OpChange, Value: 5},
			},
			Cooldown:     time.Hour,
			MaxFrequency: 2,
			Actions:      []ActionSpec{{Kind: ActionLog}, {Kind: ActionEmit}},
			Enabled:      true,
		},
		{
			ID:       "enforcement-active",
			Name:     "Cap Enforcement Active",
			Kind:     KindEnforcement,
			Severity: SeverityCritical,
			Conditions: []Condition{
				{Metric: "enforcement.active_enforcements", Operator: OpGreaterEqual, Value: 1},
			},
			Cooldown:     15 * time.Minute,
			MaxFrequency: 4,
			Actions:      []ActionSpec{{Kind: ActionLog}, {Kind: ActionEmit}, {Kind: ActionNudge}},
			Enabled:      true,
		},
		{
			ID:       "projection-limit-soon",
			Name:     "Projected Limit Exhaustion",
			Kind:     KindProjection,
			Severity: SeverityWarning,
			Conditions: []Condition{
				{Metric: "projection.usage_increase_rate", Operator: OpGreater, Value: 50},
				{Metric: "projection.confidence_score", Operator: OpGreaterEqual, Value: 0.5},
			},
			Cooldown:     time.Hour,
			MaxFrequency: 2,
			Actions:      []ActionSpec{{Kind: ActionLog}, {Kind: ActionEmit}},
			Enabled:      true,
		},
	}
}
