// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared domain types used across the tokenwatch
// pipeline. It breaks import cycles by providing the types the detector,
// accountant, enforcer, and alerting packages all depend on.
package types

import (
	"time"
)

// Usage tracks LLM token usage and cost for a single unit of work.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// MetadataEnvelope is the typed attribution envelope attached to detections
// and usage records. Free-form key/value pairs go in Extra.
type MetadataEnvelope struct {
	Provider  string            `json:"provider,omitempty"`
	Model     string            `json:"model,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// UsageRecord is the canonical unit of accounting. Records are append-only;
// TotalTokens is always InputTokens + OutputTokens and Cost is computed from
// the model's pricing at record time.
type UsageRecord struct {
	ID           string           `json:"id"`
	Timestamp    time.Time        `json:"timestamp"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	Agent        string           `json:"agent"`
	Operation    string           `json:"operation"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	TotalTokens  int              `json:"total_tokens"`
	Cost         float64          `json:"cost"`
	Currency     string           `json:"currency"`
	Metadata     MetadataEnvelope `json:"metadata,omitempty"`
}

// SourceKind identifies the kind of text source a detection came from.
type SourceKind string

const (
	// SourceTerminal is a terminal multiplexer pane captured periodically.
	SourceTerminal SourceKind = "terminal"
	// SourceFile is an append-only log file watched for changes.
	SourceFile SourceKind = "file"
	// SourceProcess is a process whose stdout/stderr is streamed.
	SourceProcess SourceKind = "process"
	// SourceAPI is a direct API submission.
	SourceAPI SourceKind = "api"
)

// DetectionEvent is the result of one pattern hit on a source line.
type DetectionEvent struct {
	Source       SourceKind
	SourceID     string
	Line         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Cost         float64
	Pattern      string
	Confidence   float64
	Timestamp    time.Time
	Metadata     MetadataEnvelope
}

// ComponentStatus is the enforcement status ladder for a capped component.
type ComponentStatus string

const (
	StatusNormal   ComponentStatus = "normal"
	StatusWarning  ComponentStatus = "warning"
	StatusCritical ComponentStatus = "critical"
	StatusBlocked  ComponentStatus = "blocked"
)

// HealthStatus describes the health of a single component or the system.
type HealthStatus string

const (
	HealthRunning  HealthStatus = "running"
	HealthDegraded HealthStatus = "degraded"
	HealthStopped  HealthStatus = "stopped"
	HealthError    HealthStatus = "error"
)

// SystemStatus is the aggregate health surfaced to users.
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "healthy"
	SystemDegraded SystemStatus = "degraded"
	SystemCritical SystemStatus = "critical"
	SystemOffline  SystemStatus = "offline"
)

// ProviderStatus is the windowed usage status ladder for a provider.
type ProviderStatus string

const (
	ProviderHealthy  ProviderStatus = "healthy"
	ProviderWarning  ProviderStatus = "warning"
	ProviderCritical ProviderStatus = "critical"
	ProviderExceeded ProviderStatus = "exceeded"
)
