// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package accountant

import (
	"regexp"
	"time"
)

// RateLimits are the provider-declared consumption limits.
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute"`
	TokensPerDay      int `json:"tokens_per_day"`
}

// PricingPolicy controls how a provider's pricing is maintained.
type PricingPolicy struct {
	Currency       string        `json:"currency"`
	UpdateInterval time.Duration `json:"update_interval"`
	AutoUpdate     bool          `json:"auto_update"`
}

// ModelPricing is the cost per 1000 tokens.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Model belongs to exactly one provider. Immutable except pricing.
type Model struct {
	ID            string       `json:"id"`
	ContextWindow int          `json:"context_window"`
	MaxOutput     int          `json:"max_output"`
	Pricing       ModelPricing `json:"pricing"`
	Capabilities  []string     `json:"capabilities,omitempty"`
}

// Provider is a named LLM vendor with an ordered model list. The first model
// is the attribution default when no model regex matches.
type Provider struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Models  []Model       `json:"models"`
	Limits  RateLimits    `json:"limits"`
	Pricing PricingPolicy `json:"pricing"`
	Enabled bool          `json:"enabled"`
}

// Model returns the model with the given id, or nil.
func (p *Provider) Model(id string) *Model {
	for i := range p.Models {
		if p.Models[i].ID == id {
			return &p.Models[i]
		}
	}
	return nil
}

// clone returns a deep copy. Snapshots must not share the Models backing
// array with the live provider: pricing refreshes mutate it in place.
func (p *Provider) clone() *Provider {
	cp := *p
	cp.Models = make([]Model, len(p.Models))
	copy(cp.Models, p.Models)
	for i := range cp.Models {
		if caps := p.Models[i].Capabilities; caps != nil {
			cp.Models[i].Capabilities = append([]string(nil), caps...)
		}
	}
	return &cp
}

// modelPattern maps a detection regex to a canonical model id.
type modelPattern struct {
	re      *regexp.Regexp
	modelID string
}

// providerPattern gates attribution for one provider. The first provider
// whose gate matches the metadata blob wins.
type providerPattern struct {
	providerID string
	gate       *regexp.Regexp
	models     []modelPattern
}

// attributionPatterns is the built-in provider detection order. More
// specific model regexes come first within a provider.
var attributionPatterns = []providerPattern{
	{
		providerID: "claude-code",
		gate:       regexp.MustCompile(`anthropic|claude`),
		models: []modelPattern{
			{regexp.MustCompile(`claude-3-5-sonnet`), "claude-3-5-sonnet-20241022"},
			{regexp.MustCompile(`claude-3-5-haiku|haiku`), "claude-3-5-haiku-20241022"},
			{regexp.MustCompile(`claude-3-opus|opus`), "claude-3-opus-20240229"},
		},
	},
	{
		providerID: "openai",
		gate:       regexp.MustCompile(`openai|gpt-|\bo1\b`),
		models: []modelPattern{
			{regexp.MustCompile(`gpt-4o-mini`), "gpt-4o-mini"},
			{regexp.MustCompile(`gpt-4o`), "gpt-4o"},
			{regexp.MustCompile(`\bo1\b`), "o1"},
		},
	},
	{
		providerID: "gemini",
		gate:       regexp.MustCompile(`gemini|google`),
		models: []modelPattern{
			{regexp.MustCompile(`gemini-1\.5-flash|flash`), "gemini-1.5-flash"},
			{regexp.MustCompile(`gemini-1\.5-pro`), "gemini-1.5-pro"},
		},
	},
}

// BuiltinProviders returns the default provider catalog. Pricing reflects
// published list prices per 1K tokens at catalog time; auto-update providers
// refresh from the configured pricing source.
func BuiltinProviders() []*Provider {
	return []*Provider{
		{
			ID:   "claude-code",
			Name: "Claude Code (Anthropic)",
			Models: []Model{
				{
					ID:            "claude-3-5-sonnet-20241022",
					ContextWindow: 200000,
					MaxOutput:     8192,
					Pricing:       ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015},
					Capabilities:  []string{"chat", "tools", "vision"},
				},
				{
					ID:            "claude-3-5-haiku-20241022",
					ContextWindow: 200000,
					MaxOutput:     8192,
					Pricing:       ModelPricing{InputPer1K: 0.0008, OutputPer1K: 0.004},
					Capabilities:  []string{"chat", "tools"},
				},
				{
					ID:            "claude-3-opus-20240229",
					ContextWindow: 200000,
					MaxOutput:     4096,
					Pricing:       ModelPricing{InputPer1K: 0.015, OutputPer1K: 0.075},
					Capabilities:  []string{"chat", "tools", "vision"},
				},
			},
			Limits:  RateLimits{RequestsPerMinute: 50, TokensPerMinute: 80000, TokensPerDay: 1000000},
			Pricing: PricingPolicy{Currency: "USD", UpdateInterval: 24 * time.Hour, AutoUpdate: false},
			Enabled: true,
		},
		{
			ID:   "openai",
			Name: "OpenAI",
			Models: []Model{
				{
					ID:            "gpt-4o",
					ContextWindow: 128000,
					MaxOutput:     16384,
					Pricing:       ModelPricing{InputPer1K: 0.0025, OutputPer1K: 0.01},
					Capabilities:  []string{"chat", "tools", "vision"},
				},
				{
					ID:            "gpt-4o-mini",
					ContextWindow: 128000,
					MaxOutput:     16384,
					Pricing:       ModelPricing{InputPer1K: 0.00015, OutputPer1K: 0.0006},
					Capabilities:  []string{"chat", "tools"},
				},
				{
					ID:            "o1",
					ContextWindow: 200000,
					MaxOutput:     100000,
					Pricing:       ModelPricing{InputPer1K: 0.015, OutputPer1K: 0.06},
					Capabilities:  []string{"chat", "reasoning"},
				},
			},
			Limits:  RateLimits{RequestsPerMinute: 60, TokensPerMinute: 90000, TokensPerDay: 2000000},
			Pricing: PricingPolicy{Currency: "USD", UpdateInterval: 24 * time.Hour, AutoUpdate: false},
			Enabled: true,
		},
		{
			ID:   "gemini",
			Name: "Google Gemini",
			Models: []Model{
				{
					ID:            "gemini-1.5-pro",
					ContextWindow: 2000000,
					MaxOutput:     8192,
					Pricing:       ModelPricing{InputPer1K: 0.00125, OutputPer1K: 0.005},
					Capabilities:  []string{"chat", "tools", "vision"},
				},
				{
					ID:            "gemini-1.5-flash",
					ContextWindow: 1000000,
					MaxOutput:     8192,
					Pricing:       ModelPricing{InputPer1K: 0.000075, OutputPer1K: 0.0003},
					Capabilities:  []string{"chat", "tools"},
				},
			},
			Limits:  RateLimits{RequestsPerMinute: 60, TokensPerMinute: 120000, TokensPerDay: 3000000},
			Pricing: PricingPolicy{Currency: "USD", UpdateInterval: 24 * time.Hour, AutoUpdate: false},
			Enabled: true,
		},
	}
}
