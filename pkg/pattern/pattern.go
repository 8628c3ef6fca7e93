// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package pattern holds the detection patterns the detector applies to raw
// text lines. Patterns are ordered; the first pattern whose gate regexes
// match a line wins.
package pattern

import (
	"fmt"
	"regexp"
)

// TokenExtractors captures token and cost fields from a matched line. Any
// extractor may be nil. Each regex must have exactly one capture group
// holding the numeric value.
type TokenExtractors struct {
	Input  *regexp.Regexp
	Output *regexp.Regexp
	Total  *regexp.Regexp
	Cost   *regexp.Regexp
}

// MetaExtractors captures attribution fields from a matched line. Any
// extractor may be nil.
type MetaExtractors struct {
	Model     *regexp.Regexp
	Provider  *regexp.Regexp
	Operation *regexp.Regexp
	Agent     *regexp.Regexp
	Timestamp *regexp.Regexp
}

// Pattern is a named detection pattern bundle. Patterns are immutable once
// added to a registry.
type Pattern struct {
	// Name identifies the pattern; removal is by name.
	Name string

	// Gates trigger the pattern when any of them matches the line.
	Gates []*regexp.Regexp

	// Tokens extracts numeric token fields.
	Tokens TokenExtractors

	// Metadata extracts attribution fields.
	Metadata MetaExtractors

	// Confidence in [0,1] attached to events this pattern produces.
	Confidence float64

	// Estimate enables token estimation from line length when the pattern
	// carries no numeric token extractors.
	Estimate bool
}

// Matches reports whether any gate regex matches the line.
func (p *Pattern) Matches(line string) bool {
	for _, gate := range p.Gates {
		if gate.MatchString(line) {
			return true
		}
	}
	return false
}

// Validate checks the pattern is well-formed.
func (p *Pattern) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pattern name is required")
	}
	if len(p.Gates) == 0 {
		return fmt.Errorf("pattern %q: at least one gate regex is required", p.Name)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("pattern %q: confidence must be in [0,1], got %f", p.Name, p.Confidence)
	}
	if !p.Estimate && p.Tokens.Input == nil && p.Tokens.Output == nil && p.Tokens.Total == nil {
		return fmt.Errorf("pattern %q: needs a token extractor or estimate mode", p.Name)
	}
	return nil
}

// Spec is the config-file representation of a pattern, with regexes as
// strings. Compile turns it into a Pattern, failing on any malformed regex.
type Spec struct {
	Name       string   `mapstructure:"name" json:"name"`
	Gates      []string `mapstructure:"gates" json:"gates"`
	Input      string   `mapstructure:"input" json:"input,omitempty"`
	Output     string   `mapstructure:"output" json:"output,omitempty"`
	Total      string   `mapstructure:"total" json:"total,omitempty"`
	Cost       string   `mapstructure:"cost" json:"cost,omitempty"`
	Model      string   `mapstructure:"model" json:"model,omitempty"`
	Provider   string   `mapstructure:"provider" json:"provider,omitempty"`
	Operation  string   `mapstructure:"operation" json:"operation,omitempty"`
	Agent      string   `mapstructure:"agent" json:"agent,omitempty"`
	Confidence float64  `mapstructure:"confidence" json:"confidence"`
	Estimate   bool     `mapstructure:"estimate" json:"estimate,omitempty"`
}

// Compile builds a Pattern from the spec. Malformed regexes are a
// configuration error and surface here.
func (s Spec) Compile() (*Pattern, error) {
	p := &Pattern{
		Name:       s.Name,
		Confidence: s.Confidence,
		Estimate:   s.Estimate,
	}

	for _, gate := range s.Gates {
		re, err := regexp.Compile(gate)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: invalid gate regex %q: %w", s.Name, gate, err)
		}
		p.Gates = append(p.Gates, re)
	}

	var err error
	compile := func(expr, field string) *regexp.Regexp {
		if expr == "" || err != nil {
			return nil
		}
		re, cerr := regexp.Compile(expr)
		if cerr != nil {
			err = fmt.Errorf("pattern %q: invalid %s regex %q: %w", s.Name, field, expr, cerr)
			return nil
		}
		return re
	}

	p.Tokens.Input = compile(s.Input, "input")
	p.Tokens.Output = compile(s.Output, "output")
	p.Tokens.Total = compile(s.Total, "total")
	p.Tokens.Cost = compile(s.Cost, "cost")
	p.Metadata.Model = compile(s.Model, "model")
	p.Metadata.Provider = compile(s.Provider, "provider")
	p.Metadata.Operation = compile(s.Operation, "operation")
	p.Metadata.Agent = compile(s.Agent, "agent")
	if err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
