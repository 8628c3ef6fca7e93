// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package detector ingests raw text from terminal panes, log files, and
// process output, matches it against the pattern registry, and emits
// detection events on the bus. Repeat hits from the same source inside the
// debounce window are suppressed.
package detector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teradata-labs/tokenwatch/internal/bus"
	"github.com/teradata-labs/tokenwatch/pkg/pattern"
	"github.com/teradata-labs/tokenwatch/pkg/types"
)

const (
	// DefaultDebounce is the per-source suppression window.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultMaxCacheSize bounds the recent-event ring.
	DefaultMaxCacheSize = 1000
	// maxLineLength bounds the raw line stored on an event.
	maxLineLength = 2000
)

// Config configures the detector.
type Config struct {
	Registry     *pattern.Registry
	Bus          *bus.Bus
	Logger       *zap.Logger
	DebounceTime time.Duration // default: 500ms
	MaxCacheSize int           // default: 1000
	Estimator    *Estimator    // optional, enables estimate-mode patterns
}

// Stats are the detector's running counters.
type Stats struct {
	TotalDetections       int64
	SuccessfulExtractions int64
	FailedExtractions     int64
	AvgProcessingTime     time.Duration
}

// Detector runs one reader per active source and applies the pattern
// registry to every line. Extraction and emission are synchronous on the
// reader goroutine.
type Detector struct {
	registry  *pattern.Registry
	bus       *bus.Bus
	logger    *zap.Logger
	debounce  time.Duration
	cacheSize int
	estimator *Estimator

	mu             sync.Mutex
	sources        map[string]Source
	lastActivity   map[string]time.Time
	debounceTimers map[string]*time.Timer
	ring           []types.DetectionEvent

	statsMu         sync.Mutex
	stats           Stats
	totalProcessing time.Duration
	processedLines  int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a detector. Registry and Bus are required.
func New(cfg Config) (*Detector, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("pattern registry is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DebounceTime <= 0 {
		cfg.DebounceTime = DefaultDebounce
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = DefaultMaxCacheSize
	}

	return &Detector{
		registry:       cfg.Registry,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		debounce:       cfg.DebounceTime,
		cacheSize:      cfg.MaxCacheSize,
		estimator:      cfg.Estimator,
		sources:        make(map[string]Source),
		lastActivity:   make(map[string]time.Time),
		debounceTimers: make(map[string]*time.Timer),
	}, nil
}

// Start prepares the detector to accept sources.
func (d *Detector) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.logger.Info("Detector started",
		zap.Duration("debounce", d.debounce),
		zap.Int("patterns", d.registry.Len()))
	return nil
}

// Stop tears down all sources and releases debounce timers.
func (d *Detector) Stop() {
	if d.cancel != nil {
		d.cancel()
	}

	d.mu.Lock()
	for id, src := range d.sources {
		src.Stop()
		delete(d.sources, id)
	}
	for id, timer := range d.debounceTimers {
		timer.Stop()
		delete(d.debounceTimers, id)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Detector stopped")
}

// AddSource starts reading from a new source. The source id must be unique
// among active sources.
func (d *Detector) AddSource(src Source) error {
	if d.ctx == nil {
		return fmt.Errorf("detector is not started")
	}

	d.mu.Lock()
	if _, exists := d.sources[src.ID()]; exists {
		d.mu.Unlock()
		return fmt.Errorf("source %q already monitored", src.ID())
	}
	d.sources[src.ID()] = src
	d.mu.Unlock()

	lost := func(err error) {
		d.logger.Warn("Source lost",
			zap.String("source_id", src.ID()),
			zap.String("kind", string(src.Kind())),
			zap.Error(err))
		d.RemoveSource(src.ID())
	}

	if err := src.Start(d.ctx, d.HandleLine, lost); err != nil {
		d.mu.Lock()
		delete(d.sources, src.ID())
		d.mu.Unlock()
		return fmt.Errorf("failed to start source %q: %w", src.ID(), err)
	}

	d.logger.Info("Source added",
		zap.String("source_id", src.ID()),
		zap.String("kind", string(src.Kind())))
	return nil
}

// RemoveSource stops a source and clears its debounce state. Restarting the
// same source later begins with fresh debounce state.
func (d *Detector) RemoveSource(id string) {
	d.mu.Lock()
	src, ok := d.sources[id]
	if ok {
		delete(d.sources, id)
	}
	if timer, exists := d.debounceTimers[id]; exists {
		timer.Stop()
		delete(d.debounceTimers, id)
	}
	delete(d.lastActivity, id)
	d.mu.Unlock()

	if ok {
		src.Stop()
	}
}

// Sources returns the ids of the active sources.
func (d *Detector) Sources() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sources))
	for id := range d.sources {
		ids = append(ids, id)
	}
	return ids
}

// HandleLine runs the per-line pipeline: debounce, pattern scan, extraction,
// emission. Malformed lines are dropped and counted, never escalated.
func (d *Detector) HandleLine(kind types.SourceKind, sourceID, line string) {
	start := time.Now()

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}

	if d.debounced(sourceID, start) {
		return
	}

	// Readers snapshot the pattern list at line arrival; registry writers
	// never block this scan.
	var matched *pattern.Pattern
	for _, p := range d.registry.List() {
		if p.Matches(line) {
			matched = p
			break
		}
	}
	if matched == nil {
		d.recordFailure(start)
		return
	}

	ev, ok := d.extract(matched, kind, sourceID, line)
	if !ok {
		d.recordFailure(start)
		return
	}

	d.mu.Lock()
	d.ring = append(d.ring, ev)
	if len(d.ring) > d.cacheSize {
		d.ring = d.ring[len(d.ring)-d.cacheSize:]
	}
	d.lastActivity[sourceID] = start
	d.resetDebounceTimerLocked(sourceID)
	d.mu.Unlock()

	d.bus.Publish(bus.EventDetection, ev)

	d.statsMu.Lock()
	d.stats.TotalDetections++
	d.stats.SuccessfulExtractions++
	d.observeProcessingLocked(time.Since(start))
	d.statsMu.Unlock()
}

// debounced reports whether the line falls inside the source's suppression
// window, resetting the silence timer if so.
func (d *Detector) debounced(sourceID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.lastActivity[sourceID]
	if !ok || now.Sub(last) >= d.debounce {
		return false
	}
	d.resetDebounceTimerLocked(sourceID)
	return true
}

// resetDebounceTimerLocked arms the timer that clears lastActivity after
// debounceTime of silence. Caller holds d.mu.
func (d *Detector) resetDebounceTimerLocked(sourceID string) {
	if timer, exists := d.debounceTimers[sourceID]; exists {
		timer.Stop()
	}
	d.debounceTimers[sourceID] = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		delete(d.lastActivity, sourceID)
		delete(d.debounceTimers, sourceID)
		d.mu.Unlock()
	})
}

// extract applies the pattern's extraction regexes with the token precedence
// total > input+output > input > estimate.
func (d *Detector) extract(p *pattern.Pattern, kind types.SourceKind, sourceID, line string) (types.DetectionEvent, bool) {
	input := extractInt(p.Tokens.Input, line)
	output := extractInt(p.Tokens.Output, line)
	total := extractInt(p.Tokens.Total, line)

	switch {
	case total > 0:
	case input > 0 && output > 0:
		total = input + output
	case input > 0:
		total = input
	case p.Estimate && d.estimator != nil:
		total = d.estimator.Count(line)
	}
	if total <= 0 {
		return types.DetectionEvent{}, false
	}

	ev := types.DetectionEvent{
		Source:       kind,
		SourceID:     sourceID,
		Line:         truncate(line, maxLineLength),
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  total,
		Cost:         extractFloat(p.Tokens.Cost, line),
		Pattern:      p.Name,
		Confidence:   p.Confidence,
		Timestamp:    time.Now(),
		Metadata: types.MetadataEnvelope{
			Provider:  extractString(p.Metadata.Provider, line),
			Model:     extractString(p.Metadata.Model, line),
			Operation: extractString(p.Metadata.Operation, line),
			Agent:     extractString(p.Metadata.Agent, line),
		},
	}
	if ev.Metadata.Agent == "" {
		ev.Metadata.Agent = sourceID
	}
	return ev, true
}

// GetRecentEvents returns cached events younger than the given duration,
// oldest first.
func (d *Detector) GetRecentEvents(window time.Duration) []types.DetectionEvent {
	cutoff := time.Now().Add(-window)

	d.mu.Lock()
	defer d.mu.Unlock()
	var out []types.DetectionEvent
	for _, ev := range d.ring {
		if ev.Timestamp.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// GetStats returns a snapshot of the detector counters.
func (d *Detector) GetStats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Detector) recordFailure(start time.Time) {
	d.statsMu.Lock()
	d.stats.FailedExtractions++
	d.observeProcessingLocked(time.Since(start))
	d.statsMu.Unlock()
}

func (d *Detector) observeProcessingLocked(elapsed time.Duration) {
	d.totalProcessing += elapsed
	d.processedLines++
	d.stats.AvgProcessingTime = d.totalProcessing / time.Duration(d.processedLines)
}

func extractInt(re *regexp.Regexp, line string) int {
	if re == nil {
		return 0
	}
	m := re.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func extractFloat(re *regexp.Regexp, line string) float64 {
	if re == nil {
		return 0
	}
	m := re.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func extractString(re *regexp.Regexp, line string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(line)
	switch {
	case len(m) >= 2:
		return m[1]
	case len(m) == 1:
		return m[0]
	default:
		return ""
	}
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
