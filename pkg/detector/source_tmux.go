// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package detector

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// DefaultCaptureInterval is how often a tmux pane is captured.
const DefaultCaptureInterval = 5 * time.Second

// TmuxSource periodically captures the contents of a tmux pane and emits
// lines that were appended since the previous capture. A vanished pane
// reports the source as lost.
type TmuxSource struct {
	target   string // tmux target-pane, e.g. "session:window.pane"
	interval time.Duration

	prev []string

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex

	// capture is swappable for tests.
	capture func(ctx context.Context, target string) (string, error)
}

// NewTmuxSource creates a tmux pane source. interval <= 0 uses
// DefaultCaptureInterval.
func NewTmuxSource(target string, interval time.Duration) *TmuxSource {
	if interval <= 0 {
		interval = DefaultCaptureInterval
	}
	return &TmuxSource{
		target:   target,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		capture:  capturePane,
	}
}

// Kind returns the terminal source tag.
func (s *TmuxSource) Kind() types.SourceKind { return types.SourceTerminal }

// ID returns the tmux target pane.
func (s *TmuxSource) ID() string { return s.target }

// Start begins the periodic capture loop.
func (s *TmuxSource) Start(ctx context.Context, emit LineHandler, lost LostHandler) error {
	// Prime with the current pane contents so only new lines are emitted.
	initial, err := s.capture(ctx, s.target)
	if err != nil {
		return fmt.Errorf("failed to capture pane %s: %w", s.target, err)
	}
	s.prev = splitPane(initial)

	go s.captureLoop(ctx, emit, lost)
	return nil
}

// Stop halts the capture loop.
func (s *TmuxSource) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	<-s.doneCh
}

func (s *TmuxSource) captureLoop(ctx context.Context, emit LineHandler, lost LostHandler) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := s.capture(ctx, s.target)
			if err != nil {
				go lost(fmt.Errorf("pane %s gone: %w", s.target, err))
				return
			}
			current := splitPane(out)
			for _, line := range newLines(s.prev, current) {
				emit(types.SourceTerminal, s.target, line)
			}
			s.prev = current
		}
	}
}

func capturePane(ctx context.Context, target string) (string, error) {
	out, err := exec.CommandContext(ctx, "tmux", "capture-pane", "-p", "-t", target).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func splitPane(capture string) []string {
	trimmed := strings.TrimRight(capture, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// newLines returns the lines of current that appeared after the last line of
// prev. When the previous tail cannot be located (pane cleared or scrolled
// past), the whole capture is treated as new.
func newLines(prev, current []string) []string {
	if len(prev) == 0 {
		return current
	}
	anchor := prev[len(prev)-1]
	for i := len(current) - 1; i >= 0; i-- {
		if current[i] == anchor {
			return current[i+1:]
		}
	}
	return current
}
