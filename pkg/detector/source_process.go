// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package detector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// ProcessSource streams stdout and stderr of a spawned process line by line.
// Process exit reports the source as lost.
type ProcessSource struct {
	name string
	args []string

	cmd    *exec.Cmd
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopMu  sync.Mutex
	stopped bool
}

// NewProcessSource creates a process source that runs name with args.
func NewProcessSource(name string, args ...string) *ProcessSource {
	return &ProcessSource{name: name, args: args}
}

// Kind returns the process source tag.
func (s *ProcessSource) Kind() types.SourceKind { return types.SourceProcess }

// ID returns the command name.
func (s *ProcessSource) ID() string { return s.name }

// Start spawns the process and begins streaming its output.
func (s *ProcessSource) Start(ctx context.Context, emit LineHandler, lost LostHandler) error {
	ctx, s.cancel = context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, s.name, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.name, err)
	}
	s.cmd = cmd

	s.wg.Add(2)
	go s.scanLines(stdout, emit)
	go s.scanLines(stderr, emit)

	go func() {
		s.wg.Wait()
		err := cmd.Wait()

		s.stopMu.Lock()
		stopped := s.stopped
		s.stopMu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("process %s exited", s.name)
		}
		lost(err)
	}()

	return nil
}

// Stop terminates the process.
func (s *ProcessSource) Stop() {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		return
	}
	s.stopped = true
	s.stopMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *ProcessSource) scanLines(r io.Reader, emit LineHandler) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(types.SourceProcess, s.name, scanner.Text())
	}
}
