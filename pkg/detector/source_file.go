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
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// DefaultTailLines is how many trailing lines are replayed when a file
// source is first attached.
const DefaultTailLines = 50

// FileSource tails an append-only log file using file-change notifications.
// On attach it replays the last TailLines lines, then emits every appended
// line. Deletion or rename of the file reports the source as lost.
type FileSource struct {
	path      string
	tailLines int

	watcher *fsnotify.Watcher
	offset  int64

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewFileSource creates a file source for the given path. tailLines <= 0
// uses DefaultTailLines.
func NewFileSource(path string, tailLines int) *FileSource {
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	return &FileSource{
		path:      path,
		tailLines: tailLines,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Kind returns the file source tag.
func (s *FileSource) Kind() types.SourceKind { return types.SourceFile }

// ID returns the watched path.
func (s *FileSource) ID() string { return s.path }

// Start replays the initial tail and begins watching for appends.
func (s *FileSource) Start(ctx context.Context, emit LineHandler, lost LostHandler) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}

	tail, size, err := readTail(f, s.tailLines)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("failed to read tail of %s: %w", s.path, err)
	}
	s.offset = size

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}
	s.watcher = watcher

	for _, line := range tail {
		emit(types.SourceFile, s.path, line)
	}

	go s.watchLoop(ctx, emit, lost)
	return nil
}

// Stop releases the watcher and waits for the reader goroutine.
func (s *FileSource) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	<-s.doneCh
}

func (s *FileSource) watchLoop(ctx context.Context, emit LineHandler, lost LostHandler) {
	defer close(s.doneCh)
	defer func() { _ = s.watcher.Close() }()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				go lost(fmt.Errorf("file removed: %s", s.path))
				return
			case event.Op&fsnotify.Write != 0:
				if err := s.emitAppended(emit); err != nil {
					go lost(err)
					return
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			go lost(fmt.Errorf("watch error on %s: %w", s.path, err))
			return
		}
	}
}

// emitAppended reads lines appended since the last offset. A truncated file
// restarts from the beginning.
func (s *FileSource) emitAppended(emit LineHandler) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("file unreadable: %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat failed: %s: %w", s.path, err)
	}
	if info.Size() < s.offset {
		s.offset = 0
	}

	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek failed: %s: %w", s.path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(types.SourceFile, s.path, scanner.Text())
	}
	s.offset = info.Size()
	return nil
}

// readTail returns the last n lines of the file and its size.
func readTail(f *os.File, n int) ([]string, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, info.Size(), nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, info.Size(), nil
}
