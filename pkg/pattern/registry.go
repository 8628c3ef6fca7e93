// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pattern

import (
	"fmt"
	"sync"
)

// Registry stores an ordered set of detection patterns. It is read-mostly:
// readers snapshot the pattern list, writers are serialized against readers
// with a single RWMutex so pattern scans never observe a partial update.
type Registry struct {
	mu       sync.RWMutex
	patterns []*Pattern
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a pattern at the end of the scan order. Duplicate names are
// rejected so removal by name stays unambiguous.
func (r *Registry) Add(p *Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.patterns {
		if existing.Name == p.Name {
			return fmt.Errorf("pattern %q already registered", p.Name)
		}
	}
	r.patterns = append(r.patterns, p)
	return nil
}

// Remove deletes a pattern by name. Returns false if the name is unknown.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.patterns {
		if p.Name == name {
			r.patterns = append(r.patterns[:i], r.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// List returns a snapshot of the patterns in scan order. The returned slice
// is a copy; patterns themselves are immutable.
func (r *Registry) List() []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}
