// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package detector

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator provides token estimation for lines without numeric token
// fields. Uses tiktoken with cl100k_base encoding, a good approximation for
// Claude and GPT models alike; falls back to char/4 when the encoding is
// unavailable.
type Estimator struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalEstimator *Estimator
	estimatorOnce   sync.Once
)

// NewEstimator returns the singleton estimator.
func NewEstimator() *Estimator {
	estimatorOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			globalEstimator = &Estimator{}
			return
		}
		globalEstimator = &Estimator{encoder: tkm}
	})
	return globalEstimator
}

// Count returns the estimated token count for the text.
func (e *Estimator) Count(text string) int {
	if e.encoder == nil {
		return len(text) / 4
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoder.Encode(text, nil, nil))
}
