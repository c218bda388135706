// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tokenizer provides the Tokenizer Oracle: the single source of
// truth for token counts in the pipeline.
//
// The pipeline never computes token counts itself; discovery and
// validation consult an injected Oracle. The default implementation wraps
// tiktoken's cl100k_base encoding (GPT-4 and Claude compatible). A
// heuristic estimator is available for environments where the encoding
// tables cannot be loaded, and a deterministic mock backs tests.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Oracle returns the token count for a text span.
//
// Implementations must be deterministic for identical input and safe for
// concurrent use.
type Oracle interface {
	// Count returns the number of tokens in text.
	Count(text string) (int, error)
}

// -----------------------------------------------------------------------------
// Tiktoken oracle
// -----------------------------------------------------------------------------

// Tiktoken is an Oracle backed by a tiktoken encoding.
//
// Thread Safety: Tiktoken is safe for concurrent use.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken creates an Oracle using the cl100k_base encoding.
//
// Outputs:
//
//	*Tiktoken - The oracle. Nil on error.
//	error - Non-nil if the encoding tables cannot be loaded.
func NewTiktoken() (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding: %w", err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count returns the cl100k_base token count of text.
func (t *Tiktoken) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// -----------------------------------------------------------------------------
// Heuristic estimator
// -----------------------------------------------------------------------------

// Estimator is a character/word heuristic Oracle calibrated to
// cl100k_base: roughly one token per 3.5-4 characters of English prose,
// with short words costing one token each.
//
// Use only when tiktoken initialization fails; accuracy is about ±15%.
type Estimator struct{}

// Count returns max(words * 1.25, chars / 3.5).
func (Estimator) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	byWord := float64(len(strings.Fields(text))) * 1.25
	byChar := float64(len(text)) / 3.5
	estimate := byWord
	if byChar > estimate {
		estimate = byChar
	}
	if estimate < 1 {
		estimate = 1
	}
	return int(estimate), nil
}

// NewDefault returns the tiktoken oracle, falling back to the heuristic
// estimator when the encoding tables are unavailable. The bool reports
// whether the exact oracle was used.
func NewDefault() (Oracle, bool) {
	t, err := NewTiktoken()
	if err != nil {
		return Estimator{}, false
	}
	return t, true
}

// -----------------------------------------------------------------------------
// Test mock
// -----------------------------------------------------------------------------

// Mock is a deterministic Oracle for tests: a fixed text -> count table
// with a default for unlisted inputs.
//
// Thread Safety: Mock is safe for concurrent use.
type Mock struct {
	mu sync.RWMutex

	// Counts maps exact text to its token count.
	Counts map[string]int

	// Default is returned for unlisted text. Zero means 1.
	Default int

	// Err, when set, is returned by every Count call.
	Err error

	calls int
}

// NewMock creates a mock oracle over the given table.
func NewMock(counts map[string]int) *Mock {
	return &Mock{Counts: counts, Default: 1}
}

// Count returns the configured count for text.
func (m *Mock) Count(text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Err != nil {
		return 0, m.Err
	}
	if n, ok := m.Counts[text]; ok {
		return n, nil
	}
	if m.Default == 0 {
		return 1, nil
	}
	return m.Default, nil
}

// Calls returns how many times Count was invoked.
func (m *Mock) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
