// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"sync"
)

// MockAnalytic is a scripted Analytic for tests.
//
// Thread Safety: safe for concurrent use.
type MockAnalytic struct {
	mu sync.Mutex

	// Response is returned by every Analyze call.
	Response string

	// Err, when set, is returned instead.
	Err error

	// Prompts records every prompt received.
	Prompts []string
}

// Analyze implements Analytic.
func (m *MockAnalytic) Analyze(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Calls returns the number of Analyze invocations.
func (m *MockAnalytic) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// MockCreative is a scripted Creative for tests.
//
// Thread Safety: safe for concurrent use.
type MockCreative struct {
	mu sync.Mutex

	// Proposals maps word -> suggestions.
	Proposals map[string][]Proposal

	// Err, when set, is returned for every word.
	Err error

	calls int
}

// Propose implements Creative.
func (m *MockCreative) Propose(_ context.Context, word string, _ []string) ([]Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Proposals[word], nil
}

// Calls returns the number of Propose invocations.
func (m *MockCreative) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
