// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the completion collaborator interfaces used by the
// pipeline, plus the OpenAI-backed implementation.
//
// Two collaborators exist:
//
//   - Analytic: advisory analysis (semantic-consistency checks, discovery
//     word suggestions). May fail or time out; callers treat its output as
//     a soft signal only.
//   - Creative: supplementary candidate proposals for the generation
//     stage, parsed from prose by a best-effort extraction adapter at this
//     boundary. The core never parses collaborator prose itself.
//
// Thread Safety: all implementations are safe for concurrent use.
package llm

import (
	"context"
	"strings"
)

// Analytic is the advisory completion collaborator.
type Analytic interface {
	// Analyze sends a prompt and returns the raw completion text.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout.
	//   prompt - The analysis prompt.
	//
	// Outputs:
	//   string - The completion text.
	//   error - Non-nil on failure; callers must degrade gracefully.
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Proposal is one structured compression suggestion extracted at the
// collaborator boundary.
type Proposal struct {
	// Compressed is the proposed substitute form.
	Compressed string `json:"compressed"`
}

// Creative is the supplementary candidate source for generation.
type Creative interface {
	// Propose suggests compressed forms for word, avoiding the taken set.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout.
	//   word - The word to compress.
	//   taken - Compressed forms already in use (codex collision avoidance).
	//
	// Outputs:
	//   []Proposal - Zero or more structured suggestions.
	//   error - Non-nil on failure; generation treats this as "no extras".
	Propose(ctx context.Context, word string, taken []string) ([]Proposal, error)
}

// ParseProposals extracts compressed forms from free-form collaborator
// text. This is the structured-extraction adapter: one suggestion per
// line, optional "N." or "-" prefixes, first whitespace-delimited token
// wins, surrounding quotes stripped.
func ParseProposals(text string) []Proposal {
	var proposals []Proposal
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "-*•0123456789.) \t")
		if line == "" {
			continue
		}
		token := strings.Fields(line)[0]
		token = strings.Trim(token, `"'`+"`")
		token = strings.TrimSuffix(token, ",")
		if token == "" || len(token) > 12 {
			continue
		}
		proposals = append(proposals, Proposal{Compressed: token})
	}
	return proposals
}
