// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package shorthand defines the core data model for the compression
// discovery pipeline.
//
// The pipeline finds multi-token words in sampled text, proposes short
// substitute forms ("compressions") for them, and validates each proposal
// under token-savings, context-safety, and reversibility rules. Approved
// proposals form the Codex: the global original -> compressed mapping.
//
// This package holds only types and enums shared across stages. Stage
// logic lives in the subpackages (discovery, generation, validation,
// scheduler, ...).
package shorthand

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Source identifies who proposed a compression candidate.
type Source string

const (
	// SourceAI means the candidate came from the generation stage.
	SourceAI Source = "ai"

	// SourceHuman means the candidate was submitted externally.
	// Human candidates carry a SubmitterID.
	SourceHuman Source = "human"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid returns true if the source is a known value.
func (s Source) IsValid() bool {
	switch s {
	case SourceAI, SourceHuman:
		return true
	default:
		return false
	}
}

// Status identifies where a candidate is in its lifecycle.
//
// Candidates are created Pending, and are moved to a terminal state
// (Approved or Rejected) exactly once, by the validation stage.
type Status string

const (
	// StatusPending means the candidate has not been validated yet.
	StatusPending Status = "pending"

	// StatusApproved means the candidate passed all validation checks.
	StatusApproved Status = "approved"

	// StatusRejected means the candidate failed a validation check.
	StatusRejected Status = "rejected"
)

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if a candidate in this status is immutable.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// PatternType is a closed taxonomy of compression strategies.
//
// The pattern store tracks success rates per PatternType, never per
// individual word, which keeps the learning loop bounded.
type PatternType string

const (
	// PatternSymbol is a single safe-symbol substitution ("approximately" -> "~").
	PatternSymbol PatternType = "symbol"

	// PatternSymbolPrefix is a safe symbol followed by an abbreviation
	// ("implementation" -> "†imp").
	PatternSymbolPrefix PatternType = "symbol_prefix"

	// PatternAbbreviation is a pure letter abbreviation ("implementation" -> "impl").
	PatternAbbreviation PatternType = "abbreviation"

	// PatternVowelElided drops interior vowels ("comprehensive" -> "cmprhnsv").
	PatternVowelElided PatternType = "vowel_elided"

	// PatternOther is anything the classifier cannot place.
	PatternOther PatternType = "other"
)

// String returns the string representation of PatternType.
func (p PatternType) String() string {
	return string(p)
}

// IsValid returns true if the pattern type is a known value.
func (p PatternType) IsValid() bool {
	switch p {
	case PatternSymbol, PatternSymbolPrefix, PatternAbbreviation, PatternVowelElided, PatternOther:
		return true
	default:
		return false
	}
}

// AllPatternTypes returns the closed set of pattern types in a stable order.
func AllPatternTypes() []PatternType {
	return []PatternType{
		PatternSymbol,
		PatternSymbolPrefix,
		PatternAbbreviation,
		PatternVowelElided,
		PatternOther,
	}
}

// Stage identifies a pipeline stage. Using a closed enum rather than
// free-form stage name strings keeps dispatch exhaustive.
type Stage string

const (
	// StageDiscovery finds multi-token words in sampled text.
	StageDiscovery Stage = "discovery"

	// StageGeneration proposes candidate compressions for discovered words.
	StageGeneration Stage = "generation"

	// StageValidation accepts or rejects candidates and feeds the pattern store.
	StageValidation Stage = "validation"
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	return string(s)
}

// IsValid returns true if the stage is a known value.
func (s Stage) IsValid() bool {
	switch s {
	case StageDiscovery, StageGeneration, StageValidation:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Compression candidates
// -----------------------------------------------------------------------------

// CompressionCandidate is a proposed original -> compressed substitution.
//
// Created by the generation stage (SourceAI) or by external submission
// (SourceHuman). Token counts and the terminal status are set exclusively
// by the validation stage; once Status is terminal the candidate must not
// be mutated.
type CompressionCandidate struct {
	// Original is the word being compressed.
	Original string `json:"original"`

	// Compressed is the proposed substitute form.
	Compressed string `json:"compressed"`

	// Source is who proposed the candidate.
	Source Source `json:"source"`

	// SubmitterID identifies the submitter for SourceHuman candidates.
	// Empty for SourceAI.
	SubmitterID string `json:"submitter_id,omitempty"`

	// Pattern is the strategy class assigned by the classifier.
	Pattern PatternType `json:"pattern,omitempty"`

	// OriginalTokens is the oracle token count of Original. Zero until validated.
	OriginalTokens int `json:"original_tokens"`

	// CompressedTokens is the oracle token count of Compressed. Zero until validated.
	CompressedTokens int `json:"compressed_tokens"`

	// TokenSavings is OriginalTokens - CompressedTokens.
	TokenSavings int `json:"token_savings"`

	// IsContextSafe reports whether Compressed starts with a safe symbol.
	IsContextSafe bool `json:"is_context_safe"`

	// Status is the candidate lifecycle state.
	Status Status `json:"status"`

	// RejectionReason explains a StatusRejected outcome. Empty otherwise.
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// NewAICandidate creates a pending AI-sourced candidate.
func NewAICandidate(original, compressed string, pattern PatternType) CompressionCandidate {
	return CompressionCandidate{
		Original:   original,
		Compressed: compressed,
		Source:     SourceAI,
		Pattern:    pattern,
		Status:     StatusPending,
	}
}

// NewHumanCandidate creates a pending externally submitted candidate.
func NewHumanCandidate(original, compressed, submitterID string) CompressionCandidate {
	return CompressionCandidate{
		Original:    original,
		Compressed:  compressed,
		Source:      SourceHuman,
		SubmitterID: submitterID,
		Status:      StatusPending,
	}
}

// Key returns the codex key for this candidate.
func (c CompressionCandidate) Key() string {
	return c.Original
}

// Validate checks structural invariants that hold regardless of status.
func (c CompressionCandidate) Validate() error {
	if c.Original == "" {
		return fmt.Errorf("%w: empty original", ErrInvalidCandidate)
	}
	if c.Compressed == "" {
		return fmt.Errorf("%w: empty compressed form", ErrInvalidCandidate)
	}
	if !c.Source.IsValid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidCandidate, string(c.Source))
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCandidate, string(c.Status))
	}
	if c.TokenSavings != c.OriginalTokens-c.CompressedTokens {
		return fmt.Errorf("%w: savings %d != %d - %d",
			ErrInvalidCandidate, c.TokenSavings, c.OriginalTokens, c.CompressedTokens)
	}
	if c.Status == StatusApproved {
		if c.TokenSavings <= 0 {
			return fmt.Errorf("%w: approved with non-positive savings", ErrInvalidCandidate)
		}
		if !c.IsContextSafe {
			return fmt.Errorf("%w: approved without context safety", ErrInvalidCandidate)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Discovered words
// -----------------------------------------------------------------------------

// DiscoveredWord is a word found by the discovery stage, ranked by how much
// it would pay to compress it.
//
// DiscoveredWord values are ephemeral: produced fresh each discovery run and
// consumed by generation, never persisted.
type DiscoveredWord struct {
	// Word is the lowercased word.
	Word string `json:"word"`

	// TokenCount is the oracle token count for the word.
	TokenCount int `json:"token_count"`

	// Frequency is the case-insensitive occurrence count in the sample.
	Frequency int `json:"frequency"`

	// CompressionPotential is (TokenCount - 1) * Frequency.
	CompressionPotential int `json:"compression_potential"`
}

// SortDiscoveredWords orders words by descending potential, breaking ties
// alphabetically on the word.
func SortDiscoveredWords(words []DiscoveredWord) {
	sort.Slice(words, func(i, j int) bool {
		if words[i].CompressionPotential != words[j].CompressionPotential {
			return words[i].CompressionPotential > words[j].CompressionPotential
		}
		return words[i].Word < words[j].Word
	})
}

// -----------------------------------------------------------------------------
// Pattern records
// -----------------------------------------------------------------------------

// MaxBestExamples bounds the per-pattern example list.
const MaxBestExamples = 5

// PatternExample is a remembered high-savings win for a pattern.
type PatternExample struct {
	Original   string `json:"original"`
	Compressed string `json:"compressed"`
	Savings    int    `json:"savings"`
}

// PatternRecord aggregates validation outcomes for one strategy class.
//
// Records are never deleted, only grown. Generation orders its palette by
// SuccessRatio, so these tallies are the only feedback channel from
// validation back into generation.
type PatternRecord struct {
	// Type is the pattern this record tracks.
	Type PatternType `json:"type"`

	// AttemptCount is the number of validated candidates of this type.
	AttemptCount int `json:"attempt_count"`

	// SuccessCount is the number of approvals.
	SuccessCount int `json:"success_count"`

	// TotalSavings is the sum of TokenSavings across approvals.
	TotalSavings int `json:"total_savings"`

	// BestExamples holds up to MaxBestExamples approvals, highest savings first.
	BestExamples []PatternExample `json:"best_examples,omitempty"`
}

// SuccessRatio returns SuccessCount/AttemptCount, or the supplied baseline
// when the pattern has no history yet. The baseline keeps unexplored
// strategies in rotation.
func (r PatternRecord) SuccessRatio(baseline float64) float64 {
	if r.AttemptCount == 0 {
		return baseline
	}
	return float64(r.SuccessCount) / float64(r.AttemptCount)
}

// AddExample inserts an example keeping the list sorted by savings
// descending and truncated to MaxBestExamples.
func (r *PatternRecord) AddExample(ex PatternExample) {
	r.BestExamples = append(r.BestExamples, ex)
	sort.SliceStable(r.BestExamples, func(i, j int) bool {
		return r.BestExamples[i].Savings > r.BestExamples[j].Savings
	})
	if len(r.BestExamples) > MaxBestExamples {
		r.BestExamples = r.BestExamples[:MaxBestExamples]
	}
}

// -----------------------------------------------------------------------------
// Cycle sessions and ceremony output
// -----------------------------------------------------------------------------

// CycleSession records one discovery/generation/validation cycle for
// observability and the hourly ceremony rollup. Immutable once EndedAt is set.
type CycleSession struct {
	// ID is a unique session identifier.
	ID string `json:"id"`

	// StartedAt is when the cycle began.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the cycle reached Idle. Zero while in flight.
	EndedAt time.Time `json:"ended_at,omitempty"`

	// WordsDiscovered is the discovery stage output size.
	WordsDiscovered int `json:"words_discovered"`

	// CandidatesGenerated is the generation stage output size.
	CandidatesGenerated int `json:"candidates_generated"`

	// CandidatesApproved is the number of approvals this cycle.
	CandidatesApproved int `json:"candidates_approved"`

	// TokensSaved is the sum of approved TokenSavings this cycle.
	TokensSaved int `json:"tokens_saved"`
}

// CeremonySummary is the post-ceremony broadcast payload.
type CeremonySummary struct {
	// ApprovedCount is how many candidates the ceremony approved.
	ApprovedCount int `json:"approved_count"`

	// TotalSavings is the sum of approved TokenSavings.
	TotalSavings int `json:"total_savings"`

	// FeaturedCandidate is the highest-savings approval, if any.
	FeaturedCandidate *CompressionCandidate `json:"featured_candidate,omitempty"`
}

// -----------------------------------------------------------------------------
// Error taxonomy
// -----------------------------------------------------------------------------

// ErrInvalidCandidate marks a candidate violating structural invariants.
var ErrInvalidCandidate = errors.New("invalid compression candidate")

// ErrorCategory categorizes failures for retry and fallback decisions.
type ErrorCategory string

const (
	// CategoryNone means no error occurred.
	CategoryNone ErrorCategory = ""

	// CategoryTransient is a network/5xx collaborator failure. Retried
	// with backoff, then circuit-broken.
	CategoryTransient ErrorCategory = "transient"

	// CategoryRateLimited is a 4xx/429 from a collaborator. Not retried;
	// the caller waits out the window.
	CategoryRateLimited ErrorCategory = "rate_limited"

	// CategoryValidation is a candidate failing a local check. Not an
	// error at all: a normal rejected outcome with a reason string.
	CategoryValidation ErrorCategory = "validation"

	// CategoryConfiguration is a missing credential or endpoint. Fatal at
	// startup, never per cycle.
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryUnknown is anything else. Logged; the stage falls back to
	// its default payload and the cycle continues.
	CategoryUnknown ErrorCategory = "unknown"
)

// String returns the string representation of ErrorCategory.
func (e ErrorCategory) String() string {
	if e == CategoryNone {
		return "none"
	}
	return string(e)
}

// IsRetryable returns true if this category should trigger a retry.
// Rate-limited failures are deliberately excluded: retrying into a rate
// limit window only extends it.
func (e ErrorCategory) IsRetryable() bool {
	return e == CategoryTransient
}

// categorizedError attaches an ErrorCategory to a wrapped error.
type categorizedError struct {
	category ErrorCategory
	err      error
}

func (c *categorizedError) Error() string {
	return fmt.Sprintf("%s: %v", c.category.String(), c.err)
}

func (c *categorizedError) Unwrap() error {
	return c.err
}

// Categorize wraps err with an error category. Returns nil if err is nil.
func Categorize(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	return &categorizedError{category: category, err: err}
}

// CategoryOf walks the error chain and returns the first attached
// category. Context deadline expiry classifies as transient; anything
// unclassified is CategoryUnknown.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}
	var ce *categorizedError
	if errors.As(err, &ce) {
		return ce.category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	return CategoryUnknown
}
