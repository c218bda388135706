// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation adjudicates compression candidates.
//
// Every pending candidate leaves this stage in a terminal state. The
// checks run in a fixed order and short-circuit on the first failure:
//
//  1. Token savings: the oracle must price the compressed form strictly
//     cheaper than the original.
//  2. Context safety: the compressed form must begin with a symbol from
//     the configured safe alphabet.
//  3. Reversibility: compress-then-expand must restore every corpus
//     sentence exactly, across all registers.
//  4. Semantic review: an advisory veto from the analytic collaborator.
//     The review is budgeted per group: one collaborator failure degrades
//     the rest of that group to checks 1-3. It never blocks a verdict.
//
// Approval is atomic with the codex write: a candidate that passes all
// checks but loses the codex conflict (form taken, or lower savings than
// the incumbent) is rejected, not left pending.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/codex"
	"github.com/isorabins/ai-shorthand/services/shorthand/llm"
	"github.com/isorabins/ai-shorthand/services/shorthand/patterns"
	"github.com/isorabins/ai-shorthand/services/shorthand/tokenizer"
)

// Rejection reason strings. Fixed so operators can aggregate on them.
const (
	ReasonNoSavings      = "no token savings"
	ReasonNotContextSafe = "not context-safe"
	ReasonSemanticVeto   = "semantic reviewer veto"
	ReasonFormTaken      = "compressed form already taken"
	ReasonLowerSavings   = "existing mapping saves more"
)

// Result is the outcome of one validation run.
type Result struct {
	// Approved holds candidates written to the codex.
	Approved []shorthand.CompressionCandidate

	// Rejected holds candidates with a RejectionReason set.
	Rejected []shorthand.CompressionCandidate

	// TokensSaved is the sum of approved TokenSavings.
	TokensSaved int
}

// Options tune a validation run.
type Options struct {
	// GroupSize bounds the semantic-review blast radius: a collaborator
	// failure degrades the rest of the failing group, not the whole
	// batch, to local-only checks. Default: 5.
	GroupSize int

	// SafeSymbols is the context-safety alphabet.
	SafeSymbols map[rune]bool
}

func (o *Options) applyDefaults() {
	if o.GroupSize <= 0 {
		o.GroupSize = 5
	}
	if o.SafeSymbols == nil {
		o.SafeSymbols = map[rune]bool{}
		for _, r := range "~†‡§¶±µαβγδλπσφψωΔΣΩ" {
			o.SafeSymbols[r] = true
		}
	}
}

// Validator is the validation stage.
type Validator struct {
	oracle   tokenizer.Oracle
	codex    codex.Codex
	store    patterns.Store
	analytic llm.Analytic // optional
	logger   *slog.Logger
	opts     Options
}

// New creates a Validator.
//
// Inputs:
//
//	oracle - Tokenizer oracle. Required: token economics are judged only here.
//	cdx - Codex written to on approval. Required.
//	store - Pattern store receiving one outcome per candidate. Required.
//	analytic - Advisory semantic reviewer. May be nil.
//	logger - Destination for stage logs. Nil uses slog.Default().
//	opts - Stage options; zero values take defaults.
func New(oracle tokenizer.Oracle, cdx codex.Codex, store patterns.Store, analytic llm.Analytic, logger *slog.Logger, opts Options) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Validator{
		oracle:   oracle,
		codex:    cdx,
		store:    store,
		analytic: analytic,
		logger:   logger,
		opts:     opts,
	}
}

// Run validates candidates in groups and returns the terminal outcomes.
//
// The returned error aggregates per-candidate oracle failures; candidates
// the oracle could not price stay pending and are absent from the Result.
func (v *Validator) Run(ctx context.Context, candidates []shorthand.CompressionCandidate) (Result, error) {
	ctx, span := otel.Tracer("shorthand").Start(ctx, "validation.Run",
		trace.WithAttributes(attribute.Int("candidates", len(candidates))))
	defer span.End()

	var res Result
	var errs []error

	for start := 0; start < len(candidates); start += v.opts.GroupSize {
		end := start + v.opts.GroupSize
		if end > len(candidates) {
			end = len(candidates)
		}

		// The semantic review is shared by the group: once the
		// collaborator fails, the rest of the group runs local-only.
		review := v.analytic != nil
		for _, cand := range candidates[start:end] {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				span.SetAttributes(attribute.Int("approved", len(res.Approved)))
				return res, errors.Join(errs...)
			}

			verdict, err := v.judge(ctx, cand, &review)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if verdict.Status == shorthand.StatusApproved {
				res.Approved = append(res.Approved, verdict)
				res.TokensSaved += verdict.TokenSavings
			} else {
				res.Rejected = append(res.Rejected, verdict)
			}
		}

		v.logger.Debug("validation group complete",
			"group_end", end, "semantic_review", review,
			"approved", len(res.Approved), "rejected", len(res.Rejected))
	}

	span.SetAttributes(
		attribute.Int("approved", len(res.Approved)),
		attribute.Int("tokens_saved", res.TokensSaved),
	)
	return res, errors.Join(errs...)
}

// Judge runs the ordered checks on one candidate and returns it in a
// terminal state. The pattern store receives exactly one outcome per
// judged candidate. A non-nil error means the candidate could not be
// judged and remains pending.
func (v *Validator) Judge(ctx context.Context, cand shorthand.CompressionCandidate) (shorthand.CompressionCandidate, error) {
	review := v.analytic != nil
	return v.judge(ctx, cand, &review)
}

// judge is Judge with the group's shared semantic-review budget: a
// collaborator failure clears *review so the rest of the group skips
// check 4.
func (v *Validator) judge(ctx context.Context, cand shorthand.CompressionCandidate, review *bool) (shorthand.CompressionCandidate, error) {
	if cand.Status.IsTerminal() {
		return cand, fmt.Errorf("validation: candidate %q already %s", cand.Key(), cand.Status)
	}

	if cand.Pattern == "" || !cand.Pattern.IsValid() {
		cand.Pattern = patterns.Classify(cand.Compressed)
	}

	// Check 1: token savings.
	origTokens, err := v.oracle.Count(cand.Original)
	if err != nil {
		return cand, fmt.Errorf("validation: price %q: %w", cand.Original, err)
	}
	compTokens, err := v.oracle.Count(cand.Compressed)
	if err != nil {
		return cand, fmt.Errorf("validation: price %q: %w", cand.Compressed, err)
	}
	cand.OriginalTokens = origTokens
	cand.CompressedTokens = compTokens
	cand.TokenSavings = origTokens - compTokens

	if cand.TokenSavings <= 0 {
		return v.reject(cand, ReasonNoSavings), nil
	}

	// Check 2: context safety.
	cand.IsContextSafe = v.isContextSafe(cand.Compressed)
	if !cand.IsContextSafe {
		return v.reject(cand, ReasonNotContextSafe), nil
	}

	// Check 3: reversibility across the corpus registers.
	if register, ok := v.roundTrips(cand.Original, cand.Compressed); !ok {
		return v.reject(cand, fmt.Sprintf("fails round-trip in %s register", register)), nil
	}

	// Check 4: advisory semantic review. Soft veto only.
	if *review {
		vetoed, err := v.semanticVeto(ctx, cand)
		switch {
		case err != nil:
			*review = false
			v.logger.Debug("semantic reviewer unavailable, group degrades to local checks",
				"original", cand.Original,
				"category", shorthand.CategoryOf(err).String(), "error", err)
		case vetoed:
			return v.reject(cand, ReasonSemanticVeto), nil
		}
	}

	// Approval is atomic with the codex write.
	err = v.codex.Put(codex.Entry{
		Original:   cand.Original,
		Compressed: cand.Compressed,
		Savings:    cand.TokenSavings,
	})
	switch {
	case errors.Is(err, codex.ErrCompressedTaken):
		return v.reject(cand, ReasonFormTaken), nil
	case errors.Is(err, codex.ErrLowerSavings):
		return v.reject(cand, ReasonLowerSavings), nil
	case err != nil:
		// Datastore trouble: the in-memory verdict stands, persistence
		// is reported upward.
		v.logger.Error("codex write failed", "original", cand.Original, "error", err)
	}

	cand.Status = shorthand.StatusApproved
	v.recordOutcome(cand)
	v.logger.Info("candidate approved",
		"original", cand.Original, "compressed", cand.Compressed,
		"savings", cand.TokenSavings, "pattern", cand.Pattern.String())
	return cand, nil
}

// reject finalizes a rejection and records the pattern outcome.
func (v *Validator) reject(cand shorthand.CompressionCandidate, reason string) shorthand.CompressionCandidate {
	cand.Status = shorthand.StatusRejected
	cand.RejectionReason = reason
	v.recordOutcome(cand)
	v.logger.Debug("candidate rejected",
		"original", cand.Original, "compressed", cand.Compressed, "reason", reason)
	return cand
}

// recordOutcome feeds the pattern store once per terminal candidate.
func (v *Validator) recordOutcome(cand shorthand.CompressionCandidate) {
	if err := v.store.RecordAttempt(cand.Pattern); err != nil {
		v.logger.Warn("pattern attempt not recorded", "pattern", cand.Pattern.String(), "error", err)
		return
	}
	if cand.Status != shorthand.StatusApproved {
		return
	}
	err := v.store.RecordSuccess(cand.Pattern, shorthand.PatternExample{
		Original:   cand.Original,
		Compressed: cand.Compressed,
		Savings:    cand.TokenSavings,
	})
	if err != nil {
		v.logger.Warn("pattern success not recorded", "pattern", cand.Pattern.String(), "error", err)
	}
}

// isContextSafe reports whether the form opens with a safe symbol.
// Safety is decided by the configured alphabet alone, never inferred
// from form length.
func (v *Validator) isContextSafe(compressed string) bool {
	for _, r := range compressed {
		return v.opts.SafeSymbols[r]
	}
	return false
}

// semanticVeto asks the analytic collaborator whether the substitution
// is ambiguous in context. Only an explicit UNSAFE answer vetoes; the
// caller turns an error into local-only validation for the group.
func (v *Validator) semanticVeto(ctx context.Context, cand shorthand.CompressionCandidate) (bool, error) {
	prompt := fmt.Sprintf(
		"In running English prose, every occurrence of the word %q will be "+
			"replaced by the marker %q and expanded back before display. "+
			"Answer SAFE if the marker cannot be confused with ordinary text, "+
			"or UNSAFE if it can. Answer with one word.",
		cand.Original, cand.Compressed)

	answer, err := v.analytic.Analyze(ctx, prompt)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToUpper(answer), "UNSAFE"), nil
}

// -----------------------------------------------------------------------------
// Reversibility corpus
// -----------------------------------------------------------------------------

// corpusSentence is one reversibility probe.
type corpusSentence struct {
	register string
	text     string
}

// registerTemplates embed the candidate word so substitution is exercised
// at least once per register.
var registerTemplates = []corpusSentence{
	{"technical", "The service reported that %s handling exceeded the configured threshold during startup."},
	{"business", "The quarterly review concluded that %s remained the primary driver of costs."},
	{"casual", "Honestly, %s came up three times before anyone noticed."},
}

// staticSentences never contain the candidate word; they catch compressed
// forms that collide with ordinary text. The symbolic register uses
// operators outside the safe alphabet so safe markers survive it.
var staticSentences = []corpusSentence{
	{"symbolic", "Solve x = y + z where 3 < n and n > 10, then divide by 2."},
	{"technical", "Restart the daemon with the usual flags and tail the log."},
}

// roundTrips compresses and expands every corpus sentence, returning the
// first failing register.
func (v *Validator) roundTrips(original, compressed string) (string, bool) {
	probes := make([]corpusSentence, 0, len(registerTemplates)+len(staticSentences))
	for _, t := range registerTemplates {
		probes = append(probes, corpusSentence{t.register, fmt.Sprintf(t.text, original)})
	}
	probes = append(probes, staticSentences...)

	for _, p := range probes {
		packed := substituteWord(p.text, original, compressed)
		restored := substituteWord(packed, compressed, original)
		if restored != p.text {
			return p.register, false
		}
	}
	return "", true
}

// substituteWord replaces whole whitespace-delimited tokens equal to from
// (ignoring surrounding punctuation) with to. Working at token granularity
// keeps the operation symmetric for symbol-bearing forms, where regexp
// word boundaries are unreliable.
func substituteWord(text, from, to string) string {
	fields := strings.Split(text, " ")
	for i, f := range fields {
		core, prefix, suffix := trimPunct(f)
		if core == from {
			fields[i] = prefix + to + suffix
		}
	}
	return strings.Join(fields, " ")
}

// trimPunct splits a token into leading punctuation, core, and trailing
// punctuation. Safe symbols are part of the core, not punctuation.
func trimPunct(token string) (core, prefix, suffix string) {
	const punct = ".,;:!?\"'()[]{}"
	start := 0
	for start < len(token) && strings.ContainsRune(punct, rune(token[start])) {
		start++
	}
	end := len(token)
	for end > start && strings.ContainsRune(punct, rune(token[end-1])) {
		end--
	}
	return token[start:end], token[:start], token[end:]
}
