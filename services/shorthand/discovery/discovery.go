// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package discovery finds compression-worthy words in sampled text.
//
// A word is worth compressing when the tokenizer oracle prices it at two
// or more tokens; the stage ranks distinct words by
// (tokenCount - 1) * frequency and returns the top K. Discovery failures
// are never fatal to a cycle: on text-source failure the stage first asks
// the analytic collaborator for suggestions, then falls back to a fixed
// list of known multi-token words.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/llm"
	"github.com/isorabins/ai-shorthand/services/shorthand/search"
	"github.com/isorabins/ai-shorthand/services/shorthand/tokenizer"
)

// FallbackWords is the deterministic payload used when both the text
// source and the analytic collaborator are unavailable. All are known
// multi-token words under cl100k_base.
var FallbackWords = []string{
	"approximately",
	"comprehensive",
	"implementation",
	"infrastructure",
	"miscellaneous",
	"notwithstanding",
	"responsibilities",
	"unfortunately",
}

// Options tune a discovery run.
type Options struct {
	// TopWords is how many ranked words to return. Default: 10.
	TopWords int

	// MinWordLength is the minimum word length considered. Default: 3.
	MinWordLength int

	// MinTokenCount is the minimum oracle count to keep a word. Default: 2.
	MinTokenCount int
}

func (o *Options) applyDefaults() {
	if o.TopWords <= 0 {
		o.TopWords = 10
	}
	if o.MinWordLength <= 0 {
		o.MinWordLength = 3
	}
	if o.MinTokenCount <= 0 {
		o.MinTokenCount = 2
	}
}

// Discoverer is the discovery stage.
type Discoverer struct {
	source   search.Source
	oracle   tokenizer.Oracle
	analytic llm.Analytic // optional
	logger   *slog.Logger
	opts     Options
}

// New creates a Discoverer.
//
// Inputs:
//
//	source - Text source. Required.
//	oracle - Tokenizer oracle. Required.
//	analytic - Advisory collaborator for the fallback path. May be nil.
//	logger - Destination for stage logs. Nil uses slog.Default().
//	opts - Stage options; zero values take defaults.
func New(source search.Source, oracle tokenizer.Oracle, analytic llm.Analytic, logger *slog.Logger, opts Options) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Discoverer{
		source:   source,
		oracle:   oracle,
		analytic: analytic,
		logger:   logger,
		opts:     opts,
	}
}

// Run fetches a sample for topic and returns the ranked word list.
//
// Run never returns an empty list and an error together: any failure
// degrades to the fallback list. The error reports what degraded.
func (d *Discoverer) Run(ctx context.Context, topic string) ([]shorthand.DiscoveredWord, error) {
	ctx, span := otel.Tracer("shorthand").Start(ctx, "discovery.Run")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic))

	sample, err := d.source.FetchSample(ctx, topic)
	if err != nil {
		d.logger.Warn("text source failed, using fallback discovery",
			"topic", topic, "category", shorthand.CategoryOf(err).String(), "error", err)
		words := d.fallback(ctx)
		span.SetAttributes(attribute.Bool("fallback", true), attribute.Int("words", len(words)))
		return words, fmt.Errorf("discovery: sample fetch degraded: %w", err)
	}

	words, err := d.Analyze(ctx, sample.Content)
	if err != nil {
		d.logger.Warn("sample analysis failed, using fallback discovery", "error", err)
		words = d.fallback(ctx)
		span.SetAttributes(attribute.Bool("fallback", true), attribute.Int("words", len(words)))
		return words, fmt.Errorf("discovery: analysis degraded: %w", err)
	}

	span.SetAttributes(attribute.Int("words", len(words)))
	return words, nil
}

// Analyze ranks the compression-worthy words of one text sample.
//
// Inputs:
//
//	text - The sample body.
//
// Outputs:
//
//	[]shorthand.DiscoveredWord - Top K words, potential descending,
//	alphabetical tie-break.
//	error - Non-nil if the oracle fails.
func (d *Discoverer) Analyze(ctx context.Context, text string) ([]shorthand.DiscoveredWord, error) {
	freq := countWords(text, d.opts.MinWordLength)

	words := make([]shorthand.DiscoveredWord, 0, len(freq))
	for word, n := range freq {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		count, err := d.oracle.Count(word)
		if err != nil {
			return nil, fmt.Errorf("discovery: token count %q: %w", word, err)
		}
		if count < d.opts.MinTokenCount {
			continue
		}
		words = append(words, shorthand.DiscoveredWord{
			Word:                 word,
			TokenCount:           count,
			Frequency:            n,
			CompressionPotential: (count - 1) * n,
		})
	}

	shorthand.SortDiscoveredWords(words)
	if len(words) > d.opts.TopWords {
		words = words[:d.opts.TopWords]
	}
	return words, nil
}

// fallback asks the analytic collaborator for word suggestions, and on
// any failure returns the fixed list priced through the oracle when
// possible.
func (d *Discoverer) fallback(ctx context.Context) []shorthand.DiscoveredWord {
	candidates := FallbackWords

	if d.analytic != nil {
		text, err := d.analytic.Analyze(ctx,
			"List 8 common English words that language-model tokenizers split into "+
				"multiple tokens. One word per line, lowercase, no punctuation.")
		if err == nil {
			if suggested := parseWordList(text); len(suggested) > 0 {
				candidates = suggested
			}
		} else {
			d.logger.Debug("analytic fallback unavailable", "error", err)
		}
	}

	words := make([]shorthand.DiscoveredWord, 0, len(candidates))
	for _, w := range candidates {
		count, err := d.oracle.Count(w)
		if err != nil || count < d.opts.MinTokenCount {
			// Oracle down or cheap word: still include it with the
			// minimum multi-token price so the cycle has material.
			count = d.opts.MinTokenCount
		}
		words = append(words, shorthand.DiscoveredWord{
			Word:                 w,
			TokenCount:           count,
			Frequency:            1,
			CompressionPotential: count - 1,
		})
	}
	shorthand.SortDiscoveredWords(words)
	if len(words) > d.opts.TopWords {
		words = words[:d.opts.TopWords]
	}
	return words
}

// countWords builds a case-insensitive frequency table of words longer
// than minLen-1 characters. A word is a run of letters with optional
// interior apostrophes.
func countWords(text string, minLen int) map[string]int {
	freq := make(map[string]int)
	var sb strings.Builder

	flush := func() {
		word := strings.Trim(sb.String(), "'")
		sb.Reset()
		if len(word) < minLen {
			return
		}
		freq[strings.ToLower(word)]++
	}

	for _, r := range text {
		if unicode.IsLetter(r) || r == '\'' {
			sb.WriteRune(r)
			continue
		}
		if sb.Len() > 0 {
			flush()
		}
	}
	if sb.Len() > 0 {
		flush()
	}
	return freq
}

// parseWordList extracts lowercase words from collaborator prose, one
// per line, dropping anything that does not look like a plain word.
func parseWordList(text string) []string {
	var words []string
	for _, line := range strings.Split(text, "\n") {
		word := strings.ToLower(strings.Trim(strings.TrimSpace(line), "-*•0123456789. \t"))
		if word == "" || strings.ContainsAny(word, " \t") {
			continue
		}
		ok := true
		for _, r := range word {
			if !unicode.IsLetter(r) {
				ok = false
				break
			}
		}
		if ok && len(word) > 2 {
			words = append(words, word)
		}
	}
	return words
}
