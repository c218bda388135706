// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generation proposes candidate compressions for discovered words.
//
// The stage is purely combinatorial: it never queries the tokenizer
// oracle, so token economics are adjudicated in exactly one place
// (validation). Strategy order is steered by the pattern store's success
// ratios, with a baseline weight keeping unexplored strategies in
// rotation. The creative collaborator may add supplementary proposals;
// its prose is parsed at the llm boundary, never here.
package generation

import (
	"context"
	"log/slog"
	"sort"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/codex"
	"github.com/isorabins/ai-shorthand/services/shorthand/llm"
	"github.com/isorabins/ai-shorthand/services/shorthand/patterns"
)

// Options tune a generation run.
type Options struct {
	// MaxPerWord bounds candidates per word. Default: 5.
	MaxPerWord int

	// PatternBaseline is the success ratio assumed for patterns with no
	// history. Default: 0.3.
	PatternBaseline float64

	// SafeSymbols is the marker alphabet used by the symbol strategies,
	// in allocation order.
	SafeSymbols []rune
}

func (o *Options) applyDefaults() {
	if o.MaxPerWord <= 0 {
		o.MaxPerWord = 5
	}
	if o.PatternBaseline <= 0 {
		o.PatternBaseline = 0.3
	}
	if len(o.SafeSymbols) == 0 {
		o.SafeSymbols = []rune("~†‡§¶αβγδλπσφψω")
	}
}

// Generator is the generation stage.
type Generator struct {
	codex    codex.Codex
	store    patterns.Store
	creative llm.Creative // optional
	logger   *slog.Logger
	opts     Options
}

// New creates a Generator.
//
// Inputs:
//
//	cdx - Codex for collision avoidance. Required.
//	store - Pattern store steering strategy order. Required.
//	creative - Supplementary proposal source. May be nil.
//	logger - Destination for stage logs. Nil uses slog.Default().
//	opts - Stage options; zero values take defaults.
func New(cdx codex.Codex, store patterns.Store, creative llm.Creative, logger *slog.Logger, opts Options) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Generator{
		codex:    cdx,
		store:    store,
		creative: creative,
		logger:   logger,
		opts:     opts,
	}
}

// Run produces pending candidates for the ranked word list.
//
// Candidates are discarded pre-validation when the proposed form already
// maps to a different original in the codex, is claimed by an earlier
// candidate in this run, or equals the word itself.
func (g *Generator) Run(ctx context.Context, words []shorthand.DiscoveredWord) []shorthand.CompressionCandidate {
	ctx, span := otel.Tracer("shorthand").Start(ctx, "generation.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("words", len(words)))

	order := g.strategyOrder()
	taken := g.takenForms()

	var out []shorthand.CompressionCandidate
	for _, w := range words {
		if ctx.Err() != nil {
			break
		}
		cands := g.forWord(ctx, w.Word, order, taken)
		out = append(out, cands...)
	}

	span.SetAttributes(attribute.Int("candidates", len(out)))
	return out
}

// forWord builds up to MaxPerWord candidates for one word.
func (g *Generator) forWord(ctx context.Context, word string, order []shorthand.PatternType, taken map[string]string) []shorthand.CompressionCandidate {
	var out []shorthand.CompressionCandidate

	admit := func(form string, pattern shorthand.PatternType) bool {
		if len(out) >= g.opts.MaxPerWord {
			return false
		}
		if form == "" || form == word {
			return true // skip, keep going
		}
		if owner, ok := taken[form]; ok && owner != word {
			return true // collision with a different original
		}
		if owner, ok := g.codex.LookupCompressed(form); ok && owner != word {
			return true
		}
		taken[form] = word
		out = append(out, shorthand.NewAICandidate(word, form, pattern))
		return true
	}

	for _, pattern := range order {
		if len(out) >= g.opts.MaxPerWord {
			break
		}
		for _, form := range g.propose(word, pattern, taken) {
			if !admit(form, pattern) {
				break
			}
		}
	}

	// Supplementary creative proposals fill any remaining slots.
	if g.creative != nil && len(out) < g.opts.MaxPerWord {
		avoid := make([]string, 0, len(taken))
		for form := range taken {
			avoid = append(avoid, form)
		}
		sort.Strings(avoid)

		proposals, err := g.creative.Propose(ctx, word, avoid)
		if err != nil {
			g.logger.Debug("creative collaborator unavailable",
				"word", word, "category", shorthand.CategoryOf(err).String(), "error", err)
		}
		for _, p := range proposals {
			if len(out) >= g.opts.MaxPerWord {
				break
			}
			admit(p.Compressed, patterns.Classify(p.Compressed))
		}
	}

	return out
}

// strategyOrder returns the pattern taxonomy sorted by historical success
// ratio, best first. Ties keep the taxonomy's stable order.
func (g *Generator) strategyOrder() []shorthand.PatternType {
	types := shorthand.AllPatternTypes()
	ratios := make(map[shorthand.PatternType]float64, len(types))
	for _, t := range types {
		ratios[t] = g.store.Get(t).SuccessRatio(g.opts.PatternBaseline)
	}
	sort.SliceStable(types, func(i, j int) bool {
		return ratios[types[i]] > ratios[types[j]]
	})
	return types
}

// takenForms seeds the collision set with every active codex form.
func (g *Generator) takenForms() map[string]string {
	taken := make(map[string]string)
	for _, e := range g.codex.All() {
		taken[e.Compressed] = e.Original
	}
	return taken
}

// propose yields raw forms for one strategy, most preferred first.
func (g *Generator) propose(word string, pattern shorthand.PatternType, taken map[string]string) []string {
	switch pattern {
	case shorthand.PatternSymbol:
		if sym := g.freeSymbol(taken); sym != 0 {
			return []string{string(sym)}
		}
		return nil

	case shorthand.PatternSymbolPrefix:
		var forms []string
		for _, sym := range g.opts.SafeSymbols {
			forms = append(forms, string(sym)+prefix(word, 3))
			if len(forms) >= 3 {
				break
			}
		}
		return forms

	case shorthand.PatternAbbreviation:
		return []string{prefix(word, 4), prefix(word, 3), firstLast(word)}

	case shorthand.PatternVowelElided:
		return []string{elideVowels(word, 8)}

	case shorthand.PatternOther:
		// Mixed form: marker plus the elided skeleton.
		var forms []string
		for _, sym := range g.opts.SafeSymbols {
			forms = append(forms, string(sym)+elideVowels(word, 4))
			if len(forms) >= 2 {
				break
			}
		}
		return forms

	default:
		return nil
	}
}

// freeSymbol returns the first safe symbol not yet claimed, or 0.
func (g *Generator) freeSymbol(taken map[string]string) rune {
	for _, sym := range g.opts.SafeSymbols {
		form := string(sym)
		if _, ok := taken[form]; ok {
			continue
		}
		if _, ok := g.codex.LookupCompressed(form); ok {
			continue
		}
		return sym
	}
	return 0
}

// prefix returns the first n runes of word.
func prefix(word string, n int) string {
	runes := []rune(word)
	if len(runes) <= n {
		return word
	}
	return string(runes[:n])
}

// firstLast returns the first and last letters around the interior length,
// e.g. "implementation" -> "i12n".
func firstLast(word string) string {
	runes := []rune(word)
	if len(runes) < 4 {
		return word
	}
	interior := len(runes) - 2
	return string(runes[0]) + itoa(interior) + string(runes[len(runes)-1])
}

// elideVowels keeps the first rune and drops interior vowels, capped at
// max runes.
func elideVowels(word string, max int) string {
	runes := []rune(word)
	if len(runes) == 0 {
		return ""
	}
	out := []rune{runes[0]}
	for _, r := range runes[1:] {
		if isVowel(r) {
			continue
		}
		out = append(out, r)
		if len(out) >= max {
			break
		}
	}
	return string(out)
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// itoa avoids strconv for the tiny interior-length case.
func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}
