// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"context"
	"testing"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/codex"
	"github.com/isorabins/ai-shorthand/services/shorthand/llm"
	"github.com/isorabins/ai-shorthand/services/shorthand/patterns"
)

func words(ws ...string) []shorthand.DiscoveredWord {
	out := make([]shorthand.DiscoveredWord, len(ws))
	for i, w := range ws {
		out[i] = shorthand.DiscoveredWord{Word: w, TokenCount: 3, Frequency: 1, CompressionPotential: 2}
	}
	return out
}

func TestRun_BoundsPerWord(t *testing.T) {
	g := New(codex.NewMemory(), patterns.NewMemory(), nil, nil, Options{MaxPerWord: 3})

	out := g.Run(context.Background(), words("implementation"))
	if len(out) > 3 {
		t.Fatalf("got %d candidates, want at most 3", len(out))
	}
	for _, c := range out {
		if c.Status != shorthand.StatusPending {
			t.Errorf("candidate %q status = %q, want pending", c.Compressed, c.Status)
		}
		if c.Source != shorthand.SourceAI {
			t.Errorf("candidate %q source = %q", c.Compressed, c.Source)
		}
		if c.Compressed == c.Original {
			t.Errorf("candidate equals its own word: %q", c.Compressed)
		}
	}
}

func TestRun_NoDuplicateFormsAcrossWords(t *testing.T) {
	g := New(codex.NewMemory(), patterns.NewMemory(), nil, nil, Options{})

	out := g.Run(context.Background(), words("implementation", "infrastructure"))
	seen := map[string]string{}
	for _, c := range out {
		if owner, ok := seen[c.Compressed]; ok && owner != c.Original {
			t.Errorf("form %q proposed for both %q and %q", c.Compressed, owner, c.Original)
		}
		seen[c.Compressed] = c.Original
	}
}

func TestRun_SkipsCodexTakenForms(t *testing.T) {
	cdx := codex.NewMemory()
	if err := cdx.Put(codex.Entry{Original: "approximately", Compressed: "~", Savings: 2}); err != nil {
		t.Fatal(err)
	}
	g := New(cdx, patterns.NewMemory(), nil, nil, Options{})

	out := g.Run(context.Background(), words("implementation"))
	for _, c := range out {
		if c.Compressed == "~" {
			t.Fatal("proposed a form the codex already maps to another word")
		}
	}
}

func TestStrategyOrder_FollowsSuccessRatio(t *testing.T) {
	store := patterns.NewMemory()
	// Give abbreviation a strong record; everything else sits at the
	// baseline.
	for i := 0; i < 4; i++ {
		if err := store.RecordAttempt(shorthand.PatternAbbreviation); err != nil {
			t.Fatal(err)
		}
		if err := store.RecordSuccess(shorthand.PatternAbbreviation, shorthand.PatternExample{
			Original: "implementation", Compressed: "impl", Savings: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}
	g := New(codex.NewMemory(), store, nil, nil, Options{})

	order := g.strategyOrder()
	if order[0] != shorthand.PatternAbbreviation {
		t.Errorf("order[0] = %q, want abbreviation to lead", order[0])
	}
	if len(order) != len(shorthand.AllPatternTypes()) {
		t.Errorf("order len = %d", len(order))
	}
}

func TestStrategyOrder_TiesKeepTaxonomyOrder(t *testing.T) {
	g := New(codex.NewMemory(), patterns.NewMemory(), nil, nil, Options{})

	order := g.strategyOrder()
	for i, typ := range shorthand.AllPatternTypes() {
		if order[i] != typ {
			t.Fatalf("position %d = %q, want %q (all-baseline ties must be stable)", i, order[i], typ)
		}
	}
}

func TestRun_CreativeFillsRemainingSlots(t *testing.T) {
	creative := &llm.MockCreative{Proposals: map[string][]llm.Proposal{
		"implementation": {{Compressed: "Δ"}, {Compressed: "Σimp"}},
	}}
	g := New(codex.NewMemory(), patterns.NewMemory(), creative, nil, Options{MaxPerWord: 10})

	out := g.Run(context.Background(), words("implementation"))
	if creative.Calls() != 1 {
		t.Fatalf("creative Calls() = %d, want 1", creative.Calls())
	}

	got := map[string]bool{}
	for _, c := range out {
		got[c.Compressed] = true
	}
	if !got["Δ"] || !got["Σimp"] {
		t.Errorf("creative proposals missing from output: %v", got)
	}
}

func TestRun_CreativeFailureDegrades(t *testing.T) {
	creative := &llm.MockCreative{Err: shorthand.Categorize(shorthand.CategoryTransient, context.DeadlineExceeded)}
	g := New(codex.NewMemory(), patterns.NewMemory(), creative, nil, Options{MaxPerWord: 10})

	out := g.Run(context.Background(), words("implementation"))
	if len(out) == 0 {
		t.Error("local strategies should still produce candidates when the collaborator fails")
	}
}

func TestPropose_Helpers(t *testing.T) {
	if got := prefix("implementation", 4); got != "impl" {
		t.Errorf("prefix = %q", got)
	}
	if got := firstLast("implementation"); got != "i12n" {
		t.Errorf("firstLast = %q", got)
	}
	if got := firstLast("cat"); got != "cat" {
		t.Errorf("firstLast short word = %q", got)
	}
	if got := elideVowels("comprehensive", 8); got != "cmprhnsv" {
		t.Errorf("elideVowels = %q", got)
	}
	if got := elideVowels("", 8); got != "" {
		t.Errorf("elideVowels empty = %q", got)
	}
}
