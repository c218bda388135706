// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/codex"
	"github.com/isorabins/ai-shorthand/services/shorthand/llm"
	"github.com/isorabins/ai-shorthand/services/shorthand/patterns"
	"github.com/isorabins/ai-shorthand/services/shorthand/tokenizer"
)

func newValidator(t *testing.T, oracle tokenizer.Oracle, analytic llm.Analytic) (*Validator, *codex.Memory, *patterns.Memory) {
	t.Helper()
	cdx := codex.NewMemory()
	store := patterns.NewMemory()
	v := New(oracle, cdx, store, analytic, nil, Options{})
	return v, cdx, store
}

func TestJudge_ApprovesGreekSymbol(t *testing.T) {
	// A one-token savings is still a savings: α costs 2 tokens against
	// approximately's 3.
	oracle := tokenizer.NewMock(map[string]int{
		"approximately": 3,
		"α":             2,
	})
	v, cdx, store := newValidator(t, oracle, nil)

	got, err := v.Judge(context.Background(), shorthand.NewAICandidate("approximately", "α", shorthand.PatternSymbol))
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	if got.Status != shorthand.StatusApproved {
		t.Fatalf("Status = %q (reason %q), want approved", got.Status, got.RejectionReason)
	}
	if got.TokenSavings != 1 {
		t.Errorf("TokenSavings = %d, want 1", got.TokenSavings)
	}
	if !got.IsContextSafe {
		t.Error("IsContextSafe should be true")
	}
	if e, ok := cdx.Get("approximately"); !ok || e.Compressed != "α" {
		t.Errorf("codex entry = %+v, ok = %v", e, ok)
	}
	r := store.Get(shorthand.PatternSymbol)
	if r.AttemptCount != 1 || r.SuccessCount != 1 {
		t.Errorf("pattern record = %+v, want one attempt one success", r)
	}
}

func TestJudge_RejectsNoTokenSavings(t *testing.T) {
	oracle := tokenizer.NewMock(map[string]int{
		"cat": 1,
		"~":   1,
	})
	v, cdx, store := newValidator(t, oracle, nil)

	got, err := v.Judge(context.Background(), shorthand.NewAICandidate("cat", "~", shorthand.PatternSymbol))
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}

	if got.Status != shorthand.StatusRejected {
		t.Fatalf("Status = %q, want rejected", got.Status)
	}
	if got.RejectionReason != ReasonNoSavings {
		t.Errorf("RejectionReason = %q, want %q", got.RejectionReason, ReasonNoSavings)
	}
	if cdx.Len() != 0 {
		t.Error("rejected candidate must not enter the codex")
	}
	r := store.Get(shorthand.PatternSymbol)
	if r.AttemptCount != 1 || r.SuccessCount != 0 {
		t.Errorf("pattern record = %+v, want one attempt no success", r)
	}
}

func TestJudge_RejectsUnsafeForm(t *testing.T) {
	// "impl" saves tokens but opens with a letter, not a safe symbol.
	// Savings never overrides the allow-list.
	oracle := tokenizer.NewMock(map[string]int{
		"implementation": 3,
		"impl":           1,
	})
	v, _, _ := newValidator(t, oracle, nil)

	got, err := v.Judge(context.Background(), shorthand.NewAICandidate("implementation", "impl", shorthand.PatternAbbreviation))
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if got.Status != shorthand.StatusRejected || got.RejectionReason != ReasonNotContextSafe {
		t.Errorf("got %q / %q, want rejected / %q", got.Status, got.RejectionReason, ReasonNotContextSafe)
	}
}

func TestJudge_ChecksShortCircuitInOrder(t *testing.T) {
	// Fails both savings and safety; the savings reason must win.
	oracle := tokenizer.NewMock(map[string]int{
		"cat":  1,
		"impl": 1,
	})
	v, _, _ := newValidator(t, oracle, nil)

	got, err := v.Judge(context.Background(), shorthand.NewAICandidate("cat", "impl", shorthand.PatternAbbreviation))
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if got.RejectionReason != ReasonNoSavings {
		t.Errorf("RejectionReason = %q, want the savings check to fire first", got.RejectionReason)
	}
}

func TestJudge_SemanticVeto(t *testing.T) {
	oracle := tokenizer.NewMock(map[string]int{
		"approximately": 3,
		"~":             1,
	})

	t.Run("unsafe answer vetoes", func(t *testing.T) {
		analytic := &llm.MockAnalytic{Response: "UNSAFE"}
		v, cdx, _ := newValidator(t, oracle, analytic)

		got, err := v.Judge(context.Background(), shorthand.NewAICandidate("approximately", "~", shorthand.PatternSymbol))
		if err != nil {
			t.Fatalf("Judge: %v", err)
		}
		if got.Status != shorthand.StatusRejected || got.RejectionReason != ReasonSemanticVeto {
			t.Errorf("got %q / %q", got.Status, got.RejectionReason)
		}
		if cdx.Len() != 0 {
			t.Error("vetoed candidate must not enter the codex")
		}
	})

	t.Run("collaborator failure degrades to local-only", func(t *testing.T) {
		analytic := &llm.MockAnalytic{Err: shorthand.Categorize(shorthand.CategoryTransient, errors.New("down"))}
		v, _, _ := newValidator(t, oracle, analytic)

		got, err := v.Judge(context.Background(), shorthand.NewAICandidate("approximately", "~", shorthand.PatternSymbol))
		if err != nil {
			t.Fatalf("Judge: %v", err)
		}
		if got.Status != shorthand.StatusApproved {
			t.Errorf("Status = %q (reason %q), want approved despite reviewer outage",
				got.Status, got.RejectionReason)
		}
	})
}

func TestJudge_CodexConflicts(t *testing.T) {
	oracle := tokenizer.NewMock(map[string]int{
		"approximately": 3,
		"unfortunately": 3,
		"~":             1,
		"§":             1,
	})

	t.Run("taken form rejects", func(t *testing.T) {
		v, cdx, _ := newValidator(t, oracle, nil)
		if err := cdx.Put(codex.Entry{Original: "unfortunately", Compressed: "~", Savings: 2}); err != nil {
			t.Fatal(err)
		}

		got, err := v.Judge(context.Background(), shorthand.NewAICandidate("approximately", "~", shorthand.PatternSymbol))
		if err != nil {
			t.Fatalf("Judge: %v", err)
		}
		if got.Status != shorthand.StatusRejected || got.RejectionReason != ReasonFormTaken {
			t.Errorf("got %q / %q", got.Status, got.RejectionReason)
		}
	})

	t.Run("incumbent with more savings rejects", func(t *testing.T) {
		v, cdx, _ := newValidator(t, oracle, nil)
		if err := cdx.Put(codex.Entry{Original: "approximately", Compressed: "~", Savings: 5}); err != nil {
			t.Fatal(err)
		}

		got, err := v.Judge(context.Background(), shorthand.NewAICandidate("approximately", "§", shorthand.PatternSymbol))
		if err != nil {
			t.Fatalf("Judge: %v", err)
		}
		if got.Status != shorthand.StatusRejected || got.RejectionReason != ReasonLowerSavings {
			t.Errorf("got %q / %q", got.Status, got.RejectionReason)
		}
	})
}

func TestJudge_OracleFailureLeavesPending(t *testing.T) {
	oracle := tokenizer.NewMock(nil)
	oracle.Err = errors.New("encoding unavailable")
	v, _, store := newValidator(t, oracle, nil)

	got, err := v.Judge(context.Background(), shorthand.NewAICandidate("approximately", "~", shorthand.PatternSymbol))
	if err == nil {
		t.Fatal("expected an error when the oracle is down")
	}
	if got.Status.IsTerminal() {
		t.Errorf("Status = %q, want still pending", got.Status)
	}
	if r := store.Get(shorthand.PatternSymbol); r.AttemptCount != 0 {
		t.Error("unjudged candidate must not touch the pattern store")
	}
}

func TestJudge_ClassifiesMissingPattern(t *testing.T) {
	oracle := tokenizer.NewMock(map[string]int{
		"approximately": 3,
		"~":             1,
	})
	v, _, _ := newValidator(t, oracle, nil)

	cand := shorthand.NewHumanCandidate("approximately", "~", "user-1")
	got, err := v.Judge(context.Background(), cand)
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if got.Pattern != shorthand.PatternSymbol {
		t.Errorf("Pattern = %q, want classifier to fill it in", got.Pattern)
	}
}

func TestRun_GroupsAndTotals(t *testing.T) {
	oracle := tokenizer.NewMock(map[string]int{
		"approximately":  3,
		"implementation": 3,
		"cat":            1,
		"~":              1,
		"†":              1,
	})
	v, _, _ := newValidator(t, oracle, nil)

	cands := []shorthand.CompressionCandidate{
		shorthand.NewAICandidate("approximately", "~", shorthand.PatternSymbol),
		shorthand.NewAICandidate("implementation", "†", shorthand.PatternSymbol),
		shorthand.NewAICandidate("cat", "impl", shorthand.PatternAbbreviation),
	}
	res, err := v.Run(context.Background(), cands)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Approved) != 2 || len(res.Rejected) != 1 {
		t.Fatalf("approved %d, rejected %d", len(res.Approved), len(res.Rejected))
	}
	if res.TokensSaved != 4 {
		t.Errorf("TokensSaved = %d, want 4", res.TokensSaved)
	}
}

func TestRun_CollaboratorFailureDegradesGroup(t *testing.T) {
	// A reviewer outage costs the failing group, not the batch: with six
	// candidates in groups of three, the collaborator is asked once per
	// group and every candidate still reaches a verdict on local checks.
	oracle := tokenizer.NewMock(map[string]int{
		"approximately":  3,
		"implementation": 3,
		"infrastructure": 3,
		"unfortunately":  3,
		"comprehensive":  3,
		"configuration":  3,
	})
	analytic := &llm.MockAnalytic{Err: shorthand.Categorize(shorthand.CategoryTransient, errors.New("down"))}
	cdx := codex.NewMemory()
	store := patterns.NewMemory()
	v := New(oracle, cdx, store, analytic, nil, Options{GroupSize: 3})

	cands := []shorthand.CompressionCandidate{
		shorthand.NewAICandidate("approximately", "~", shorthand.PatternSymbol),
		shorthand.NewAICandidate("implementation", "†", shorthand.PatternSymbol),
		shorthand.NewAICandidate("infrastructure", "‡", shorthand.PatternSymbol),
		shorthand.NewAICandidate("unfortunately", "§", shorthand.PatternSymbol),
		shorthand.NewAICandidate("comprehensive", "¶", shorthand.PatternSymbol),
		shorthand.NewAICandidate("configuration", "±", shorthand.PatternSymbol),
	}
	res, err := v.Run(context.Background(), cands)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := analytic.Calls(); got != 2 {
		t.Errorf("reviewer calls = %d, want one per group", got)
	}
	if len(res.Approved) != len(cands) {
		t.Errorf("approved = %d, want %d despite the reviewer outage",
			len(res.Approved), len(cands))
	}
}

func TestRun_HealthyReviewerSeesEveryCandidate(t *testing.T) {
	oracle := tokenizer.NewMock(map[string]int{
		"approximately":  3,
		"implementation": 3,
	})
	analytic := &llm.MockAnalytic{Response: "SAFE"}
	cdx := codex.NewMemory()
	store := patterns.NewMemory()
	v := New(oracle, cdx, store, analytic, nil, Options{GroupSize: 1})

	cands := []shorthand.CompressionCandidate{
		shorthand.NewAICandidate("approximately", "~", shorthand.PatternSymbol),
		shorthand.NewAICandidate("implementation", "†", shorthand.PatternSymbol),
	}
	if _, err := v.Run(context.Background(), cands); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := analytic.Calls(); got != 2 {
		t.Errorf("reviewer calls = %d, want one per candidate while healthy", got)
	}
}

func TestRoundTrip_SubstituteWord(t *testing.T) {
	text := "Honestly, approximately came up three times before anyone noticed."
	packed := substituteWord(text, "approximately", "~")
	if !strings.Contains(packed, "~") || strings.Contains(packed, "approximately") {
		t.Errorf("compress failed: %q", packed)
	}
	restored := substituteWord(packed, "~", "approximately")
	if restored != text {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", restored, text)
	}
}

func TestRoundTrip_PreservesPunctuation(t *testing.T) {
	text := "It was approximately, give or take."
	packed := substituteWord(text, "approximately", "~")
	if packed != "It was ~, give or take." {
		t.Errorf("packed = %q", packed)
	}
	if restored := substituteWord(packed, "~", "approximately"); restored != text {
		t.Errorf("restored = %q", restored)
	}
}
