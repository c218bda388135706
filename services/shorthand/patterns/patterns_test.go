// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patterns

import (
	"testing"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/storage/badgerdb"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		compressed string
		want       shorthand.PatternType
	}{
		{"~", shorthand.PatternSymbol},
		{"α", shorthand.PatternSymbol},
		{"†‡", shorthand.PatternSymbol},
		{"†imp", shorthand.PatternSymbolPrefix},
		{"αcfg", shorthand.PatternSymbolPrefix},
		{"impl", shorthand.PatternAbbreviation},
		{"approx", shorthand.PatternAbbreviation},
		{"cmprhnsv", shorthand.PatternVowelElided},
		{"mplmnt", shorthand.PatternVowelElided},
		{"†i‡p", shorthand.PatternOther},
		{"im~pl", shorthand.PatternOther},
		{"", shorthand.PatternOther},
	}
	for _, tt := range tests {
		t.Run(tt.compressed, func(t *testing.T) {
			if got := Classify(tt.compressed); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.compressed, got, tt.want)
			}
		})
	}
}

func TestMemory_RecordOutcomes(t *testing.T) {
	m := NewMemory()

	if err := m.RecordAttempt(shorthand.PatternSymbol); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := m.RecordAttempt(shorthand.PatternSymbol); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	err := m.RecordSuccess(shorthand.PatternSymbol, shorthand.PatternExample{
		Original: "approximately", Compressed: "~", Savings: 2,
	})
	if err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	r := m.Get(shorthand.PatternSymbol)
	if r.AttemptCount != 2 || r.SuccessCount != 1 || r.TotalSavings != 2 {
		t.Errorf("record = %+v", r)
	}
	if got := r.SuccessRatio(0.3); got != 0.5 {
		t.Errorf("SuccessRatio = %v, want 0.5", got)
	}
	if len(r.BestExamples) != 1 {
		t.Errorf("BestExamples len = %d", len(r.BestExamples))
	}
}

func TestMemory_UnknownPattern(t *testing.T) {
	m := NewMemory()
	if err := m.RecordAttempt(shorthand.PatternType("emoji")); err == nil {
		t.Error("unknown pattern should be refused")
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	if err := m.RecordSuccess(shorthand.PatternSymbol, shorthand.PatternExample{
		Original: "approximately", Compressed: "~", Savings: 2,
	}); err != nil {
		t.Fatal(err)
	}

	r := m.Get(shorthand.PatternSymbol)
	r.BestExamples[0].Savings = 99

	if got := m.Get(shorthand.PatternSymbol).BestExamples[0].Savings; got != 2 {
		t.Errorf("store mutated through returned record: savings = %d", got)
	}
}

func TestMemory_All_StableOrder(t *testing.T) {
	m := NewMemory()
	all := m.All()
	if len(all) != len(shorthand.AllPatternTypes()) {
		t.Fatalf("All() len = %d", len(all))
	}
	for i, typ := range shorthand.AllPatternTypes() {
		if all[i].Type != typ {
			t.Errorf("position %d = %q, want %q", i, all[i].Type, typ)
		}
	}
}

func TestPersistent_Reload(t *testing.T) {
	db, err := badgerdb.Open(badgerdb.InMemoryConfig())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer db.Close()

	p, err := NewPersistent(db)
	if err != nil {
		t.Fatalf("NewPersistent: %v", err)
	}
	if err := p.RecordAttempt(shorthand.PatternAbbreviation); err != nil {
		t.Fatal(err)
	}
	if err := p.RecordSuccess(shorthand.PatternAbbreviation, shorthand.PatternExample{
		Original: "implementation", Compressed: "impl", Savings: 1,
	}); err != nil {
		t.Fatal(err)
	}

	p2, err := NewPersistent(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	r := p2.Get(shorthand.PatternAbbreviation)
	if r.AttemptCount != 1 || r.SuccessCount != 1 {
		t.Errorf("reloaded record = %+v", r)
	}
}
