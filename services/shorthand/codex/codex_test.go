// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codex

import (
	"errors"
	"testing"

	"github.com/isorabins/ai-shorthand/services/shorthand/storage/badgerdb"
)

func TestMemory_Put_Uniqueness(t *testing.T) {
	m := NewMemory()

	if err := m.Put(Entry{Original: "approximately", Compressed: "~", Savings: 2}); err != nil {
		t.Fatalf("first Put: %v", err)
	}

	// Same compressed form for a different original must be refused.
	err := m.Put(Entry{Original: "implementation", Compressed: "~", Savings: 3})
	if !errors.Is(err, ErrCompressedTaken) {
		t.Errorf("Put with taken form: error = %v, want ErrCompressedTaken", err)
	}

	// The original mapping is intact.
	if orig, ok := m.LookupCompressed("~"); !ok || orig != "approximately" {
		t.Errorf("LookupCompressed(~) = %q, %v", orig, ok)
	}
}

func TestMemory_Put_DisplacementRequiresStrictlyMore(t *testing.T) {
	m := NewMemory()
	if err := m.Put(Entry{Original: "approximately", Compressed: "~", Savings: 2}); err != nil {
		t.Fatalf("seed Put: %v", err)
	}

	// Equal savings does not displace.
	err := m.Put(Entry{Original: "approximately", Compressed: "§", Savings: 2})
	if !errors.Is(err, ErrLowerSavings) {
		t.Errorf("equal savings: error = %v, want ErrLowerSavings", err)
	}

	// Strictly greater savings displaces and frees the old form.
	if err := m.Put(Entry{Original: "approximately", Compressed: "§", Savings: 3}); err != nil {
		t.Fatalf("displacing Put: %v", err)
	}
	if _, ok := m.LookupCompressed("~"); ok {
		t.Error("displaced form should be free")
	}
	if e, _ := m.Get("approximately"); e.Compressed != "§" || e.Savings != 3 {
		t.Errorf("Get = %+v, want § with savings 3", e)
	}

	// The freed form is reusable by another original.
	if err := m.Put(Entry{Original: "unfortunately", Compressed: "~", Savings: 1}); err != nil {
		t.Errorf("reusing freed form: %v", err)
	}
}

func TestMemory_Put_EmptyFields(t *testing.T) {
	m := NewMemory()
	if err := m.Put(Entry{Compressed: "~"}); err == nil {
		t.Error("empty original should be refused")
	}
	if err := m.Put(Entry{Original: "word"}); err == nil {
		t.Error("empty compressed should be refused")
	}
}

func TestMemory_All_Sorted(t *testing.T) {
	m := NewMemory()
	for _, e := range []Entry{
		{Original: "unfortunately", Compressed: "ψ", Savings: 1},
		{Original: "approximately", Compressed: "~", Savings: 2},
		{Original: "implementation", Compressed: "†", Savings: 2},
	} {
		if err := m.Put(e); err != nil {
			t.Fatalf("Put(%q): %v", e.Original, err)
		}
	}

	all := m.All()
	if len(all) != 3 || m.Len() != 3 {
		t.Fatalf("All() len = %d, Len() = %d", len(all), m.Len())
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Original >= all[i].Original {
			t.Errorf("All() not sorted: %q before %q", all[i-1].Original, all[i].Original)
		}
	}
}

func TestPersistent_RoundTrip(t *testing.T) {
	db, err := badgerdb.Open(badgerdb.InMemoryConfig())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer db.Close()

	p, err := NewPersistent(db)
	if err != nil {
		t.Fatalf("NewPersistent: %v", err)
	}
	if err := p.Put(Entry{Original: "approximately", Compressed: "~", Savings: 2}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A second instance over the same db sees the entry.
	p2, err := NewPersistent(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	e, ok := p2.Get("approximately")
	if !ok || e.Compressed != "~" || e.Savings != 2 {
		t.Errorf("reloaded entry = %+v, ok = %v", e, ok)
	}
}
