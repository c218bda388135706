// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package patterns is the learning feedback store between validation and
// generation.
//
// Validation classifies every processed candidate's compressed form into
// one PatternType and records the outcome here; generation reads only the
// aggregated per-pattern statistics, never raw candidate history. The
// aggregation keeps the feedback loop compact and its cost independent of
// how many candidates have ever been processed.
package patterns

import (
	"encoding/json"
	"fmt"
	"sync"
	"unicode"

	"github.com/dgraph-io/badger/v4"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

// Classify places a compressed form into the fixed strategy taxonomy.
//
// The classifier looks only at the compressed form:
//
//   - no letters at all               -> PatternSymbol
//   - leading non-letter, then letters -> PatternSymbolPrefix
//   - letters only, with a vowel       -> PatternAbbreviation
//   - letters only, no vowels          -> PatternVowelElided
//   - anything else                    -> PatternOther
func Classify(compressed string) shorthand.PatternType {
	runes := []rune(compressed)
	if len(runes) == 0 {
		return shorthand.PatternOther
	}

	letters, vowels, symbols := 0, 0, 0
	for _, r := range runes {
		if unicode.IsLetter(r) && !isGreek(r) {
			letters++
			if isVowel(r) {
				vowels++
			}
		} else {
			symbols++
		}
	}

	switch {
	case letters == 0:
		return shorthand.PatternSymbol
	case symbols == 0 && vowels > 0:
		return shorthand.PatternAbbreviation
	case symbols == 0:
		return shorthand.PatternVowelElided
	case !unicode.IsLetter(runes[0]) || isGreek(runes[0]):
		if symbols == 1 {
			return shorthand.PatternSymbolPrefix
		}
		return shorthand.PatternOther
	default:
		return shorthand.PatternOther
	}
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// isGreek treats greek letters as marker symbols, matching the safe-symbol
// alphabet, not as word letters.
func isGreek(r rune) bool {
	return r >= 0x370 && r <= 0x3FF
}

// Store is the narrow pattern-statistics interface.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the record for a pattern type. Zero record if untracked.
	Get(t shorthand.PatternType) shorthand.PatternRecord

	// All returns every record in the taxonomy's stable order.
	All() []shorthand.PatternRecord

	// RecordAttempt increments the attempt tally for a pattern.
	RecordAttempt(t shorthand.PatternType) error

	// RecordSuccess increments success tallies and records the example.
	RecordSuccess(t shorthand.PatternType, ex shorthand.PatternExample) error
}

// -----------------------------------------------------------------------------
// In-memory store
// -----------------------------------------------------------------------------

// Memory is the in-memory Store.
type Memory struct {
	mu      sync.RWMutex
	records map[shorthand.PatternType]*shorthand.PatternRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[shorthand.PatternType]*shorthand.PatternRecord)}
}

// Get implements Store.
func (m *Memory) Get(t shorthand.PatternType) shorthand.PatternRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[t]; ok {
		return cloneRecord(*r)
	}
	return shorthand.PatternRecord{Type: t}
}

// All implements Store.
func (m *Memory) All() []shorthand.PatternRecord {
	out := make([]shorthand.PatternRecord, 0, len(shorthand.AllPatternTypes()))
	for _, t := range shorthand.AllPatternTypes() {
		out = append(out, m.Get(t))
	}
	return out
}

// RecordAttempt implements Store.
func (m *Memory) RecordAttempt(t shorthand.PatternType) error {
	if !t.IsValid() {
		return fmt.Errorf("patterns: unknown pattern type %q", string(t))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(t).AttemptCount++
	return nil
}

// RecordSuccess implements Store.
func (m *Memory) RecordSuccess(t shorthand.PatternType, ex shorthand.PatternExample) error {
	if !t.IsValid() {
		return fmt.Errorf("patterns: unknown pattern type %q", string(t))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recordLocked(t)
	r.SuccessCount++
	r.TotalSavings += ex.Savings
	r.AddExample(ex)
	return nil
}

// recordLocked returns the record for t, creating it if needed.
// Caller must hold m.mu.
func (m *Memory) recordLocked(t shorthand.PatternType) *shorthand.PatternRecord {
	r, ok := m.records[t]
	if !ok {
		r = &shorthand.PatternRecord{Type: t}
		m.records[t] = r
	}
	return r
}

func cloneRecord(r shorthand.PatternRecord) shorthand.PatternRecord {
	examples := make([]shorthand.PatternExample, len(r.BestExamples))
	copy(examples, r.BestExamples)
	r.BestExamples = examples
	return r
}

// -----------------------------------------------------------------------------
// Badger-backed store
// -----------------------------------------------------------------------------

const keyPrefix = "pattern:"

// Persistent serves reads from memory and writes records through to
// BadgerDB after every update.
type Persistent struct {
	mem *Memory
	db  *badger.DB
}

// NewPersistent loads existing records from db.
func NewPersistent(db *badger.DB) (*Persistent, error) {
	p := &Persistent{mem: NewMemory(), db: db}

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var r shorthand.PatternRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("patterns: decode %s: %w", it.Item().Key(), err)
			}
			p.mem.mu.Lock()
			rec := r
			p.mem.records[r.Type] = &rec
			p.mem.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get implements Store.
func (p *Persistent) Get(t shorthand.PatternType) shorthand.PatternRecord {
	return p.mem.Get(t)
}

// All implements Store.
func (p *Persistent) All() []shorthand.PatternRecord {
	return p.mem.All()
}

// RecordAttempt implements Store.
func (p *Persistent) RecordAttempt(t shorthand.PatternType) error {
	if err := p.mem.RecordAttempt(t); err != nil {
		return err
	}
	return p.flush(t)
}

// RecordSuccess implements Store.
func (p *Persistent) RecordSuccess(t shorthand.PatternType, ex shorthand.PatternExample) error {
	if err := p.mem.RecordSuccess(t, ex); err != nil {
		return err
	}
	return p.flush(t)
}

func (p *Persistent) flush(t shorthand.PatternType) error {
	r := p.mem.Get(t)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("patterns: encode %s: %w", t, err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+string(t)), data)
	})
}
