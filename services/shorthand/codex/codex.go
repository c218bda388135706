// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package codex holds the global table of approved original -> compressed
// mappings.
//
// Two invariants are enforced at the write path:
//
//   - Uniqueness both ways: one active compressed form per original, and
//     no compressed form shared by two originals.
//   - Displacement only for strictly greater savings: the codex is
//     append-only in steady state; an existing entry yields only to a
//     candidate that saves strictly more tokens.
//
// The store is modeled as an injected object behind a narrow interface so
// tests supply an isolated in-memory instance per case.
package codex

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Entry is one active codex mapping.
type Entry struct {
	// Original is the uncompressed word (unique key).
	Original string `json:"original"`

	// Compressed is the active substitute form (unique value).
	Compressed string `json:"compressed"`

	// Savings is the token savings the entry was approved with.
	Savings int `json:"savings"`
}

// ErrLowerSavings means an existing entry for the original already saves
// at least as much.
var ErrLowerSavings = errors.New("codex: existing entry has equal or greater savings")

// ErrCompressedTaken means the compressed form is mapped to a different
// original.
var ErrCompressedTaken = errors.New("codex: compressed form already taken")

// Codex is the narrow store interface the pipeline depends on.
//
// Implementations must be safe for concurrent use.
type Codex interface {
	// Get returns the active compressed form for original.
	Get(original string) (Entry, bool)

	// LookupCompressed returns the original a compressed form maps to.
	LookupCompressed(compressed string) (string, bool)

	// Put inserts or displaces an entry, enforcing both invariants.
	// Returns ErrLowerSavings or ErrCompressedTaken on conflict.
	Put(e Entry) error

	// All returns every entry sorted by original.
	All() []Entry

	// Len returns the number of active entries.
	Len() int
}

// -----------------------------------------------------------------------------
// In-memory codex
// -----------------------------------------------------------------------------

// Memory is the in-memory Codex. It backs tests directly and is the
// working set for the persistent implementation.
type Memory struct {
	mu      sync.RWMutex
	byWord  map[string]Entry
	byShort map[string]string // compressed -> original
}

// NewMemory creates an empty in-memory codex.
func NewMemory() *Memory {
	return &Memory{
		byWord:  make(map[string]Entry),
		byShort: make(map[string]string),
	}
}

// Get implements Codex.
func (m *Memory) Get(original string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byWord[original]
	return e, ok
}

// LookupCompressed implements Codex.
func (m *Memory) LookupCompressed(compressed string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orig, ok := m.byShort[compressed]
	return orig, ok
}

// Put implements Codex.
func (m *Memory) Put(e Entry) error {
	if e.Original == "" || e.Compressed == "" {
		return fmt.Errorf("codex: empty entry field")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.byShort[e.Compressed]; ok && owner != e.Original {
		return fmt.Errorf("%w: %q -> %q", ErrCompressedTaken, e.Compressed, owner)
	}
	if existing, ok := m.byWord[e.Original]; ok {
		if e.Savings <= existing.Savings {
			return fmt.Errorf("%w: %q saves %d, existing saves %d",
				ErrLowerSavings, e.Original, e.Savings, existing.Savings)
		}
		delete(m.byShort, existing.Compressed)
	}

	m.byWord[e.Original] = e
	m.byShort[e.Compressed] = e.Original
	return nil
}

// All implements Codex.
func (m *Memory) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.byWord))
	for _, e := range m.byWord {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Original < entries[j].Original
	})
	return entries
}

// Len implements Codex.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byWord)
}

// -----------------------------------------------------------------------------
// Badger-backed codex
// -----------------------------------------------------------------------------

const keyPrefix = "codex:"

// Persistent is a Codex that serves reads from memory and writes through
// to BadgerDB. Datastore failures on the write path are surfaced but do
// not unwind the in-memory state: validation decisions must not depend on
// datastore availability.
type Persistent struct {
	mem *Memory
	db  *badger.DB
}

// NewPersistent loads all entries from db into memory.
func NewPersistent(db *badger.DB) (*Persistent, error) {
	p := &Persistent{mem: NewMemory(), db: db}

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("codex: decode %s: %w", it.Item().Key(), err)
			}
			if err := p.mem.Put(e); err != nil {
				return fmt.Errorf("codex: load %q: %w", e.Original, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get implements Codex.
func (p *Persistent) Get(original string) (Entry, bool) {
	return p.mem.Get(original)
}

// LookupCompressed implements Codex.
func (p *Persistent) LookupCompressed(compressed string) (string, bool) {
	return p.mem.LookupCompressed(compressed)
}

// Put implements Codex.
func (p *Persistent) Put(e Entry) error {
	if err := p.mem.Put(e); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("codex: encode %q: %w", e.Original, err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+e.Original), data)
	})
}

// All implements Codex.
func (p *Persistent) All() []Entry {
	return p.mem.All()
}

// Len implements Codex.
func (p *Persistent) Len() int {
	return p.mem.Len()
}
