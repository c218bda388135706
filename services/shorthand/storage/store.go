// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists candidates and cycle sessions.
//
// The store also carries insert notifications: external submissions
// arrive through the HTTP boundary between cycles, and the scheduler
// republishes them on the event stream while draining the pending queue
// at the start of validation. Notifications are advisory; the pending
// list is the source of truth.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

// StoredCandidate is a candidate with its storage identity.
type StoredCandidate struct {
	// ID is assigned at insert time.
	ID string `json:"id"`

	// CreatedAt is the insert timestamp.
	CreatedAt time.Time `json:"created_at"`

	shorthand.CompressionCandidate
}

// Store persists candidates and sessions.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// InsertCandidate stores a new candidate and returns its ID.
	InsertCandidate(c shorthand.CompressionCandidate) (string, error)

	// UpdateCandidate replaces a stored candidate by ID.
	UpdateCandidate(id string, c shorthand.CompressionCandidate) error

	// ListPending returns pending candidates oldest first, up to limit.
	// limit <= 0 means no limit.
	ListPending(limit int) ([]StoredCandidate, error)

	// SaveSession stores a finished cycle session.
	SaveSession(s shorthand.CycleSession) error

	// RecentSessions returns sessions newest first, up to limit.
	RecentSessions(limit int) ([]shorthand.CycleSession, error)

	// Watch returns a channel receiving inserted pending candidates.
	// Terminal inserts (cycle verdicts) do not notify. The channel is
	// buffered; notifications are dropped when it is full.
	Watch() <-chan StoredCandidate
}

// -----------------------------------------------------------------------------
// In-memory store
// -----------------------------------------------------------------------------

// Memory is the in-memory Store backing tests and local-only runs.
type Memory struct {
	mu         sync.RWMutex
	candidates map[string]StoredCandidate
	sessions   []shorthand.CycleSession
	watch      chan StoredCandidate
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		candidates: make(map[string]StoredCandidate),
		watch:      make(chan StoredCandidate, 64),
	}
}

// InsertCandidate implements Store.
func (m *Memory) InsertCandidate(c shorthand.CompressionCandidate) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	sc := StoredCandidate{
		ID:                   uuid.NewString(),
		CreatedAt:            time.Now(),
		CompressionCandidate: c,
	}

	m.mu.Lock()
	m.candidates[sc.ID] = sc
	m.mu.Unlock()

	m.notify(sc)
	return sc.ID, nil
}

// UpdateCandidate implements Store.
func (m *Memory) UpdateCandidate(id string, c shorthand.CompressionCandidate) error {
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.candidates[id]
	if !ok {
		return fmt.Errorf("storage: candidate %s not found", id)
	}
	if existing.Status.IsTerminal() {
		return fmt.Errorf("storage: candidate %s is %s and immutable", id, existing.Status)
	}
	existing.CompressionCandidate = c
	m.candidates[id] = existing
	return nil
}

// ListPending implements Store.
func (m *Memory) ListPending(limit int) ([]StoredCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []StoredCandidate
	for _, sc := range m.candidates {
		if sc.Status == shorthand.StatusPending {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSession implements Store.
func (m *Memory) SaveSession(s shorthand.CycleSession) error {
	if s.ID == "" {
		return fmt.Errorf("storage: session without ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return nil
}

// RecentSessions implements Store.
func (m *Memory) RecentSessions(limit int) ([]shorthand.CycleSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]shorthand.CycleSession, len(m.sessions))
	copy(out, m.sessions)
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Watch implements Store.
func (m *Memory) Watch() <-chan StoredCandidate {
	return m.watch
}

func (m *Memory) notify(sc StoredCandidate) {
	if sc.Status != shorthand.StatusPending {
		return
	}
	select {
	case m.watch <- sc:
	default:
		// Watcher is behind; the pending list still has the candidate.
	}
}

// -----------------------------------------------------------------------------
// Badger-backed store
// -----------------------------------------------------------------------------

const (
	candidatePrefix = "candidate:"
	sessionPrefix   = "session:"
)

// Badger is the persistent Store.
type Badger struct {
	db    *badger.DB
	watch chan StoredCandidate
}

// NewBadger creates a store over an open BadgerDB handle.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{
		db:    db,
		watch: make(chan StoredCandidate, 64),
	}
}

// InsertCandidate implements Store.
func (b *Badger) InsertCandidate(c shorthand.CompressionCandidate) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	sc := StoredCandidate{
		ID:                   uuid.NewString(),
		CreatedAt:            time.Now(),
		CompressionCandidate: c,
	}
	if err := b.writeCandidate(sc); err != nil {
		return "", err
	}

	if sc.Status == shorthand.StatusPending {
		select {
		case b.watch <- sc:
		default:
		}
	}
	return sc.ID, nil
}

// UpdateCandidate implements Store.
func (b *Badger) UpdateCandidate(id string, c shorthand.CompressionCandidate) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(candidatePrefix + id)
		item, err := txn.Get(key)
		if err != nil {
			return fmt.Errorf("storage: candidate %s: %w", id, err)
		}
		var existing StoredCandidate
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &existing)
		}); err != nil {
			return fmt.Errorf("storage: decode %s: %w", id, err)
		}
		if existing.Status.IsTerminal() {
			return fmt.Errorf("storage: candidate %s is %s and immutable", id, existing.Status)
		}

		existing.CompressionCandidate = c
		data, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("storage: encode %s: %w", id, err)
		}
		return txn.Set(key, data)
	})
}

// ListPending implements Store.
func (b *Badger) ListPending(limit int) ([]StoredCandidate, error) {
	var out []StoredCandidate

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(candidatePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sc StoredCandidate
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sc)
			}); err != nil {
				return fmt.Errorf("storage: decode %s: %w", it.Item().Key(), err)
			}
			if sc.Status == shorthand.StatusPending {
				out = append(out, sc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSession implements Store.
func (b *Badger) SaveSession(s shorthand.CycleSession) error {
	if s.ID == "" {
		return fmt.Errorf("storage: session without ID")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("storage: encode session %s: %w", s.ID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionPrefix+s.ID), data)
	})
}

// RecentSessions implements Store.
func (b *Badger) RecentSessions(limit int) ([]shorthand.CycleSession, error) {
	var out []shorthand.CycleSession

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var s shorthand.CycleSession
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return fmt.Errorf("storage: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Watch implements Store.
func (b *Badger) Watch() <-chan StoredCandidate {
	return b.watch
}

func (b *Badger) writeCandidate(sc StoredCandidate) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", sc.ID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(candidatePrefix+sc.ID), data)
	})
}
