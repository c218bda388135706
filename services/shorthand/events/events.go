// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events lets external systems observe the pipeline without
// coupling to the scheduler or stage implementations.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeCycleStarted is emitted when a pipeline cycle begins.
	TypeCycleStarted Type = "cycle_started"

	// TypeCycleCompleted is emitted when a cycle returns to idle.
	TypeCycleCompleted Type = "cycle_completed"

	// TypeStageCompleted is emitted after each pipeline stage.
	TypeStageCompleted Type = "stage_completed"

	// TypeCandidateApproved is emitted per validation approval.
	TypeCandidateApproved Type = "candidate_approved"

	// TypeCandidateRejected is emitted per validation rejection.
	TypeCandidateRejected Type = "candidate_rejected"

	// TypeCandidateSubmitted is emitted when an external submission arrives.
	TypeCandidateSubmitted Type = "candidate_submitted"

	// TypeCeremonyCompleted is emitted after the hourly ceremony.
	TypeCeremonyCompleted Type = "ceremony_completed"

	// TypeError is emitted when a stage degrades or fails.
	TypeError Type = "error"
)

// Event is one observable pipeline occurrence. Treat as immutable after
// creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// CycleID links the event to a pipeline cycle, when one is active.
	CycleID string `json:"cycle_id,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Data contains event-specific data: one of the typed data structs
	// below.
	Data any `json:"data,omitempty"`
}

// CycleStartedData is the data for cycle start events.
type CycleStartedData struct {
	// Topic is the discovery topic for this cycle.
	Topic string `json:"topic"`
}

// CycleCompletedData is the data for cycle completion events.
type CycleCompletedData struct {
	// Session is the finished cycle record.
	Session shorthand.CycleSession `json:"session"`

	// Duration is wall time from start to idle.
	Duration time.Duration `json:"duration"`
}

// StageCompletedData is the data for stage completion events.
type StageCompletedData struct {
	// Stage is the completed pipeline stage.
	Stage shorthand.Stage `json:"stage"`

	// OutputCount is the stage output size (words or candidates).
	OutputCount int `json:"output_count"`

	// Duration is how long the stage took.
	Duration time.Duration `json:"duration"`

	// Degraded is true when the stage fell back to a local payload.
	Degraded bool `json:"degraded"`
}

// CandidateData is the data for approval, rejection, and submission events.
type CandidateData struct {
	// Candidate is the candidate in its current state.
	Candidate shorthand.CompressionCandidate `json:"candidate"`
}

// CeremonyData is the data for ceremony completion events.
type CeremonyData struct {
	// Summary is the broadcastable ceremony rollup.
	Summary shorthand.CeremonySummary `json:"summary"`
}

// ErrorData is the data for error events.
type ErrorData struct {
	// Error is the error message.
	Error string `json:"error"`

	// Category classifies the failure.
	Category shorthand.ErrorCategory `json:"category"`

	// Stage is where the failure occurred, if stage-scoped.
	Stage shorthand.Stage `json:"stage,omitempty"`

	// Recoverable is true when the cycle continued on a fallback.
	Recoverable bool `json:"recoverable"`
}

// Handler is a function that processes events.
type Handler func(event *Event)

// Filter is a function that determines if an event should be handled.
type Filter func(event *Event) bool

// subscription pairs a handler with its filters.
type subscription struct {
	id      string
	handler Handler
	filter  Filter
	types   []Type
}

// Emitter broadcasts events to subscribers and keeps a bounded replay
// buffer for late-attaching observers.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	buffer        []Event
	bufferSize    int
	cycleID       string
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the replay buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		e.bufferSize = size
	}
}

// NewEmitter creates an event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*subscription),
		bufferSize:    1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (none = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers a handler with a custom filter.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		filter:  filter,
		types:   types,
	}
	e.subscriptions[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription. Returns true if it existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// SetCycleID stamps future events with the active cycle.
func (e *Emitter) SetCycleID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycleID = id
}

// Emit broadcasts an event to all matching subscribers.
//
// Handler panics are recovered so one misbehaving observer cannot take
// down the pipeline or starve other observers.
func (e *Emitter) Emit(eventType Type, data any) {
	e.mu.RLock()
	cycleID := e.cycleID
	subs := make([]*subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.RUnlock()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CycleID:   cycleID,
		Timestamp: time.Now(),
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	e.mu.Unlock()

	for _, sub := range subs {
		if e.shouldHandle(sub, &event) {
			e.safeInvoke(sub.handler, &event)
		}
	}
}

func (e *Emitter) safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

func (e *Emitter) shouldHandle(sub *subscription, event *Event) bool {
	if len(sub.types) > 0 {
		match := false
		for _, t := range sub.types {
			if t == event.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if sub.filter != nil && !sub.filter(event) {
		return false
	}
	return true
}

// Buffer returns a copy of the replay buffer.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Event, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// BufferSince returns buffered events after a timestamp.
func (e *Emitter) BufferSince(since time.Time) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, ev := range e.buffer {
		if ev.Timestamp.After(since) {
			out = append(out, ev)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}
