// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed allows requests through normally.
	StateClosed State = iota

	// StateOpen rejects all requests immediately.
	StateOpen

	// StateHalfOpen allows limited probe requests to test recovery.
	StateHalfOpen
)

// String returns the human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before
	// opening. Default: 5
	FailureThreshold int

	// ResetTimeout is how long to wait before probing after opening.
	// Default: 30s
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the max probes allowed in half-open state.
	// Default: 2
	HalfOpenMaxRequests int

	// SuccessThreshold is the consecutive successes in half-open needed
	// to close. Default: 2
	SuccessThreshold int
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 2,
		SuccessThreshold:    2,
	}
}

// Breaker implements the circuit breaker pattern for one collaborator
// operation.
//
// Thread Safety: Safe for concurrent use.
type Breaker struct {
	config BreakerConfig

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	lastFailureTime      time.Time
	lastStateChange      time.Time

	// now is injectable for tests.
	now func() time.Time

	mu sync.RWMutex
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	b := &Breaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	b.lastStateChange = b.now()
	return b
}

// Allow checks if a request should pass. In half-open state this also
// consumes a probe slot.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if now.Sub(b.lastFailureTime) >= b.config.ResetTimeout {
			b.transitionTo(StateHalfOpen, now)
			b.halfOpenRequests = 1
			return true
		}
		return false

	case StateHalfOpen:
		if b.halfOpenRequests < b.config.HalfOpenMaxRequests {
			b.halfOpenRequests++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request. In half-open state enough
// consecutive successes close the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0

	case StateHalfOpen:
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed, b.now())
		}
	}
}

// RecordFailure records a failed request. Threshold failures open the
// circuit; any half-open failure reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailureTime = now

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen, now)
		}

	case StateHalfOpen:
		b.transitionTo(StateOpen, now)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker closed. For tests and manual intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenRequests = 0
	b.lastStateChange = b.now()
}

// transitionTo changes state. Caller must hold b.mu.
func (b *Breaker) transitionTo(newState State, now time.Time) {
	b.state = newState
	b.lastStateChange = now
	b.consecutiveSuccesses = 0
	b.halfOpenRequests = 0
	if newState == StateClosed {
		b.consecutiveFailures = 0
	}
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry holds one breaker per named collaborator operation, created
// on first use.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[string]*Breaker
}

// NewRegistry creates a registry; every breaker shares config.
func NewRegistry(config BreakerConfig) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for an operation name, creating it if needed.
func (r *Registry) Get(operation string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[operation]
	if !ok {
		b = NewBreaker(r.config)
		r.breakers[operation] = b
	}
	return b
}

// States returns a snapshot of every breaker's state by operation name.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
