// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

func fastRetry(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	transient := shorthand.Categorize(shorthand.CategoryTransient, errors.New("blip"))

	calls := 0
	res, err := Retry(context.Background(), fastRetry(3), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 || res.Attempts != 3 {
		t.Errorf("calls = %d, Attempts = %d, want 3", calls, res.Attempts)
	}
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limited", shorthand.Categorize(shorthand.CategoryRateLimited, errors.New("429"))},
		{"validation", shorthand.Categorize(shorthand.CategoryValidation, errors.New("bad input"))},
		{"configuration", shorthand.Categorize(shorthand.CategoryConfiguration, errors.New("no key"))},
		{"unknown", errors.New("plain")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := Retry(context.Background(), fastRetry(5), func(context.Context, int) error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v", err)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1 (no retry)", calls)
			}
		})
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	transient := shorthand.Categorize(shorthand.CategoryTransient, errors.New("down"))

	res, err := Retry(context.Background(), fastRetry(3), func(context.Context, int) error {
		return transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("err = %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, fastRetry(3), func(context.Context, int) error {
		t.Fatal("fn should not run with a dead context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	if err := DefaultRetryConfig().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	bad := []RetryConfig{
		{MaxAttempts: 0, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffFactor: 2},
		{MaxAttempts: 3, InitialBackoff: 0, MaxBackoff: time.Minute, BackoffFactor: 2},
		{MaxAttempts: 3, InitialBackoff: time.Minute, MaxBackoff: time.Second, BackoffFactor: 2},
		{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffFactor: 0.5},
	}
	for i, c := range bad {
		if !errors.Is(c.Validate(), ErrInvalidRetryConfig) {
			t.Errorf("config %d should be invalid", i)
		}
	}
}

func TestRetryWithBreaker_OpenShortCircuits(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour, HalfOpenMaxRequests: 1, SuccessThreshold: 1})
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	calls := 0
	_, err := RetryWithBreaker(context.Background(), b, fastRetry(3), func(context.Context, int) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("fn ran %d times behind an open breaker", calls)
	}
}

func TestRetryWithBreaker_RecordsOutcomes(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour, HalfOpenMaxRequests: 1, SuccessThreshold: 1})
	transient := shorthand.Categorize(shorthand.CategoryTransient, errors.New("down"))

	_, err := RetryWithBreaker(context.Background(), b, fastRetry(5), func(context.Context, int) error {
		return transient
	})
	// Two failures trip the breaker; the third attempt is refused.
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen after the threshold", err)
	}
	if b.State() != StateOpen {
		t.Errorf("breaker state = %v, want open", b.State())
	}
}

func TestNextBackoff_Caps(t *testing.T) {
	if got := nextBackoff(20*time.Second, 2.0, 30*time.Second); got != 30*time.Second {
		t.Errorf("nextBackoff = %v, want cap", got)
	}
	if got := nextBackoff(time.Second, 2.0, 30*time.Second); got != 2*time.Second {
		t.Errorf("nextBackoff = %v, want 2s", got)
	}
}
