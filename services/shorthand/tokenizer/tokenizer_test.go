// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tokenizer

import (
	"errors"
	"testing"
)

func TestEstimator_Count(t *testing.T) {
	e := Estimator{}

	tests := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{"empty", "", 0, 0},
		{"single short word", "cat", 1, 1},
		{"long word is multiple tokens", "approximately", 3, 4},
		{"sentence", "the quick brown fox jumps over the lazy dog", 10, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Count(tt.text)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if got < tt.min || got > tt.max {
				t.Errorf("Count(%q) = %d, want in [%d, %d]", tt.text, got, tt.min, tt.max)
			}
		})
	}
}

func TestMock_Count(t *testing.T) {
	m := NewMock(map[string]int{"approximately": 3, "~": 1})

	got, err := m.Count("approximately")
	if err != nil || got != 3 {
		t.Errorf("Count(approximately) = %d, %v; want 3, nil", got, err)
	}
	got, _ = m.Count("unlisted")
	if got != 1 {
		t.Errorf("Count(unlisted) = %d, want default 1", got)
	}
	if m.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", m.Calls())
	}
}

func TestMock_Err(t *testing.T) {
	m := NewMock(nil)
	m.Err = errors.New("oracle down")

	if _, err := m.Count("anything"); err == nil {
		t.Error("expected configured error")
	}
}
