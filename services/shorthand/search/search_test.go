// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

func TestStatic_Rotation(t *testing.T) {
	s := &Static{Samples: []Sample{
		{Title: "a", Content: "first"},
		{Title: "b", Content: "second"},
	}}

	for i, want := range []string{"a", "b", "a"} {
		got, err := s.FetchSample(context.Background(), "anything")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if got.Title != want {
			t.Errorf("fetch %d title = %q, want %q", i, got.Title, want)
		}
	}
}

func TestStatic_Err(t *testing.T) {
	s := &Static{Err: errors.New("down")}
	if _, err := s.FetchSample(context.Background(), "topic"); err == nil {
		t.Error("configured error should be returned")
	}
}

func TestStatic_NoSamples(t *testing.T) {
	s := &Static{}
	if _, err := s.FetchSample(context.Background(), "topic"); err == nil {
		t.Error("empty sample set should be an error")
	}
}

func TestBuiltinCorpus(t *testing.T) {
	s := BuiltinCorpus()
	if len(s.Samples) < 3 {
		t.Fatalf("corpus has %d samples, want at least 3 registers", len(s.Samples))
	}
	for _, sample := range s.Samples {
		if sample.Content == "" {
			t.Errorf("sample %q has no content", sample.Title)
		}
	}
}

func TestHTTPSource_FetchSample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "distributed systems" {
			t.Errorf("q = %q", got)
		}
		if got := r.Header.Get("X-API-KEY"); got != "key-1" {
			t.Errorf("api key header = %q", got)
		}
		w.Write([]byte(`{"title":"hit","content":"some prose"}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "key-1")
	got, err := s.FetchSample(context.Background(), "distributed systems")
	if err != nil {
		t.Fatalf("FetchSample: %v", err)
	}
	if got.Title != "hit" || got.Content != "some prose" {
		t.Errorf("sample = %+v", got)
	}
}

func TestHTTPSource_StatusCategories(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   shorthand.ErrorCategory
	}{
		{"rate limited", http.StatusTooManyRequests, shorthand.CategoryRateLimited},
		{"server error", http.StatusInternalServerError, shorthand.CategoryTransient},
		{"not found", http.StatusNotFound, shorthand.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPSource(srv.URL, "").FetchSample(context.Background(), "topic")
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := shorthand.CategoryOf(err); got != tt.want {
				t.Errorf("category = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPSource_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"title":"hit","content":""}`))
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL, "").FetchSample(context.Background(), "topic"); err == nil {
		t.Error("empty content should be an error")
	}
}
