// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

func TestWebhook_Post(t *testing.T) {
	var got shorthand.CeremonySummary
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, nil)
	err := w.Post(context.Background(), shorthand.CeremonySummary{ApprovedCount: 3, TotalSavings: 7})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got.ApprovedCount != 3 || got.TotalSavings != 7 {
		t.Errorf("received summary = %+v", got)
	}
}

func TestWebhook_ErrorStatusIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, nil).Post(context.Background(), shorthand.CeremonySummary{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := shorthand.CategoryOf(err); got != shorthand.CategoryTransient {
		t.Errorf("category = %q, want transient", got)
	}
}

func TestNoop_Post(t *testing.T) {
	if err := (Noop{}).Post(context.Background(), shorthand.CeremonySummary{}); err != nil {
		t.Errorf("Noop.Post: %v", err)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	if err := r.Post(context.Background(), shorthand.CeremonySummary{ApprovedCount: 1}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(r.Summaries) != 1 || r.Summaries[0].ApprovedCount != 1 {
		t.Errorf("Summaries = %+v", r.Summaries)
	}
}
