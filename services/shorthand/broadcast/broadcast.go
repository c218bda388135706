// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package broadcast posts ceremony summaries to an external webhook.
//
// Broadcast is strictly fire-and-forget: a failed post is logged and
// dropped. Nothing in the pipeline waits on it or retries it, so a dead
// webhook cannot slow a ceremony down.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

// Poster publishes ceremony summaries.
type Poster interface {
	// Post publishes a summary. Errors are advisory.
	Post(ctx context.Context, summary shorthand.CeremonySummary) error
}

// Webhook posts summaries as JSON to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook poster. logger nil uses slog.Default().
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Post implements Poster.
func (w *Webhook) Post(ctx context.Context, summary shorthand.CeremonySummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("broadcast: encode summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("broadcast: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return shorthand.Categorize(shorthand.CategoryTransient,
			fmt.Errorf("broadcast: post: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return shorthand.Categorize(shorthand.CategoryTransient,
			fmt.Errorf("broadcast: status %d", resp.StatusCode))
	}

	w.logger.Info("ceremony summary broadcast",
		"approved", summary.ApprovedCount, "total_savings", summary.TotalSavings)
	return nil
}

// Noop is a Poster that discards summaries. Used when no webhook is
// configured.
type Noop struct{}

// Post implements Poster.
func (Noop) Post(context.Context, shorthand.CeremonySummary) error {
	return nil
}

// Recorder is a Poster for tests.
//
// Thread Safety: safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// Summaries holds every posted summary in order.
	Summaries []shorthand.CeremonySummary

	// Err, when set, is returned from every post.
	Err error
}

// Post implements Poster.
func (r *Recorder) Post(_ context.Context, summary shorthand.CeremonySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Summaries = append(r.Summaries, summary)
	return nil
}

// Posted returns a copy of the recorded summaries.
func (r *Recorder) Posted() []shorthand.CeremonySummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shorthand.CeremonySummary, len(r.Summaries))
	copy(out, r.Summaries)
	return out
}
