// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package search is the text source collaborator: it fetches a prose
// sample for a topic. The pipeline treats every failure here as "no
// sample" and falls back to the built-in corpus, so this package never
// needs to be reliable, only honest about errors.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/isorabins/ai-shorthand/services/shorthand"
)

// Sample is one fetched text sample.
type Sample struct {
	// Title identifies the sample.
	Title string `json:"title"`

	// Content is the prose body.
	Content string `json:"content"`
}

// Source fetches a text sample for a topic.
type Source interface {
	// FetchSample returns a sample for the topic.
	//
	// Outputs:
	//   Sample - The fetched sample.
	//   error - Non-nil on any failure; callers fall back to a fixed corpus.
	FetchSample(ctx context.Context, topic string) (Sample, error)
}

// -----------------------------------------------------------------------------
// HTTP source
// -----------------------------------------------------------------------------

// HTTPSource queries a search-like JSON endpoint:
// GET {endpoint}?q={topic} -> {"title": ..., "content": ...}.
type HTTPSource struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSource creates an HTTP text source.
func NewHTTPSource(endpoint, apiKey string) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchSample implements Source.
func (s *HTTPSource) FetchSample(ctx context.Context, topic string) (Sample, error) {
	u := fmt.Sprintf("%s?q=%s", s.endpoint, url.QueryEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Sample{}, shorthand.Categorize(shorthand.CategoryUnknown, err)
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-KEY", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Sample{}, shorthand.Categorize(shorthand.CategoryTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Sample{}, shorthand.Categorize(shorthand.CategoryRateLimited,
			fmt.Errorf("search: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return Sample{}, shorthand.Categorize(shorthand.CategoryTransient,
			fmt.Errorf("search: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return Sample{}, shorthand.Categorize(shorthand.CategoryUnknown,
			fmt.Errorf("search: status %d", resp.StatusCode))
	}

	var sample Sample
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return Sample{}, shorthand.Categorize(shorthand.CategoryUnknown,
			fmt.Errorf("search: decode: %w", err))
	}
	if sample.Content == "" {
		return Sample{}, shorthand.Categorize(shorthand.CategoryUnknown,
			fmt.Errorf("search: empty content for topic %q", topic))
	}
	return sample, nil
}

// -----------------------------------------------------------------------------
// Static source
// -----------------------------------------------------------------------------

// Static is a Source over a fixed sample set, used when no endpoint is
// configured and by tests.
type Static struct {
	// Samples rotate per call.
	Samples []Sample

	// Err, when set, is returned for every fetch.
	Err error

	next int
}

// FetchSample implements Source.
func (s *Static) FetchSample(_ context.Context, _ string) (Sample, error) {
	if s.Err != nil {
		return Sample{}, s.Err
	}
	if len(s.Samples) == 0 {
		return Sample{}, fmt.Errorf("search: no samples configured")
	}
	sample := s.Samples[s.next%len(s.Samples)]
	s.next++
	return sample, nil
}

// BuiltinCorpus returns the fallback samples used when no search endpoint
// is configured: long-word-dense prose across registers.
func BuiltinCorpus() *Static {
	return &Static{Samples: []Sample{
		{
			Title: "technical",
			Content: "The implementation of the authentication infrastructure was " +
				"approximately eighty percent complete. Unfortunately the deployment " +
				"configuration required additional administrative intervention, and the " +
				"documentation recommended a comprehensive reorganization of the " +
				"initialization procedures.",
		},
		{
			Title: "business",
			Content: "The organization announced a significant restructuring of its " +
				"administrative departments. Representatives characterized the " +
				"transformation as extraordinarily beneficial, notwithstanding " +
				"considerable uncertainty surrounding implementation responsibilities " +
				"and approximately unchanged compensation expectations.",
		},
		{
			Title: "casual",
			Content: "Honestly the whole situation was unbelievably complicated and " +
				"everybody involved was absolutely exhausted. Congratulations are " +
				"appropriate though, because the celebration afterwards was " +
				"approximately the most entertaining gathering imaginable.",
		},
	}}
}
