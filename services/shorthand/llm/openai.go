// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/isorabins/ai-shorthand/services/shorthand"
	"github.com/isorabins/ai-shorthand/services/shorthand/resilience"
	"github.com/isorabins/ai-shorthand/services/shorthand/telemetry"
)

// OpenAIClient implements Analytic and Creative over the OpenAI chat API.
//
// A shared rate limiter paces both roles so a chatty generation stage
// cannot starve the advisory checks. Each model gets its own circuit
// breaker: a dead creative model must not block advisory analysis.
type OpenAIClient struct {
	client        *openai.Client
	analyticModel string
	creativeModel string
	limiter       *rate.Limiter
	retry         resilience.RetryConfig
	breakers      *resilience.Registry
	logger        *slog.Logger
}

// OpenAIConfig configures the OpenAI collaborator client.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Required.
	APIKey string

	// AnalyticModel is used by Analyze. Default: gpt-4o-mini.
	AnalyticModel string

	// CreativeModel is used by Propose. Default: gpt-4o.
	CreativeModel string

	// RequestsPerMinute paces all calls. Default: 20.
	RequestsPerMinute int

	// Logger receives request/failure logs. Default: slog.Default().
	Logger *slog.Logger
}

// NewOpenAIClient creates the collaborator client.
//
// Outputs:
//
//	*OpenAIClient - The client.
//	error - Configuration-class error when the API key is missing.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, shorthand.Categorize(shorthand.CategoryConfiguration,
			errors.New("llm: OpenAI API key not set"))
	}
	if cfg.AnalyticModel == "" {
		cfg.AnalyticModel = "gpt-4o-mini"
	}
	if cfg.CreativeModel == "" {
		cfg.CreativeModel = "gpt-4o"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &OpenAIClient{
		client:        openai.NewClient(cfg.APIKey),
		analyticModel: cfg.AnalyticModel,
		creativeModel: cfg.CreativeModel,
		limiter:       rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 2),
		retry:         resilience.DefaultRetryConfig(),
		breakers:      resilience.NewRegistry(resilience.DefaultBreakerConfig()),
		logger:        cfg.Logger,
	}, nil
}

// Analyze implements Analytic.
func (c *OpenAIClient) Analyze(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, c.analyticModel,
		"You are a precise text analysis assistant. Answer tersely.", prompt, 0.2)
}

// Propose implements Creative.
func (c *OpenAIClient) Propose(ctx context.Context, word string, taken []string) ([]Proposal, error) {
	prompt := fmt.Sprintf(
		"Propose up to 3 very short substitute forms for the word %q, one per line, "+
			"nothing but the form itself. Each must start with one of these symbols: ~ † ‡ § ¶ α β γ δ λ π σ φ ψ ω. "+
			"Do not reuse any of: %s", word, strings.Join(taken, " "))

	text, err := c.complete(ctx, c.creativeModel,
		"You invent compact shorthand notation.", prompt, 0.9)
	if err != nil {
		return nil, err
	}
	return ParseProposals(text), nil
}

func (c *OpenAIClient) complete(ctx context.Context, model, system, prompt string, temperature float32) (string, error) {
	operation := "openai:" + model

	var content string
	res, err := resilience.RetryWithBreaker(ctx, c.breakers.Get(operation), c.retry,
		func(ctx context.Context, attempt int) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return shorthand.Categorize(shorthand.CategoryTransient, err)
			}

			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: system},
					{Role: openai.ChatMessageRoleUser, Content: prompt},
				},
				Temperature: temperature,
			})
			if err != nil {
				c.logger.Warn("openai call failed", "model", model, "attempt", attempt, "error", err)
				return classifyOpenAIError(err)
			}
			if len(resp.Choices) == 0 {
				return shorthand.Categorize(shorthand.CategoryUnknown,
					errors.New("llm: empty choices in response"))
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
	if err != nil {
		telemetry.RecordCollaboratorError(operation, shorthand.CategoryOf(err))
		c.logger.Warn("openai call gave up",
			"model", model, "attempts", res.Attempts,
			"category", shorthand.CategoryOf(err).String(), "error", err)
		return "", err
	}
	return content, nil
}

// classifyOpenAIError maps API failures onto the error taxonomy:
// 429 is rate-limited (never retried), 5xx and transport errors are
// transient, 401/403 are configuration, the rest unknown.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return shorthand.Categorize(shorthand.CategoryRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return shorthand.Categorize(shorthand.CategoryTransient, err)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return shorthand.Categorize(shorthand.CategoryConfiguration, err)
		default:
			return shorthand.Categorize(shorthand.CategoryUnknown, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shorthand.Categorize(shorthand.CategoryTransient, err)
	}
	// Transport-level failures (connection refused, DNS) arrive untyped.
	return shorthand.Categorize(shorthand.CategoryTransient, err)
}
