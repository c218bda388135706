// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads service configuration from a YAML file with
// environment overrides.
//
// Configuration errors are the only error class that halts the service:
// a missing required credential fails at startup, never per cycle.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Server configures the HTTP boundary.
	Server ServerConfig `yaml:"server"`

	// Pipeline configures the discovery/generation/validation stages.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Scheduler configures cycle cadence and the ceremony gate.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// OpenAI configures the completion collaborators.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Search configures the text source.
	Search SearchConfig `yaml:"search"`

	// Storage configures the persistent datastore.
	Storage StorageConfig `yaml:"storage"`

	// Broadcast configures the post-ceremony webhook. Optional.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir"`
}

// ServerConfig configures the gin HTTP server.
type ServerConfig struct {
	// Addr is the listen address. Default: ":8085".
	Addr string `yaml:"addr"`
}

// PipelineConfig configures stage behavior.
type PipelineConfig struct {
	// TopWords is how many discovered words a cycle keeps. Default: 10.
	TopWords int `yaml:"top_words"`

	// MinWordLength is the minimum word length considered. Default: 3.
	MinWordLength int `yaml:"min_word_length"`

	// MaxCandidatesPerWord bounds generation output per word. Default: 5.
	MaxCandidatesPerWord int `yaml:"max_candidates_per_word"`

	// ValidationGroupSize is the collaborator batch group size. Default: 5.
	ValidationGroupSize int `yaml:"validation_group_size"`

	// SafeSymbols is the explicit context-safety allow-list: a candidate
	// is context-safe only if its first rune appears here. Never inferred
	// from abbreviation length.
	SafeSymbols []string `yaml:"safe_symbols"`

	// PatternBaseline is the exploration weight for patterns with no
	// history. Default: 0.3.
	PatternBaseline float64 `yaml:"pattern_baseline"`
}

// SchedulerConfig configures cycle cadence.
type SchedulerConfig struct {
	// CycleInterval is the wall-clock gap between cycle starts. Default: 2m.
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// CeremonyMinute is the minute-of-hour at/after which the scheduler
	// runs the aggregate ceremony instead of a cycle. Default: 55.
	CeremonyMinute int `yaml:"ceremony_minute"`

	// StageTimeout bounds each stage including collaborator calls. Default: 60s.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// OpenAIConfig configures the analytic and creative collaborators.
type OpenAIConfig struct {
	// APIKey is read from OPENAI_API_KEY when empty here.
	APIKey string `yaml:"api_key"`

	// AnalyticModel is the model for advisory analysis. Default: gpt-4o-mini.
	AnalyticModel string `yaml:"analytic_model"`

	// CreativeModel is the model for candidate proposals. Default: gpt-4o.
	CreativeModel string `yaml:"creative_model"`

	// RequestsPerMinute paces collaborator calls. Default: 20.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Disabled turns both collaborators off; the pipeline then runs on
	// local checks only.
	Disabled bool `yaml:"disabled"`
}

// SearchConfig configures the text source.
type SearchConfig struct {
	// Endpoint is the search service URL. Empty means built-in corpus only.
	Endpoint string `yaml:"endpoint"`

	// APIKey is read from SEARCH_API_KEY when empty here.
	APIKey string `yaml:"api_key"`

	// Topics rotate as sample subjects.
	Topics []string `yaml:"topics"`
}

// StorageConfig configures BadgerDB persistence.
type StorageConfig struct {
	// Path is the BadgerDB directory. Default: ./data/shorthand.
	Path string `yaml:"path"`

	// InMemory disables disk persistence. Used by tests.
	InMemory bool `yaml:"in_memory"`
}

// BroadcastConfig configures the fire-and-forget summary webhook.
type BroadcastConfig struct {
	// WebhookURL receives the post-ceremony summary. Empty disables broadcast.
	WebhookURL string `yaml:"webhook_url"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8085"},
		Pipeline: PipelineConfig{
			TopWords:             10,
			MinWordLength:        3,
			MaxCandidatesPerWord: 5,
			ValidationGroupSize:  5,
			SafeSymbols: []string{
				"~", "†", "‡", "§", "¶", "±", "µ",
				"α", "β", "γ", "δ", "λ", "π", "σ", "φ", "ψ", "ω", "Δ", "Σ", "Ω",
			},
			PatternBaseline: 0.3,
		},
		Scheduler: SchedulerConfig{
			CycleInterval:  2 * time.Minute,
			CeremonyMinute: 55,
			StageTimeout:   60 * time.Second,
		},
		OpenAI: OpenAIConfig{
			AnalyticModel:     "gpt-4o-mini",
			CreativeModel:     "gpt-4o",
			RequestsPerMinute: 20,
		},
		Search: SearchConfig{
			Topics: []string{"technology", "business", "science"},
		},
		Storage: StorageConfig{Path: "./data/shorthand"},
	}
}

// Load reads path (optional), applies environment overrides, fills
// defaults for zero values, and validates.
//
// Inputs:
//
//	path - YAML config file path. Empty skips the file.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - Non-nil on unreadable file, bad YAML, or failed validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("SEARCH_API_KEY"); v != "" && cfg.Search.APIKey == "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("SHORTHAND_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SHORTHAND_DATA_DIR"); v != "" {
		cfg.Storage.Path = v
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Pipeline.TopWords <= 0 {
		cfg.Pipeline.TopWords = def.Pipeline.TopWords
	}
	if cfg.Pipeline.MinWordLength <= 0 {
		cfg.Pipeline.MinWordLength = def.Pipeline.MinWordLength
	}
	if cfg.Pipeline.MaxCandidatesPerWord <= 0 {
		cfg.Pipeline.MaxCandidatesPerWord = def.Pipeline.MaxCandidatesPerWord
	}
	if cfg.Pipeline.ValidationGroupSize <= 0 {
		cfg.Pipeline.ValidationGroupSize = def.Pipeline.ValidationGroupSize
	}
	if len(cfg.Pipeline.SafeSymbols) == 0 {
		cfg.Pipeline.SafeSymbols = def.Pipeline.SafeSymbols
	}
	if cfg.Pipeline.PatternBaseline <= 0 {
		cfg.Pipeline.PatternBaseline = def.Pipeline.PatternBaseline
	}
	if cfg.Scheduler.CycleInterval <= 0 {
		cfg.Scheduler.CycleInterval = def.Scheduler.CycleInterval
	}
	if cfg.Scheduler.CeremonyMinute <= 0 {
		cfg.Scheduler.CeremonyMinute = def.Scheduler.CeremonyMinute
	}
	if cfg.Scheduler.StageTimeout <= 0 {
		cfg.Scheduler.StageTimeout = def.Scheduler.StageTimeout
	}
	if cfg.OpenAI.AnalyticModel == "" {
		cfg.OpenAI.AnalyticModel = def.OpenAI.AnalyticModel
	}
	if cfg.OpenAI.CreativeModel == "" {
		cfg.OpenAI.CreativeModel = def.OpenAI.CreativeModel
	}
	if cfg.OpenAI.RequestsPerMinute <= 0 {
		cfg.OpenAI.RequestsPerMinute = def.OpenAI.RequestsPerMinute
	}
	if len(cfg.Search.Topics) == 0 {
		cfg.Search.Topics = def.Search.Topics
	}
	if cfg.Storage.Path == "" && !cfg.Storage.InMemory {
		cfg.Storage.Path = def.Storage.Path
	}
}

// Validate checks startup invariants. Failures here are
// configuration-class errors and should halt the service.
func (c Config) Validate() error {
	if c.Scheduler.CeremonyMinute < 1 || c.Scheduler.CeremonyMinute > 59 {
		return fmt.Errorf("config: ceremony_minute %d outside 1-59", c.Scheduler.CeremonyMinute)
	}
	if !c.OpenAI.Disabled && c.OpenAI.APIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY not set (set openai.disabled to run local-only)")
	}
	for _, s := range c.Pipeline.SafeSymbols {
		if s == "" {
			return fmt.Errorf("config: empty entry in safe_symbols")
		}
	}
	return nil
}

// SafeSymbolSet returns the allow-list as a rune set keyed by first rune.
func (c Config) SafeSymbolSet() map[rune]bool {
	set := make(map[rune]bool, len(c.Pipeline.SafeSymbols))
	for _, s := range c.Pipeline.SafeSymbols {
		for _, r := range s {
			set[r] = true
			break
		}
	}
	return set
}
