// Copyright (C) 2025 AI Shorthand
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.Server.Addr)
	assert.Equal(t, 55, cfg.Scheduler.CeremonyMinute)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.CycleInterval)
	assert.Equal(t, 10, cfg.Pipeline.TopWords)
	assert.Equal(t, 5, cfg.Pipeline.MaxCandidatesPerWord)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey, "env override should apply")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  addr: ":9000"
scheduler:
  ceremony_minute: 50
openai:
  disabled: true
pipeline:
  top_words: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Scheduler.CeremonyMinute)
	assert.Equal(t, 4, cfg.Pipeline.TopWords)
	// Untouched fields keep defaults.
	assert.Equal(t, 5, cfg.Pipeline.MaxCandidatesPerWord)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid disabled openai", func(c *Config) { c.OpenAI.Disabled = true }, false},
		{"missing api key", func(c *Config) {}, true},
		{"ceremony minute too high", func(c *Config) {
			c.OpenAI.Disabled = true
			c.Scheduler.CeremonyMinute = 61
		}, true},
		{"empty safe symbol", func(c *Config) {
			c.OpenAI.Disabled = true
			c.Pipeline.SafeSymbols = []string{"~", ""}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSafeSymbolSet(t *testing.T) {
	set := Default().SafeSymbolSet()

	for _, r := range "~†‡§α" {
		assert.True(t, set[r], "rune %q should be in the allow-list", r)
	}
	assert.False(t, set['a'], "letters must never be in the allow-list")
}
