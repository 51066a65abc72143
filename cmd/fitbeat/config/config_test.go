// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fitbeat.yaml")

	cfg, created, err := Load(path, envMap(nil))
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)
	assert.Equal(t, 12310, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, 30*time.Second, cfg.LLM.Breaker.OpenTimeout)
	assert.NotContains(t, cfg.Catalog.Path, "~", "home is expanded")

	_, created, err = Load(path, envMap(nil))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitbeat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  backend: ollama
catalog:
  path: /data/tracks.db
recommender:
  target_count: 15
  memory_ttl: 2h
`), 0644))

	cfg, _, err := Load(path, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, "/data/tracks.db", cfg.Catalog.Path)
	assert.Equal(t, 15, cfg.Recommender.TargetCount)
	assert.Equal(t, 2*time.Hour, cfg.Recommender.MemoryTTL)
	assert.Equal(t, 10, cfg.Recommender.FilterMaxAttempts)
	assert.Equal(t, "prometheus", cfg.Telemetry.MetricExporter)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitbeat.yaml")

	cfg, _, err := Load(path, envMap(map[string]string{
		"FITBEAT_PORT":           "9000",
		"FITBEAT_LLM_BACKEND":    "ollama",
		"WEAVIATE_SERVICE_URL":   "http://weaviate:8080",
		"FITBEAT_SKIP_RETRIEVAL": "true",
		"FITBEAT_CATALOG_PATH":   "/srv/tracks.csv",
	}))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, "http://weaviate:8080", cfg.Vector.WeaviateURL)
	assert.True(t, cfg.Recommender.SkipRetrieval)
	assert.Equal(t, "/srv/tracks.csv", cfg.Catalog.Path)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{"bad yaml", "server: [", nil},
		{"bad port env", "", map[string]string{"FITBEAT_PORT": "abc"}},
		{"bad bool env", "", map[string]string{"FITBEAT_SKIP_RETRIEVAL": "maybe"}},
		{"unknown backend", "llm:\n  backend: llamafile\n", nil},
		{"port out of range", "server:\n  port: 70000\n", nil},
		{"http embedding without url", "embedding:\n  backend: http\n", nil},
		{"bad weaviate url", "vector:\n  weaviate_url: not-a-url\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fitbeat.yaml")
			if tt.file != "" {
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0644))
			}
			_, _, err := Load(path, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".fitbeat"), ExpandHome("~/.fitbeat"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
	assert.Equal(t, "", ExpandHome(""))
}

// =============================================================================
// Secrets Tests
// =============================================================================

func TestLoadSecrets_EnvThenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "genius_api_token"), []byte("  genius-from-file\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openai_api_key"), []byte("sk-from-file"), 0600))

	secrets, err := LoadSecrets(dir, envMap(map[string]string{"OPENAI_API_KEY": "sk-from-env"}))
	require.NoError(t, err)

	openai, err := Open(secrets.OpenAIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", openai, "environment wins over files")

	genius, err := Open(secrets.GeniusToken)
	require.NoError(t, err)
	assert.Equal(t, "genius-from-file", genius)

	assert.Nil(t, secrets.YouTubeKey)
	youtube, err := Open(secrets.YouTubeKey)
	require.NoError(t, err)
	assert.Empty(t, youtube)
}

func TestLoadSecrets_EmptyFileIsMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fitbeat_api_token"), []byte("\n"), 0600))

	secrets, err := LoadSecrets(dir, envMap(nil))
	require.NoError(t, err)
	assert.Nil(t, secrets.APIToken)
}

func TestLoadSecrets_NoDir(t *testing.T) {
	secrets, err := LoadSecrets("", envMap(nil))
	require.NoError(t, err)
	assert.Nil(t, secrets.OpenAIKey)
}
