// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/fitbeat/cmd/fitbeat/config"
	"github.com/AleutianAI/fitbeat/pkg/ux"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"github.com/AleutianAI/fitbeat/services/recommender/playlist"
	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `,track_id,artists,album_name,track_name,popularity,duration_ms,explicit,danceability,energy,key,loudness,mode,speechiness,acousticness,instrumentalness,liveness,valence,tempo,time_signature,track_genre
0,a1,Artist A,Album,Sprint,80,200000,False,0.7,0.9,1,-5.0,1,0.05,0.01,0,0.1,0.8,170.0,4,dance
`

// writeTestConfig creates a config that needs no network: in-memory
// index, no telemetry, no file logging.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "tracks.csv")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0640))

	path := filepath.Join(dir, "fitbeat.yaml")
	content := fmt.Sprintf(`
catalog:
  path: %s
storage:
  data_dir: %s
  playlists_dir: %s
telemetry:
  trace_exporter: none
  metric_exporter: none
logging:
  level: error
  dir: ""
`, catalogPath, filepath.Join(dir, "data"), filepath.Join(dir, "playlists"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// =============================================================================
// Command Tests
// =============================================================================

func TestMemoryShow_Empty(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	path := writeTestConfig(t)

	_, errOut, err := executeRoot(t, "--config", path, "--secrets-dir", "", "memory", "show", "--session", "alice")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Nothing remembered yet")
}

func TestMemoryClear_Yes(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	path := writeTestConfig(t)

	_, errOut, err := executeRoot(t, "--config", path, "--secrets-dir", "", "memory", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Memory cleared")
}

func TestRecommend_RequiresPrompt(t *testing.T) {
	path := writeTestConfig(t)

	_, _, err := executeRoot(t, "--config", path, "--secrets-dir", "", "recommend")
	assert.Error(t, err)
}

func TestServe_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeTestConfig(t)

	_, errOut, err := executeRoot(t, "--config", path, "--secrets-dir", "", "serve")
	require.Error(t, err)
	assert.Contains(t, errOut, "ERROR:")
}

func TestRoot_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitbeat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  backend: nope\n"), 0644))

	_, errOut, err := executeRoot(t, "--config", path, "--secrets-dir", "", "memory", "show")
	require.Error(t, err)
	assert.Contains(t, errOut, "invalid configuration")
}

// =============================================================================
// Service Config Tests
// =============================================================================

func TestServiceConfig_MapsFieldsAndSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Vector.WeaviateURL = "http://weaviate:8080"
	cfg.Storage.GCSBucket = "playlists-bucket"
	cfg.Recommender.SkipRetrieval = true
	secrets := &config.Secrets{
		OpenAIKey:  memguard.NewEnclave([]byte("sk-test")),
		YouTubeKey: memguard.NewEnclave([]byte("yt-test")),
	}

	got, err := serviceConfig(&cfg, secrets, true)
	require.NoError(t, err)

	assert.Equal(t, 12310, got.Port)
	assert.Equal(t, "sk-test", got.LLM.OpenAIAPIKey)
	assert.Equal(t, "yt-test", got.YouTubeAPIKey)
	assert.Empty(t, got.GeniusToken)
	assert.Empty(t, got.APIToken)
	assert.Equal(t, "http://weaviate:8080", got.WeaviateURL)
	assert.Equal(t, "playlists-bucket", got.GCS.Bucket)
	assert.Equal(t, 30*time.Second, got.LLM.Breaker.OpenTimeout)
	assert.True(t, got.Recommender.SkipRetrieval)
	assert.Equal(t, 20, got.Recommender.TargetCount)
	assert.True(t, got.RichOutput)
}

// =============================================================================
// Output Tests
// =============================================================================

func TestPrintState(t *testing.T) {
	var out, errOut bytes.Buffer
	p := ux.NewPrinter(&out, &errOut, ux.ModePlain)

	printState(p, &plan.State{
		Label:  "gym",
		Tracks: []catalog.Track{{Artists: "Artist A", Title: "Sprint"}},
		Playlist: &playlist.Playlist{
			Label:     "gym",
			Locations: []string{"playlists/gym/playlist.json"},
		},
		Retrieval: &playlist.Retrieval{Dir: "tracks/gym", Files: []string{"01.mp3"}, Failed: []string{"Artist B - Jog"}},
	})

	assert.Contains(t, out.String(), "Playlist gym (1 tracks)")
	assert.Contains(t, out.String(), " 1. Artist A - Sprint")
	assert.Contains(t, errOut.String(), "OK: Saved playlist to playlists/gym/playlist.json")
	assert.Contains(t, errOut.String(), "OK: Downloaded 1 tracks to tracks/gym")
	assert.Contains(t, errOut.String(), "WARN: Could not download Artist B - Jog")
}

func TestPrintState_UsesSummary(t *testing.T) {
	var out bytes.Buffer
	p := ux.NewPrinter(&out, &bytes.Buffer{}, ux.ModePlain)

	printState(p, &plan.State{Label: "gym", Summary: "Playlist gym (0 tracks)"})
	assert.Equal(t, "Playlist gym (0 tracks)\n", out.String())
}
