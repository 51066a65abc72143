// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/fitbeat/pkg/logging"
	"github.com/AleutianAI/fitbeat/services/orchestrator/agent"
	"github.com/AleutianAI/fitbeat/services/orchestrator/handlers"
	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"github.com/AleutianAI/fitbeat/services/recommender/rerank"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

const testCatalog = `,track_id,artists,album_name,track_name,popularity,duration_ms,explicit,danceability,energy,key,loudness,mode,speechiness,acousticness,instrumentalness,liveness,valence,tempo,time_signature,track_genre
0,a1,Artist A,Album,Sprint,80,200000,False,0.7,0.9,1,-5.0,1,0.05,0.01,0,0.1,0.8,170.0,4,dance
1,b1,Artist B,Album,Jog,60,200000,False,0.6,0.8,1,-6.0,1,0.05,0.01,0,0.1,0.7,160.0,4,pop
2,c1,Artist C,Album,Walk,90,200000,False,0.4,0.3,0,-9.0,0,0.05,0.5,0,0.1,0.4,90.0,4,pop
`

// fakeOpenAI answers chat completions by matching the prompt and returns
// a constant embedding.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	reply := func(w http.ResponseWriter, content string) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   "test",
			"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		prompt := string(body)

		if strings.HasSuffix(r.URL.Path, "/embeddings") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","model":"test","data":[{"object":"embedding","index":0,"embedding":[1,0,0]}]}`))
			return
		}

		switch {
		case strings.Contains(prompt, "candidate tracks with their lyrics"):
			reply(w, `{"ranked_playlist":[{"artist":"Artist B","track_name":"Jog"},{"artist":"Artist A","track_name":"Sprint"}],"summary":"Fast Run"}`)
		case strings.Contains(prompt, "converting a textual action plan"):
			reply(w, `{"actions":["Analyze","Filter","Refine","Create_Recommendation_Table","Summarize"]}`)
		case strings.Contains(prompt, "task-planning assistant"):
			reply(w, "1. Analyze the request. 2. Filter tracks. 3. Refine. 4. Create the table. 5. Summarize.")
		case strings.Contains(prompt, "music recommendation expert"):
			reply(w, `{"numeric_ranges":{"tempo":[150,180]},"summary":"Fast Run"}`)
		case strings.Contains(prompt, "Progressively summarize"):
			reply(w, "User wants fast running songs.")
		default:
			http.Error(w, "unexpected prompt", http.StatusBadRequest)
		}
	}))
}

func newTestService(t *testing.T) (Service, Config) {
	t.Helper()
	srv := fakeOpenAI(t)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "tracks.csv")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0640))

	cfg := Config{
		GinMode: gin.TestMode,
		LLM: LLMConfig{
			Backend:       "openai",
			OpenAIAPIKey:  "test-key",
			OpenAIBaseURL: srv.URL + "/v1",
		},
		CatalogPath:  catalogPath,
		PlaylistsDir: filepath.Join(dir, "playlists"),
		TracksDir:    filepath.Join(dir, "tracks"),
		Recommender:  RecommenderConfig{TargetCount: 2},
	}
	svc, err := New(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, applyConfigDefaults(cfg)
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12310, result.Port)
	assert.Equal(t, "openai", result.LLM.Backend)
	assert.Equal(t, "openai", result.Embedding.Backend, "embedding follows the LLM backend")
	assert.Equal(t, "oracle-openai", result.LLM.Breaker.Name)
	assert.Equal(t, "fitbeat", result.Telemetry.ServiceName)
	assert.Equal(t, "playlists", result.PlaylistsDir)
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	result := applyConfigDefaults(Config{
		Port:      8080,
		LLM:       LLMConfig{Backend: "ollama"},
		Embedding: EmbeddingConfig{Backend: "http", URL: "http://embed"},
	})

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "ollama", result.LLM.Backend)
	assert.Equal(t, "http", result.Embedding.Backend)
}

func TestNew_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "tracks.csv")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0640))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no catalog", Config{LLM: LLMConfig{OpenAIAPIKey: "k"}}},
		{"missing catalog file", Config{CatalogPath: filepath.Join(dir, "nope.csv"), LLM: LLMConfig{OpenAIAPIKey: "k"}}},
		{"no api key", Config{CatalogPath: catalogPath}},
		{"unknown backend", Config{CatalogPath: catalogPath, LLM: LLMConfig{Backend: "llamafile"}}},
		{"http embedding without url", Config{CatalogPath: catalogPath, LLM: LLMConfig{OpenAIAPIKey: "k"}, Embedding: EmbeddingConfig{Backend: "http"}}},
		{"bad weaviate url", Config{CatalogPath: catalogPath, LLM: LLMConfig{OpenAIAPIKey: "k"}, WeaviateURL: "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg, logging.Nop())
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// End-to-end Tests
// =============================================================================

func TestService_Recommend(t *testing.T) {
	svc, cfg := newTestService(t)
	ctx := context.Background()

	state, err := svc.Agent().Recommend(ctx, agent.Request{Prompt: "fast running songs"})
	require.NoError(t, err)

	assert.Equal(t, []plan.Step{plan.StepAnalyze, plan.StepFilter, plan.StepRefine, plan.StepRecommend, plan.StepSummarize}, state.Completed)
	assert.Equal(t, rerank.StageOracle, state.Stage)
	assert.Equal(t, "fast_run", state.Label)
	require.Len(t, state.Tracks, 2)
	assert.Equal(t, "Jog", state.Tracks[0].Title)
	assert.Equal(t, "Sprint", state.Tracks[1].Title)

	require.NotNil(t, state.Playlist)
	assert.FileExists(t, filepath.Join(cfg.PlaylistsDir, "fast_run", "playlist.json"))
	assert.Contains(t, state.Summary, "Jog")

	summary, err := svc.Memory().Summary(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "User wants fast running songs.", summary)
}

func TestService_HTTP(t *testing.T) {
	svc, _ := newTestService(t)
	router := svc.Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/playlist", bytes.NewBufferString(`{"prompt":"fast running songs","num_tracks":2}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp handlers.PlaylistResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fast_run", resp.Label)
	assert.Len(t, resp.Playlist, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"catalog_size":3`)
	assert.Contains(t, w.Body.String(), `"vector_index":"memory"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `fitbeat_plan_steps_total{outcome="ok",step="Analyze"} 1`)
	assert.Contains(t, w.Body.String(), `fitbeat_refine_stage_total{stage="oracle"} 1`)
}
