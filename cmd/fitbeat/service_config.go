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
	"os"

	"github.com/AleutianAI/fitbeat/cmd/fitbeat/config"
	"github.com/AleutianAI/fitbeat/services/llm"
	"github.com/AleutianAI/fitbeat/services/orchestrator"
	"github.com/AleutianAI/fitbeat/services/orchestrator/observability"
)

// serviceConfig converts the file config and secrets into the service
// config. Secrets leave their enclaves only here.
func serviceConfig(cfg *config.FitBeatConfig, secrets *config.Secrets, rich bool) (orchestrator.Config, error) {
	openaiKey, err := config.Open(secrets.OpenAIKey)
	if err != nil {
		return orchestrator.Config{}, err
	}
	geniusToken, err := config.Open(secrets.GeniusToken)
	if err != nil {
		return orchestrator.Config{}, err
	}
	youtubeKey, err := config.Open(secrets.YouTubeKey)
	if err != nil {
		return orchestrator.Config{}, err
	}
	apiToken, err := config.Open(secrets.APIToken)
	if err != nil {
		return orchestrator.Config{}, err
	}

	return orchestrator.Config{
		Port:     cfg.Server.Port,
		GinMode:  cfg.Server.GinMode,
		APIToken: apiToken,
		LLM: orchestrator.LLMConfig{
			Backend:       cfg.LLM.Backend,
			OpenAIAPIKey:  openaiKey,
			OpenAIModel:   cfg.LLM.OpenAIModel,
			OpenAIBaseURL: cfg.LLM.OpenAIBaseURL,
			OllamaURL:     cfg.LLM.OllamaURL,
			OllamaModel:   cfg.LLM.OllamaModel,
			Breaker: llm.BreakerConfig{
				ConsecutiveFailures: cfg.LLM.Breaker.ConsecutiveFailures,
				OpenTimeout:         cfg.LLM.Breaker.OpenTimeout,
			},
		},
		Embedding: orchestrator.EmbeddingConfig{
			Backend: cfg.Embedding.Backend,
			Model:   cfg.Embedding.Model,
			URL:     cfg.Embedding.URL,
		},
		WeaviateURL: cfg.Vector.WeaviateURL,
		Telemetry: observability.TelemetryConfig{
			ServiceVersion: version,
			TraceExporter:  cfg.Telemetry.TraceExporter,
			MetricExporter: cfg.Telemetry.MetricExporter,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Stdout:         os.Stderr,
		},
		CatalogPath:  cfg.Catalog.Path,
		CatalogTable: cfg.Catalog.Table,
		WatchCatalog: cfg.Catalog.Watch,
		DataDir:      cfg.Storage.DataDir,
		PlaylistsDir: cfg.Storage.PlaylistsDir,
		TracksDir:    cfg.Storage.TracksDir,
		GCS: orchestrator.GCSConfig{
			Bucket:          cfg.Storage.GCSBucket,
			Prefix:          cfg.Storage.GCSPrefix,
			CredentialsFile: cfg.Storage.GCSCredentialsFile,
		},
		GeniusToken:   geniusToken,
		YouTubeAPIKey: youtubeKey,
		Recommender: orchestrator.RecommenderConfig{
			TargetCount:       cfg.Recommender.TargetCount,
			EmbeddingTopK:     cfg.Recommender.EmbeddingTopK,
			FilterMaxAttempts: cfg.Recommender.FilterMaxAttempts,
			ContextChars:      cfg.Recommender.ContextChars,
			ReinsertUnranked:  cfg.Recommender.ReinsertUnranked,
			SkipRetrieval:     cfg.Recommender.SkipRetrieval,
			MemoryTTL:         cfg.Recommender.MemoryTTL,
			LyricsTTL:         cfg.Recommender.LyricsTTL,
		},
		RichOutput: rich,
	}, nil
}
