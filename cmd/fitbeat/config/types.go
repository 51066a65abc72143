// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the fitbeat CLI configuration from
// ~/.fitbeat/fitbeat.yaml, environment overrides and secret files.
package config

import (
	"time"
)

type FitBeatConfig struct {
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Vector      VectorConfig      `yaml:"vector"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Storage     StorageConfig     `yaml:"storage"`
	Recommender RecommenderConfig `yaml:"recommender"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

type LLMConfig struct {
	// Backend is "openai" or "ollama".
	Backend       string `yaml:"backend" validate:"oneof=openai ollama"`
	OpenAIModel   string `yaml:"openai_model,omitempty"`
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty" validate:"omitempty,url"`
	OllamaURL     string `yaml:"ollama_url,omitempty" validate:"omitempty,url"`
	OllamaModel   string `yaml:"ollama_model,omitempty"`

	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

type EmbeddingConfig struct {
	// Backend is "openai", "ollama" or "http". Empty follows the LLM backend.
	Backend string `yaml:"backend,omitempty" validate:"omitempty,oneof=openai ollama http"`
	Model   string `yaml:"model,omitempty"`
	URL     string `yaml:"url,omitempty" validate:"required_if=Backend http"`
}

type VectorConfig struct {
	// WeaviateURL enables the persistent index. Empty keeps vectors in memory.
	WeaviateURL string `yaml:"weaviate_url,omitempty" validate:"omitempty,url"`
}

type CatalogConfig struct {
	Path  string `yaml:"path" validate:"required"`
	Table string `yaml:"table,omitempty"`
	Watch bool   `yaml:"watch"`
}

type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	PlaylistsDir string `yaml:"playlists_dir"`
	TracksDir    string `yaml:"tracks_dir"`

	GCSBucket          string `yaml:"gcs_bucket,omitempty"`
	GCSPrefix          string `yaml:"gcs_prefix,omitempty"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file,omitempty"`
}

type RecommenderConfig struct {
	TargetCount       int           `yaml:"target_count" validate:"min=1,max=100"`
	EmbeddingTopK     int           `yaml:"embedding_top_k" validate:"min=0"`
	FilterMaxAttempts int           `yaml:"filter_max_attempts" validate:"min=0"`
	ContextChars      int           `yaml:"context_chars" validate:"min=0"`
	ReinsertUnranked  bool          `yaml:"reinsert_unranked"`
	SkipRetrieval     bool          `yaml:"skip_retrieval"`
	MemoryTTL         time.Duration `yaml:"memory_ttl"`
	LyricsTTL         time.Duration `yaml:"lyrics_ttl"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=none otlp stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run. Relative
// directories resolve against the working directory.
func DefaultConfig() FitBeatConfig {
	return FitBeatConfig{
		Server: ServerConfig{
			Port:    12310,
			GinMode: "release",
		},
		LLM: LLMConfig{
			Backend:     "openai",
			OpenAIModel: "gpt-4o-mini",
			OllamaURL:   "http://localhost:11434",
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
		},
		Catalog: CatalogConfig{
			Path: "~/.fitbeat/tracks.csv",
		},
		Storage: StorageConfig{
			DataDir:      "~/.fitbeat/data",
			PlaylistsDir: "playlists",
			TracksDir:    "tracks",
		},
		Recommender: RecommenderConfig{
			TargetCount:       20,
			EmbeddingTopK:     10,
			FilterMaxAttempts: 10,
			ContextChars:      500,
			MemoryTTL:         30 * 24 * time.Hour,
			LyricsTTL:         30 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.fitbeat/logs",
		},
	}
}
