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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.fitbeat/fitbeat.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".fitbeat", "fitbeat.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
//
// # Description
//
//  1. Writes DefaultConfig to path if the file does not exist.
//  2. Parses the YAML over the defaults, so omitted keys keep their
//     default values.
//  3. Applies environment overrides using getenv (os.Getenv when nil).
//  4. Expands "~" in every path and validates the result.
//
// # Outputs
//
//   - *FitBeatConfig: Ready to convert into a service config.
//   - bool: True when the file was created by this call.
//   - error: Read, parse or validation failure.
func Load(path string, getenv func(string) string) (*FitBeatConfig, bool, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return nil, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, created, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, created, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, created, err
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, created, err
	}
	return &cfg, created, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides file values with FITBEAT_* and service-specific
// environment variables.
func (c *FitBeatConfig) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("FITBEAT_LLM_BACKEND", &c.LLM.Backend)
	str("OPENAI_MODEL", &c.LLM.OpenAIModel)
	str("OPENAI_BASE_URL", &c.LLM.OpenAIBaseURL)
	str("OLLAMA_BASE_URL", &c.LLM.OllamaURL)
	str("OLLAMA_MODEL", &c.LLM.OllamaModel)
	str("FITBEAT_EMBEDDING_BACKEND", &c.Embedding.Backend)
	str("FITBEAT_EMBEDDING_URL", &c.Embedding.URL)
	str("WEAVIATE_SERVICE_URL", &c.Vector.WeaviateURL)
	str("FITBEAT_CATALOG_PATH", &c.Catalog.Path)
	str("FITBEAT_DATA_DIR", &c.Storage.DataDir)
	str("FITBEAT_PLAYLISTS_DIR", &c.Storage.PlaylistsDir)
	str("FITBEAT_TRACKS_DIR", &c.Storage.TracksDir)
	str("FITBEAT_GCS_BUCKET", &c.Storage.GCSBucket)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("FITBEAT_LOG_LEVEL", &c.Logging.Level)

	if v := getenv("FITBEAT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FITBEAT_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := getenv("FITBEAT_SKIP_RETRIEVAL"); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FITBEAT_SKIP_RETRIEVAL %q: %w", v, err)
		}
		c.Recommender.SkipRetrieval = skip
	}
	return nil
}

// Validate checks field constraints declared in struct tags.
func (c *FitBeatConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *FitBeatConfig) expandPaths() {
	for _, p := range []*string{
		&c.Catalog.Path,
		&c.Storage.DataDir,
		&c.Storage.PlaylistsDir,
		&c.Storage.TracksDir,
		&c.Storage.GCSCredentialsFile,
		&c.Logging.Dir,
	} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
