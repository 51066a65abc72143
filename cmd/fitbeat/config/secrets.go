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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
)

// DefaultSecretsDir is where container secrets are mounted.
const DefaultSecretsDir = "/run/secrets"

// Secret describes where one credential can be found.
type Secret struct {
	// Env is the environment variable checked first.
	Env string

	// File is the name of the file under the secrets directory.
	File string
}

var (
	SecretOpenAIKey   = Secret{Env: "OPENAI_API_KEY", File: "openai_api_key"}
	SecretGeniusToken = Secret{Env: "GENIUS_API_TOKEN", File: "genius_api_token"}
	SecretYouTubeKey  = Secret{Env: "YOUTUBE_API_KEY", File: "youtube_api_key"}
	SecretAPIToken    = Secret{Env: "FITBEAT_API_TOKEN", File: "fitbeat_api_token"}
)

// Secrets holds credentials sealed in memguard enclaves until the service
// is built. Missing secrets are nil.
//
// # Security
//
// Values are never logged. Open copies a value out of its enclave for the
// caller; the enclave itself stays encrypted in memory.
type Secrets struct {
	OpenAIKey   *memguard.Enclave
	GeniusToken *memguard.Enclave
	YouTubeKey  *memguard.Enclave
	APIToken    *memguard.Enclave
}

// LoadSecrets reads every known secret from the environment, falling back
// to files under dir.
func LoadSecrets(dir string, getenv func(string) string) (*Secrets, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var s Secrets
	for _, item := range []struct {
		secret Secret
		dst    **memguard.Enclave
	}{
		{SecretOpenAIKey, &s.OpenAIKey},
		{SecretGeniusToken, &s.GeniusToken},
		{SecretYouTubeKey, &s.YouTubeKey},
		{SecretAPIToken, &s.APIToken},
	} {
		enclave, err := loadSecret(dir, item.secret, getenv)
		if err != nil {
			return nil, err
		}
		*item.dst = enclave
	}
	return &s, nil
}

func loadSecret(dir string, secret Secret, getenv func(string) string) (*memguard.Enclave, error) {
	if v := strings.TrimSpace(getenv(secret.Env)); v != "" {
		return memguard.NewEnclave([]byte(v)), nil
	}
	if dir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, secret.File))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", secret.File, err)
	}
	value := bytes.TrimSpace(data)
	if len(value) == 0 {
		return nil, nil
	}
	enclave := memguard.NewEnclave(value)
	memguard.WipeBytes(data)
	return enclave, nil
}

// Open returns the plaintext of enclave, or "" when it is nil.
func Open(enclave *memguard.Enclave) (string, error) {
	if enclave == nil {
		return "", nil
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open secret: %w", err)
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}
