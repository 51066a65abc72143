// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fitbeat recommends workout playlists from a track catalog.
//
// # Usage
//
//	fitbeat recommend "upbeat songs for a 5k run"
//	fitbeat recommend --num-tracks 10 --session alice "something calmer"
//	fitbeat serve
//	fitbeat index ./lyrics
//	fitbeat memory clear --session alice
//
// Configuration is read from ~/.fitbeat/fitbeat.yaml (created on first run)
// and overridden by FITBEAT_* environment variables. Credentials come from
// OPENAI_API_KEY, GENIUS_API_TOKEN, YOUTUBE_API_KEY and FITBEAT_API_TOKEN or
// the matching files under /run/secrets.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	defer memguard.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
