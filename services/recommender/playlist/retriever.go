// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package playlist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"go.opentelemetry.io/otel/attribute"
)

// Downloader fetches the audio for one search query into outputPath.
type Downloader interface {
	Download(ctx context.Context, query, outputPath string) error
}

// YTDLP downloads audio with the yt-dlp command line tool.
type YTDLP struct {
	// Binary defaults to "yt-dlp" on PATH.
	Binary string
}

// Download implements Downloader. outputPath must end in ".mp3".
func (y YTDLP) Download(ctx context.Context, query, outputPath string) error {
	bin := y.Binary
	if bin == "" {
		bin = "yt-dlp"
	}
	template := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".%(ext)s"
	cmd := exec.CommandContext(ctx, bin,
		"--quiet", "--no-playlist",
		"--extract-audio", "--audio-format", "mp3", "--audio-quality", "192K",
		"--output", template,
		"ytsearch1:"+query,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// YTDLPRetriever downloads every track of a playlist into Dir/<label>/.
type YTDLPRetriever struct {
	dir        string
	downloader Downloader
	logger     *slog.Logger
}

// NewYTDLPRetriever creates a retriever rooted at dir. A nil downloader
// runs yt-dlp from PATH.
func NewYTDLPRetriever(dir string, downloader Downloader, logger *slog.Logger) *YTDLPRetriever {
	if downloader == nil {
		downloader = YTDLP{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YTDLPRetriever{dir: dir, downloader: downloader, logger: logger.With("component", "ytdlp_retriever")}
}

// TrackFileName returns "NN - Artist - Title.mp3" for the track at index i.
func TrackFileName(i int, t catalog.Track) string {
	return fmt.Sprintf("%02d - %s.mp3", i+1, validation.SafeFileName(t.PrimaryArtist()+" - "+t.Title))
}

// Retrieve downloads tracks sequentially. Files that already exist are
// kept; per-track failures are logged and listed in Failed.
//
// # Outputs
//
//   - *Retrieval: Files present afterwards and tracks that failed.
//   - error: ctx.Err() on cancellation, or when the directory cannot be
//     created.
func (r *YTDLPRetriever) Retrieve(ctx context.Context, label string, tracks []catalog.Track) (*Retrieval, error) {
	ctx, span := tracer.Start(ctx, "YTDLPRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieve.tracks", len(tracks)))

	dir := filepath.Join(r.dir, validation.SanitizeLabel(label))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create tracks dir: %w", err)
	}

	result := &Retrieval{Dir: dir}
	for i, t := range tracks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, TrackFileName(i, t))
		if _, err := os.Stat(path); err == nil {
			r.logger.Debug("Track already downloaded", "path", path)
			result.Files = append(result.Files, path)
			continue
		}

		query := fmt.Sprintf("%s %s audio", t.Title, t.PrimaryArtist())
		if err := r.downloader.Download(ctx, query, path); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("Track download failed", "track", t.String(), "error", err)
			result.Failed = append(result.Failed, t.String())
			continue
		}
		result.Files = append(result.Files, path)
	}

	r.logger.Info("Audio retrieval finished", "dir", dir, "files", len(result.Files), "failed", len(result.Failed))
	return result, nil
}
