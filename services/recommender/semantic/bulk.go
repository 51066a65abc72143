// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BulkConfig tunes BulkIndexer.
type BulkConfig struct {
	// Workers embedding in parallel. Default: 4.
	Workers int

	// BatchSize is the number of documents per index write. Default: 32.
	BatchSize int

	// EmbedRate caps embedding calls per second. Zero means unlimited.
	EmbedRate float64
}

// BulkStats summarizes one indexing run.
type BulkStats struct {
	Files   int
	Indexed int
	Skipped int
	Failed  int
}

// BulkIndexer embeds a directory of context files into a VectorIndex.
//
// Files are named "<artist> - <title>.txt" and hold the context text as
// produced by the lyrics source.
type BulkIndexer struct {
	index    VectorIndex
	embedder Embedder
	config   BulkConfig
	logger   *slog.Logger
}

// NewBulkIndexer creates an indexer.
func NewBulkIndexer(index VectorIndex, embedder Embedder, config BulkConfig, logger *slog.Logger) *BulkIndexer {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkIndexer{index: index, embedder: embedder, config: config, logger: logger.With("component", "bulk_indexer")}
}

// ParseContextFileName extracts artist and title from "<artist> - <title>.txt".
func ParseContextFileName(name string) (artist, title string, ok bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	artist, title, ok = strings.Cut(base, " - ")
	artist, title = strings.TrimSpace(artist), strings.TrimSpace(title)
	if !ok || artist == "" || title == "" {
		return "", "", false
	}
	return artist, title, true
}

// IndexDirectory embeds and upserts every .txt file in dir.
//
// # Description
//
// Per-file failures (unreadable, unparseable name, embedding error) are
// counted and logged; the run continues. A failed batch write fails the
// whole run, since it points at the index rather than one file.
//
// # Outputs
//
//   - BulkStats: Counts for the run.
//   - error: Directory read failure, index write failure or ctx.Err().
func (b *BulkIndexer) IndexDirectory(ctx context.Context, dir string) (BulkStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return BulkStats{}, fmt.Errorf("read corpus directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	stats := BulkStats{Files: len(files)}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if b.config.EmbedRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.config.EmbedRate), 1)
	}

	var (
		skipped, failed atomic.Int64
		mu              sync.Mutex
		pending         []Document
		indexed         int
	)
	flush := func(ctx context.Context, force bool) error {
		mu.Lock()
		if len(pending) == 0 || (!force && len(pending) < b.config.BatchSize) {
			mu.Unlock()
			return nil
		}
		batch := pending
		pending = nil
		mu.Unlock()

		if err := b.index.Upsert(ctx, batch...); err != nil {
			return fmt.Errorf("index batch: %w", err)
		}
		mu.Lock()
		indexed += len(batch)
		mu.Unlock()
		b.logger.Info("Indexed batch", "documents", len(batch))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Workers)
	for _, path := range files {
		g.Go(func() error {
			artist, title, ok := ParseContextFileName(path)
			if !ok {
				skipped.Add(1)
				b.logger.Warn("Skipping file with unexpected name", "path", path)
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil || strings.TrimSpace(string(data)) == "" {
				skipped.Add(1)
				return nil
			}
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			track := catalog.Track{Artists: artist, Title: title}
			sc := ContextFromTrack(track, string(data))
			vector, err := b.embedder.Embed(gctx, sc.Text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				b.logger.Warn("Embedding failed", "path", path, "error", err)
				return nil
			}
			mu.Lock()
			pending = append(pending, Document{Context: sc, Vector: vector})
			mu.Unlock()
			return flush(gctx, false)
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := flush(ctx, true); err != nil {
		return stats, err
	}

	stats.Indexed = indexed
	stats.Skipped = int(skipped.Load())
	stats.Failed = int(failed.Load())
	b.logger.Info("Corpus indexing finished",
		"files", stats.Files, "indexed", stats.Indexed, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}
