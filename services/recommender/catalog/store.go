// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StoreConfig locates the catalog.
type StoreConfig struct {
	// Path is a .csv export or a SQLite database (.db, .sqlite, .sqlite3).
	Path string

	// Table is the SQLite table. Ignored for CSV.
	Table string

	// Debounce delays a reload after the last file event. Default: 500ms.
	Debounce time.Duration
}

// Store serves an immutable catalog snapshot and swaps it atomically on
// reload. Readers never observe a partially loaded catalog.
//
// # Thread Safety
//
// Tracks may be called concurrently with Reload and Watch. Callers must not
// modify the returned slice.
type Store struct {
	config   StoreConfig
	logger   *slog.Logger
	snapshot atomic.Pointer[[]Track]
	reloadMu sync.Mutex
}

// NewStore creates an empty store. Call Reload before use.
func NewStore(config StoreConfig, logger *slog.Logger) *Store {
	if config.Debounce <= 0 {
		config.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{config: config, logger: logger.With("component", "catalog")}
}

// NewStaticStore wraps an in-memory catalog. Reload and Watch are no-ops.
func NewStaticStore(tracks []Track) *Store {
	s := &Store{logger: slog.Default()}
	s.snapshot.Store(&tracks)
	return s
}

// Tracks returns the current snapshot.
func (s *Store) Tracks() []Track {
	p := s.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Catalog implements the executor's catalog provider.
func (s *Store) Catalog(context.Context) ([]Track, error) {
	tracks := s.Tracks()
	if tracks == nil {
		return nil, fmt.Errorf("catalog not loaded")
	}
	return tracks, nil
}

// Reload reads the configured source and swaps the snapshot. On failure
// the previous snapshot stays in place.
func (s *Store) Reload(ctx context.Context) error {
	if s.config.Path == "" {
		return nil
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	var (
		tracks []Track
		err    error
	)
	switch strings.ToLower(filepath.Ext(s.config.Path)) {
	case ".db", ".sqlite", ".sqlite3":
		tracks, err = LoadSQLite(ctx, s.config.Path, s.config.Table)
	default:
		tracks, err = LoadCSVFile(s.config.Path, s.logger)
	}
	if err != nil {
		return err
	}
	s.snapshot.Store(&tracks)
	s.logger.Info("Catalog snapshot replaced", "path", s.config.Path, "tracks", len(tracks))
	return nil
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
//
// # Description
//
// Watches the file's parent directory so that editors and exporters that
// replace the file via rename are picked up. Events are debounced; a
// failed reload is logged and the previous snapshot kept.
//
// # Outputs
//
//   - error: Non-nil only when the watcher cannot be started.
func (s *Store) Watch(ctx context.Context) error {
	if s.config.Path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	target := filepath.Clean(s.config.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch catalog directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(s.config.Debounce)
				} else {
					timer.Reset(s.config.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := s.Reload(ctx); err != nil {
					s.logger.Warn("Catalog reload failed, keeping previous snapshot", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Catalog watcher error", "error", err)
			}
		}
	}()
	return nil
}
