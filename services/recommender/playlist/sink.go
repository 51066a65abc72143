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
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/goccy/go-json"
)

const (
	JSONFileName = "playlist.json"
	CSVFileName  = "playlist.csv"
)

// Sink persists a playlist and returns where it went.
type Sink interface {
	Save(ctx context.Context, pl *Playlist) ([]string, error)
}

// EncodeJSON renders {"playlist": [{artist, track, youtube_link}]}.
func EncodeJSON(pl *Playlist) ([]byte, error) {
	entries := pl.Entries
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(struct {
		Playlist []Entry `json:"playlist"`
	}{entries}, "", "    ")
}

// EncodeCSV renders the table with a header row.
func EncodeCSV(pl *Playlist) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Artist", "Track Name", "Official YouTube Link"}); err != nil {
		return nil, err
	}
	for _, e := range pl.Entries {
		if err := w.Write([]string{e.Artist, e.Track, e.YouTubeLink}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// FileSink writes playlist.json and playlist.csv under Dir/<label>/.
type FileSink struct {
	Dir string
}

// Save implements Sink.
func (f FileSink) Save(ctx context.Context, pl *Playlist) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(f.Dir, validation.SanitizeLabel(pl.Label))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create playlist dir: %w", err)
	}

	jsonData, err := EncodeJSON(pl)
	if err != nil {
		return nil, fmt.Errorf("encode playlist json: %w", err)
	}
	csvData, err := EncodeCSV(pl)
	if err != nil {
		return nil, fmt.Errorf("encode playlist csv: %w", err)
	}

	jsonPath := filepath.Join(dir, JSONFileName)
	csvPath := filepath.Join(dir, CSVFileName)
	if err := os.WriteFile(jsonPath, jsonData, 0640); err != nil {
		return nil, fmt.Errorf("write %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(csvPath, csvData, 0640); err != nil {
		return nil, fmt.Errorf("write %s: %w", csvPath, err)
	}
	return []string{jsonPath, csvPath}, nil
}
