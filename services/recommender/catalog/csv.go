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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// requiredColumns must be present in every catalog export.
var requiredColumns = []string{"artists", "track_name"}

// LoadCSVFile opens path and parses it with LoadCSV.
func LoadCSVFile(path string, logger *slog.Logger) ([]Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	tracks, err := LoadCSV(f, logger)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return tracks, nil
}

// LoadCSV parses a track catalog export with a header row.
//
// # Description
//
// Columns are located by header name, so column order and extra columns
// (such as a leading unnamed index) do not matter. Rows missing an artist
// or title, or carrying an unparseable numeric value, are skipped and
// counted. Missing optional columns leave the zero value.
//
// # Outputs
//
//   - []Track: Parsed tracks in file order, duplicates included.
//   - error: Non-nil when the header is unreadable or lacks a required
//     column, or the stream is not valid CSV.
func LoadCSV(r io.Reader, logger *slog.Logger) ([]Track, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var (
		tracks  []Track
		skipped int
		line    = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		t, err := parseRecord(columns, record)
		if err != nil {
			skipped++
			logger.Debug("Skipping catalog row", "line", line, "error", err)
			continue
		}
		tracks = append(tracks, t)
	}

	logger.Info("Loaded catalog", "tracks", len(tracks), "skipped", skipped)
	return tracks, nil
}

func parseRecord(columns map[string]int, record []string) (Track, error) {
	p := rowParser{columns: columns, record: record}

	t := Track{
		ID:      p.str("track_id"),
		Artists: p.str("artists"),
		Title:   p.str("track_name"),
		Album:   p.str("album_name"),
		Genre:   p.str("track_genre"),
	}
	if strings.TrimSpace(t.Artists) == "" || strings.TrimSpace(t.Title) == "" {
		return Track{}, errors.New("missing artist or title")
	}

	t.Explicit = p.boolean("explicit")
	t.Popularity = p.integer("popularity")
	t.DurationMs = p.integer("duration_ms")
	t.MusicalKey = p.integer("key")
	t.Mode = p.integer("mode")
	t.TimeSignature = p.integer("time_signature")
	t.Tempo = p.float("tempo")
	t.Energy = p.float("energy")
	t.Danceability = p.float("danceability")
	t.Valence = p.float("valence")
	t.Loudness = p.float("loudness")
	t.Speechiness = p.float("speechiness")
	t.Acousticness = p.float("acousticness")
	t.Instrumentalness = p.float("instrumentalness")
	t.Liveness = p.float("liveness")

	if p.err != nil {
		return Track{}, p.err
	}
	return t, nil
}

// rowParser reads typed cells by column name, keeping the first error.
type rowParser struct {
	columns map[string]int
	record  []string
	err     error
}

func (p *rowParser) str(name string) string {
	i, ok := p.columns[name]
	if !ok || i >= len(p.record) {
		return ""
	}
	return strings.TrimSpace(p.record[i])
}

func (p *rowParser) float(name string) float64 {
	s := p.str(name)
	if s == "" || p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}

func (p *rowParser) integer(name string) int {
	s := p.str(name)
	if s == "" || p.err != nil {
		return 0
	}
	// Some exports write integers as floats ("4.0").
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", name, err)
	}
	return int(v)
}

func (p *rowParser) boolean(name string) bool {
	switch strings.ToLower(p.str(name)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
