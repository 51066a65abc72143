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
	"database/sql"
	"fmt"
	"regexp"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultTable is the table LoadSQLite reads when none is given.
const DefaultTable = "tracks"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

const selectColumns = `track_id, artists, track_name, album_name, track_genre, explicit,
	popularity, duration_ms, key, mode, time_signature, tempo, energy, danceability,
	valence, loudness, speechiness, acousticness, instrumentalness, liveness`

// LoadSQLite reads the catalog from a SQLite database whose table uses the
// same column names as the CSV export.
//
// # Inputs
//
//   - ctx: Cancels the query.
//   - path: Database file path.
//   - table: Table name. Empty uses DefaultTable. Must be a plain identifier.
//
// # Outputs
//
//   - []Track: Rows in rowid order.
//   - error: Non-nil on open, query or scan failure.
func LoadSQLite(ctx context.Context, path, table string) ([]Track, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", selectColumns, table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var (
			t        Track
			id       sql.NullString
			album    sql.NullString
			genre    sql.NullString
			explicit sql.NullBool
		)
		if err := rows.Scan(&id, &t.Artists, &t.Title, &album, &genre, &explicit,
			&t.Popularity, &t.DurationMs, &t.MusicalKey, &t.Mode, &t.TimeSignature,
			&t.Tempo, &t.Energy, &t.Danceability, &t.Valence, &t.Loudness,
			&t.Speechiness, &t.Acousticness, &t.Instrumentalness, &t.Liveness); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		t.ID = id.String
		t.Album = album.String
		t.Genre = genre.String
		t.Explicit = explicit.Bool
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return tracks, nil
}
