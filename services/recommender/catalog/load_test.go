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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `,track_id,artists,album_name,track_name,popularity,duration_ms,explicit,danceability,energy,key,loudness,mode,speechiness,acousticness,instrumentalness,liveness,valence,tempo,time_signature,track_genre
0,id1,Artist One;Guest,Album,Song A,73,230666,False,0.676,0.461,1,-6.746,0,0.143,0.0322,1.01e-06,0.358,0.715,87.917,4,acoustic
1,id2,,Album,No Artist,55,149610,False,0.42,0.166,1,-17.235,1,0.0763,0.924,5.56e-06,0.101,0.267,77.489,4,acoustic
2,id3,Artist Two,Album,Song B,bad,210826,True,0.438,0.359,0,-9.734,1,0.0557,0.21,0,0.117,0.12,76.332,4,pop
3,id4,Artist Three,Album,Song C,57,201933,True,0.266,0.0596,0,-18.515,1,0.0363,0.905,7.07e-05,0.132,0.143,181.74,3.0,pop
`

// =============================================================================
// CSV Tests
// =============================================================================

func TestLoadCSV_ParsesAndSkipsBadRows(t *testing.T) {
	tracks, err := LoadCSV(strings.NewReader(sampleCSV), nil)
	require.NoError(t, err)
	require.Len(t, tracks, 2, "rows without artist or with bad numbers are skipped")

	first := tracks[0]
	assert.Equal(t, "id1", first.ID)
	assert.Equal(t, "Artist One", first.PrimaryArtist())
	assert.Equal(t, "Song A", first.Title)
	assert.Equal(t, 73, first.Popularity)
	assert.False(t, first.Explicit)
	assert.InDelta(t, 87.917, first.Tempo, 1e-9)
	assert.InDelta(t, -6.746, first.Loudness, 1e-9)
	assert.Equal(t, "acoustic", first.Genre)

	second := tracks[1]
	assert.True(t, second.Explicit)
	assert.Equal(t, 3, second.TimeSignature, "float-formatted integers are accepted")
}

func TestLoadCSV_MissingRequiredColumn(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("artists,popularity\nA,1\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "track_name")
}

// =============================================================================
// SQLite Tests
// =============================================================================

func TestLoadSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE tracks (
		track_id TEXT, artists TEXT, track_name TEXT, album_name TEXT, track_genre TEXT,
		explicit BOOLEAN, popularity INTEGER, duration_ms INTEGER, key INTEGER, mode INTEGER,
		time_signature INTEGER, tempo REAL, energy REAL, danceability REAL, valence REAL,
		loudness REAL, speechiness REAL, acousticness REAL, instrumentalness REAL, liveness REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO tracks VALUES
		('a', 'Artist A', 'Title A', NULL, 'jazz', 0, 40, 1000, 5, 1, 4, 120.5, 0.5, 0.6, 0.7, -7, 0.04, 0.3, 0.0, 0.1),
		('b', 'Artist B', 'Title B', 'LP', 'rock', 1, 90, 2000, 2, 0, 4, 98, 0.9, 0.4, 0.2, -4, 0.05, 0.01, 0.2, 0.3)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	tracks, err := LoadSQLite(context.Background(), path, "")
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Title A", tracks[0].Title)
	assert.Equal(t, "", tracks[0].Album)
	assert.True(t, tracks[1].Explicit)
	assert.InDelta(t, 120.5, tracks[0].Tempo, 1e-9)
}

func TestLoadSQLite_RejectsTableInjection(t *testing.T) {
	_, err := LoadSQLite(context.Background(), "unused.db", "tracks; DROP TABLE x")
	require.Error(t, err)
}

// =============================================================================
// Store Tests
// =============================================================================

func TestStore_ReloadAndCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	store := NewStore(StoreConfig{Path: path}, nil)
	_, err := store.Catalog(context.Background())
	assert.Error(t, err, "catalog must be loaded first")

	require.NoError(t, store.Reload(context.Background()))
	tracks, err := store.Catalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
}

func TestStore_ReloadFailureKeepsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))
	store := NewStore(StoreConfig{Path: path}, nil)
	require.NoError(t, store.Reload(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("nope\n"), 0o600))
	assert.Error(t, store.Reload(context.Background()))
	assert.Len(t, store.Tracks(), 2)
}

// TestStore_Watch verifies a rewritten catalog file is picked up.
func TestStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	store := NewStore(StoreConfig{Path: path, Debounce: 20 * time.Millisecond}, nil)
	require.NoError(t, store.Reload(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	updated := sampleCSV + "4,id5,Artist Four,Album,Song D,10,1000,False,0.1,0.1,0,-10,1,0.1,0.1,0,0.1,0.1,100,4,jazz\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool { return len(store.Tracks()) == 3 }, 5*time.Second, 20*time.Millisecond)
}

func TestNewStaticStore(t *testing.T) {
	store := NewStaticStore([]Track{{Artists: "A", Title: "B"}})
	require.NoError(t, store.Reload(context.Background()))
	assert.Len(t, store.Tracks(), 1)
}
