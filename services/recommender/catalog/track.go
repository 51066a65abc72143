// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the track data model shared by every recommender
// stage: tracks with audio features, the identity key used to match tracks
// across stages, and the constraint sets the numeric filter evaluates.
//
// # Identity
//
// The catalog does not guarantee unique rows. Two rows describe the same
// recording when their IdentityKey (primary artist and title, lower-cased
// and trimmed) is equal. Consumers de-duplicate by this key.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// ArtistSeparator separates artists in Track.Artists.
const ArtistSeparator = ";"

// Track is one catalog row. Tracks are values and are never mutated after
// loading.
type Track struct {
	ID            string `json:"track_id,omitempty"`
	Artists       string `json:"artists"`
	Title         string `json:"track_name"`
	Album         string `json:"album_name,omitempty"`
	Genre         string `json:"track_genre,omitempty"`
	Explicit      bool   `json:"explicit"`
	Popularity    int    `json:"popularity"`
	DurationMs    int    `json:"duration_ms,omitempty"`
	MusicalKey    int    `json:"key"`
	Mode          int    `json:"mode"`
	TimeSignature int    `json:"time_signature"`

	Tempo            float64 `json:"tempo"`
	Energy           float64 `json:"energy"`
	Danceability     float64 `json:"danceability"`
	Valence          float64 `json:"valence"`
	Loudness         float64 `json:"loudness"`
	Speechiness      float64 `json:"speechiness"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
}

// PrimaryArtist returns the first listed artist, trimmed.
func (t Track) PrimaryArtist() string {
	first, _, _ := strings.Cut(t.Artists, ArtistSeparator)
	return strings.TrimSpace(first)
}

// Key returns the track's identity key.
func (t Track) Key() IdentityKey {
	return NewIdentityKey(t.PrimaryArtist(), t.Title)
}

// Value returns the numeric value of field f for this track.
func (t Track) Value(f Field) (float64, bool) {
	switch f {
	case FieldTempo:
		return t.Tempo, true
	case FieldEnergy:
		return t.Energy, true
	case FieldDanceability:
		return t.Danceability, true
	case FieldValence:
		return t.Valence, true
	case FieldLoudness:
		return t.Loudness, true
	case FieldSpeechiness:
		return t.Speechiness, true
	case FieldAcousticness:
		return t.Acousticness, true
	case FieldInstrumentalness:
		return t.Instrumentalness, true
	case FieldLiveness:
		return t.Liveness, true
	case FieldPopularity:
		return float64(t.Popularity), true
	case FieldTimeSignature:
		return float64(t.TimeSignature), true
	default:
		return 0, false
	}
}

// String renders "Artist - Title" using the primary artist.
func (t Track) String() string {
	return fmt.Sprintf("%s - %s", t.PrimaryArtist(), t.Title)
}

// IdentityKey identifies a recording independently of catalog row.
type IdentityKey struct {
	Artist string `json:"artist_key"`
	Title  string `json:"title_key"`
}

// NewIdentityKey builds a normalized key from an artist and a title.
func NewIdentityKey(artist, title string) IdentityKey {
	return IdentityKey{
		Artist: normalizeKeyPart(artist),
		Title:  normalizeKeyPart(title),
	}
}

// IsZero reports whether both parts are empty.
func (k IdentityKey) IsZero() bool {
	return k.Artist == "" && k.Title == ""
}

func (k IdentityKey) String() string {
	return k.Artist + " - " + k.Title
}

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Keys returns the identity keys of tracks in order, duplicates included.
func Keys(tracks []Track) []IdentityKey {
	keys := make([]IdentityKey, len(tracks))
	for i, t := range tracks {
		keys[i] = t.Key()
	}
	return keys
}

// Index maps each identity key to the first track carrying it.
func Index(tracks []Track) map[IdentityKey]Track {
	idx := make(map[IdentityKey]Track, len(tracks))
	for _, t := range tracks {
		k := t.Key()
		if _, ok := idx[k]; !ok {
			idx[k] = t
		}
	}
	return idx
}

// Genres returns the distinct lower-cased genres present in tracks, sorted.
func Genres(tracks []Track) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tracks {
		g := strings.ToLower(strings.TrimSpace(t.Genre))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
