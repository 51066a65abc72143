// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestFilter() *RelaxingFilter {
	return New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func track(artist, title string, popularity int, tempo float64) catalog.Track {
	return catalog.Track{Artists: artist, Title: title, Popularity: popularity, Tempo: tempo, Energy: 0.5}
}

func tempoRange(min, max float64) catalog.ConstraintSet {
	return catalog.ConstraintSet{Ranges: map[catalog.Field]catalog.Range{catalog.FieldTempo: {Min: min, Max: max}}}
}

// MockRecorder records ObserveFilter calls.
type MockRecorder struct {
	Calls    int
	Attempts int
	Matched  int
}

func (m *MockRecorder) ObserveFilter(attempts, matched int) {
	m.Calls++
	m.Attempts = attempts
	m.Matched = matched
}

// =============================================================================
// Filter Tests
// =============================================================================

// TestFilter_RelaxesUntilTarget covers a three-track catalog where a narrow
// tempo window has to widen before a second track qualifies.
func TestFilter_RelaxesUntilTarget(t *testing.T) {
	tracks := []catalog.Track{
		track("A", "Slow", 10, 100),
		track("B", "Mid", 20, 140),
		track("C", "Fast", 30, 180),
	}

	res, err := newTestFilter().Filter(context.Background(), tracks, tempoRange(95, 105), 2)
	require.NoError(t, err)

	require.Len(t, res.Tracks, 2)
	assert.Equal(t, "Mid", res.Tracks[0].Title, "sorted by popularity")
	assert.Equal(t, "Slow", res.Tracks[1].Title)
	// [95,105] -> [85,115] -> [75,125] -> [65,135] -> [60,145]
	assert.Equal(t, 5, res.Attempts)
	assert.Len(t, res.History, 5)
	assert.Equal(t, catalog.Range{Min: 60, Max: 145}, res.Constraints.Ranges[catalog.FieldTempo])
}

func TestFilter_FirstPassSatisfies(t *testing.T) {
	tracks := []catalog.Track{track("A", "Slow", 10, 100), track("B", "Slow2", 50, 102)}

	res, err := newTestFilter().Filter(context.Background(), tracks, tempoRange(95, 105), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "Slow2", res.Tracks[0].Title, "top target by popularity")
}

// TestFilter_EmptyIsNotError verifies exhausting attempts yields an empty,
// successful result.
func TestFilter_EmptyIsNotError(t *testing.T) {
	tracks := []catalog.Track{track("A", "Slow", 10, 100)}
	cs := catalog.ConstraintSet{Genres: []string{"metal"}, Ranges: map[catalog.Field]catalog.Range{
		catalog.FieldEnergy: {Min: 0.9, Max: 1},
	}}
	rec := &MockRecorder{}

	res, err := newTestFilter().WithRecorder(rec).Filter(context.Background(), tracks, cs, 5)
	require.NoError(t, err)

	assert.Empty(t, res.Tracks)
	assert.LessOrEqual(t, res.Attempts, DefaultMaxAttempts)
	assert.Equal(t, 1, rec.Calls)
	assert.Equal(t, 0, rec.Matched)
}

func TestFilter_MaxAttemptsBound(t *testing.T) {
	tracks := []catalog.Track{track("A", "Far", 10, 199)}
	f := New(Config{MaxAttempts: 3}, nil)

	res, err := f.Filter(context.Background(), tracks, tempoRange(60, 61), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, res.Tracks)
}

func TestFilter_GenreNeverRelaxed(t *testing.T) {
	tracks := []catalog.Track{
		{Artists: "A", Title: "Jazz", Genre: "jazz", Tempo: 100},
		{Artists: "B", Title: "Rock", Genre: "rock", Tempo: 100},
	}
	cs := catalog.ConstraintSet{Genres: []string{"jazz"}}

	res, err := newTestFilter().Filter(context.Background(), tracks, cs, 2)
	require.NoError(t, err)

	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "Jazz", res.Tracks[0].Title)
	for _, h := range res.History {
		assert.Equal(t, []string{"jazz"}, h.Genres)
	}
}

// TestFilter_DeduplicatesByIdentityKey keeps the most popular duplicate and
// the first seen on a popularity tie.
func TestFilter_DeduplicatesByIdentityKey(t *testing.T) {
	tracks := []catalog.Track{
		{ID: "1", Artists: "Artist;Feat", Title: "Song", Popularity: 40, Tempo: 100},
		{ID: "2", Artists: "artist", Title: " song ", Popularity: 70, Tempo: 100},
		{ID: "3", Artists: "ARTIST", Title: "SONG", Popularity: 70, Tempo: 100},
		{ID: "4", Artists: "Other", Title: "Tie", Popularity: 5, Tempo: 100},
		{ID: "5", Artists: "Other", Title: "Tie", Popularity: 5, Tempo: 100},
	}

	res, err := newTestFilter().Filter(context.Background(), tracks, tempoRange(90, 110), 10)
	require.NoError(t, err)

	require.Len(t, res.Tracks, 2)
	assert.Equal(t, "2", res.Tracks[0].ID)
	assert.Equal(t, "4", res.Tracks[1].ID)
}

func TestFilter_ValidationErrors(t *testing.T) {
	f := newTestFilter()

	_, err := f.Filter(context.Background(), nil, catalog.ConstraintSet{}, 0)
	assert.True(t, errors.Is(err, ErrInvalidTarget))

	_, err = f.Filter(context.Background(), nil, tempoRange(150, 100), 5)
	assert.True(t, errors.Is(err, catalog.ErrInvalidConstraint))
}

// TestFilter_ClampsBeforeFiltering verifies out-of-domain bounds are
// clamped rather than rejected.
func TestFilter_ClampsBeforeFiltering(t *testing.T) {
	tracks := []catalog.Track{track("A", "Fast", 10, 200)}

	res, err := newTestFilter().Filter(context.Background(), tracks, tempoRange(190, 500), 1)
	require.NoError(t, err)

	require.Len(t, res.Tracks, 1)
	assert.Equal(t, catalog.Range{Min: 190, Max: 200}, res.History[0].Ranges[catalog.FieldTempo])
}

func TestFilter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFilter().Filter(ctx, []catalog.Track{track("A", "B", 1, 100)}, tempoRange(95, 105), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilter_DoesNotMutateInput(t *testing.T) {
	tracks := []catalog.Track{track("A", "Low", 1, 100), track("B", "High", 9, 100)}
	cs := tempoRange(95, 105)

	_, err := newTestFilter().Filter(context.Background(), tracks, cs, 2)
	require.NoError(t, err)

	assert.Equal(t, "Low", tracks[0].Title)
	assert.Equal(t, catalog.Range{Min: 95, Max: 105}, cs.Ranges[catalog.FieldTempo])
}
