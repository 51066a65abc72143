// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lyrics fetches the text that gives a track its semantic context:
// lyrics and the editorial description from Genius, cached locally.
package lyrics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
)

// ErrNotFound means the source has no page for the track.
var ErrNotFound = errors.New("lyrics not found")

// DefaultMaxLyricsWords bounds the lyrics kept per track.
const DefaultMaxLyricsWords = 3200

// Song is the scraped material for one track.
type Song struct {
	Description string `json:"description"`
	Lyrics      string `json:"lyrics"`
	URL         string `json:"url"`
}

// FormatContext renders the context document stored and shown to the
// reranking oracle.
func FormatContext(t catalog.Track, song Song) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Track Name: %s\n", t.Title)
	fmt.Fprintf(&b, "Artist: %s\n", t.PrimaryArtist())
	fmt.Fprintf(&b, "Album: %s\n", t.Album)
	if song.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", song.Description)
	}
	if song.Lyrics != "" {
		fmt.Fprintf(&b, "\nLyrics:\n%s\n", song.Lyrics)
	}
	return strings.TrimSpace(b.String())
}

// TruncateWords keeps the first max whitespace-separated words of s,
// preserving line breaks within the kept part.
func TruncateWords(s string, max int) string {
	if max <= 0 {
		return s
	}
	words := 0
	inWord := false
	for i, r := range s {
		space := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !space && !inWord {
			words++
			if words > max {
				return strings.TrimSpace(s[:i])
			}
		}
		inWord = !space
	}
	return s
}
