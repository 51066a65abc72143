// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package playlist turns a final candidate set into deliverables: the
// recommendation table with YouTube links, its saved copies, downloaded
// audio and a terminal summary.
package playlist

import (
	"strings"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
)

// UserProvidedLabel labels tracks parsed from the request itself.
const UserProvidedLabel = "user_provided_tracks"

// Entry is one row of the recommendation table.
type Entry struct {
	Artist      string `json:"artist"`
	Track       string `json:"track"`
	YouTubeLink string `json:"youtube_link"`
}

// Playlist is the recommendation table for one plan run.
type Playlist struct {
	Label   string  `json:"-"`
	Entries []Entry `json:"playlist"`

	// Locations lists where the table was saved (paths or URLs).
	Locations []string `json:"-"`
}

// Retrieval reports the outcome of downloading a playlist's audio.
type Retrieval struct {
	Dir    string   `json:"dir"`
	Files  []string `json:"files"`
	Failed []string `json:"failed,omitempty"`
}

// ParseTrackList extracts "- Artist - Title" lines from free text. Lines
// without the separator are ignored.
func ParseTrackList(text string) []catalog.Track {
	var tracks []catalog.Track
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		artist, title, ok := strings.Cut(strings.TrimSpace(line[1:]), " - ")
		artist, title = strings.TrimSpace(artist), strings.TrimSpace(title)
		if !ok || artist == "" || title == "" {
			continue
		}
		tracks = append(tracks, catalog.Track{Artists: artist, Title: title})
	}
	return tracks
}
