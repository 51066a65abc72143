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
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/fitbeat/pkg/ux"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
)

// TerminalSummarizer renders the final tracks with their audio features.
type TerminalSummarizer struct {
	// Rich enables lipgloss styling.
	Rich bool
}

// ModeName returns "Major" for 1 and "Minor" otherwise.
func ModeName(mode int) string {
	if mode == 1 {
		return "Major"
	}
	return "Minor"
}

// Summarize implements the final step of a plan.
func (s TerminalSummarizer) Summarize(ctx context.Context, label string, tracks []catalog.Track) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	title := fmt.Sprintf("Playlist %s (%d tracks)", label, len(tracks))
	if s.Rich {
		title = ux.Styles.Title.Render(title)
	}
	b.WriteString(title)
	b.WriteString("\n")

	for i, t := range tracks {
		name := fmt.Sprintf("%2d. %s", i+1, t.String())
		if s.Rich {
			name = ux.IconNote.Render() + " " + ux.Styles.Bold.Render(name)
		}
		b.WriteString(name)
		b.WriteString("\n")

		features := fmt.Sprintf(
			"    genre=%s tempo=%.0f energy=%.2f danceability=%.2f valence=%.2f loudness=%.1fdB mode=%s popularity=%d",
			t.Genre, t.Tempo, t.Energy, t.Danceability, t.Valence, t.Loudness, ModeName(t.Mode), t.Popularity,
		)
		if s.Rich {
			features = ux.Styles.Muted.Render(features)
		}
		b.WriteString(features)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
