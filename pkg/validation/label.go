// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input sanitizers for values that end up in
// file paths.
//
// Playlist labels come from language-model summaries and track names come
// from an external catalog; both are used to build directories and file
// names. These helpers strip path separators and reserved characters so a
// label can never escape its output directory.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultLabel is used when no summary is available for a playlist.
const DefaultLabel = "default_playlist"

// maxLabelLength bounds directory names derived from free text.
const maxLabelLength = 80

// reservedChars matches characters that are unsafe in file names on common
// platforms.
var reservedChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// labelPattern is what a sanitized label looks like.
var labelPattern = regexp.MustCompile(`^[a-z0-9_\-.'&,()!]+$`)

// SanitizeLabel converts a free-text summary into a directory-safe label.
//
// Reserved characters become "_", the result is lower-cased and spaces are
// replaced with "_". Leading dots are trimmed so the label can never be "."
// or "..". Over-long labels are cut at a rune boundary. An empty result yields
// DefaultLabel.
//
// Example:
//
//	validation.SanitizeLabel("Chill / Rainy Evening")  // "chill___rainy_evening"
func SanitizeLabel(summary string) string {
	label := reservedChars.ReplaceAllString(strings.TrimSpace(summary), "_")
	label = strings.ToLower(label)
	label = strings.Join(strings.Fields(label), "_")
	label = strings.TrimLeft(label, ".")
	if len(label) > maxLabelLength {
		n := maxLabelLength
		for n > 0 && !utf8.RuneStart(label[n]) {
			n--
		}
		label = label[:n]
	}
	if label == "" {
		return DefaultLabel
	}
	return label
}

// ValidateLabel reports whether label is already in sanitized form.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if len(label) > maxLabelLength {
		return fmt.Errorf("label too long: %d characters (max %d)", len(label), maxLabelLength)
	}
	if strings.HasPrefix(label, ".") || !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label format: %q", label)
	}
	return nil
}

// SafeFileName removes reserved characters from a single path component,
// keeping spaces and case.
func SafeFileName(name string) string {
	name = reservedChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(strings.TrimLeft(name, "."))
	if name == "" {
		return "untitled"
	}
	return name
}
