// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
)

// ErrNoJSON is returned when a response holds no JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// DecodeJSONObject decodes raw into out. When raw is not itself a JSON
// object, the first balanced {...} fragment that is valid JSON is used,
// which covers answers wrapped in prose or markdown fences.
func DecodeJSONObject(raw string, out any) error {
	fragment, ok := firstJSONObject(strings.TrimSpace(raw))
	if !ok {
		return ErrNoJSON
	}
	return json.Unmarshal([]byte(fragment), out)
}

func firstJSONObject(raw string) (string, bool) {
	if strings.HasPrefix(raw, "{") && json.Valid([]byte(raw)) {
		return raw, true
	}
	for start := strings.IndexByte(raw, '{'); start >= 0; {
		if end := matchingBrace(raw, start); end > start {
			if fragment := raw[start : end+1]; json.Valid([]byte(fragment)) {
				return fragment, true
			}
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchingBrace returns the index of the brace closing the one at start,
// ignoring braces inside JSON strings, or -1.
func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
