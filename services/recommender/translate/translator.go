// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package translate holds the language-model front end of the agent: the
// translator from free text to constraints and the planner that chooses
// which steps to run.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/llm"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/AleutianAI/fitbeat/services/recommender/plan"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("fitbeat.recommender.translate")

// TrackLister exposes the catalog the genre list is drawn from.
// catalog.Store implements it.
type TrackLister interface {
	Tracks() []catalog.Track
}

// ConstraintTranslator asks a language model to turn a mood or situation
// into audio-feature constraints and a short label.
type ConstraintTranslator struct {
	client llm.LLMClient
	tracks TrackLister
	logger *slog.Logger
}

// NewConstraintTranslator creates a translator. tracks may be nil, in
// which case the prompt carries no genre list.
func NewConstraintTranslator(client llm.LLMClient, tracks TrackLister, logger *slog.Logger) *ConstraintTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConstraintTranslator{client: client, tracks: tracks, logger: logger.With("component", "constraint_translator")}
}

// Translate implements plan.Translator.
//
// # Outputs
//
//   - plan.Translation: Fields the model left null, omitted or malformed
//     are unconstrained. The label is the sanitized summary.
//   - error: When the model call fails or its answer holds no JSON.
func (t *ConstraintTranslator) Translate(ctx context.Context, request string) (plan.Translation, error) {
	ctx, span := tracer.Start(ctx, "ConstraintTranslator.Translate")
	defer span.End()

	raw, err := t.client.Generate(ctx, t.BuildPrompt(request), llm.GenerationParams{
		Temperature: llm.Temperature(0),
		JSONMode:    true,
	})
	if err != nil {
		return plan.Translation{}, fmt.Errorf("translate request: %w", err)
	}

	tr, err := ParseTranslation(raw, t.logger)
	if err != nil {
		return plan.Translation{}, err
	}
	span.SetAttributes(attribute.String("translate.constraints", tr.Constraints.String()), attribute.String("translate.label", tr.Label))
	t.logger.Info("Request translated", "constraints", tr.Constraints.String(), "label", tr.Label)
	return tr, nil
}

// BuildPrompt renders the translation prompt for request.
func (t *ConstraintTranslator) BuildPrompt(request string) string {
	var genres []string
	if t.tracks != nil {
		genres = catalog.Genres(t.tracks.Tracks())
	}

	var b strings.Builder
	b.WriteString(`You're a music recommendation expert.
The user provides a general emotional or situational description.
Respond in JSON with ranges or values for these parameters:

- explicit: Boolean (true = explicit lyrics, false = no explicit lyrics, null if uncertain).
- danceability (0.0-1.0): How suitable a track is for dancing.
- energy (0.0-1.0): Intensity and activity. Energetic tracks feel fast, loud, noisy.
- loudness (-60 to 0 dB): Overall loudness, closer to 0 is louder.
- mode: 0 = minor, 1 = major, null if uncertain.
- speechiness (0.0-1.0): Presence of spoken words (>0.66 mostly speech, <0.33 mostly music).
- acousticness (0.0-1.0): Likelihood the track is acoustic.
- instrumentalness (0.0-1.0): Likelihood the track has no vocals.
- liveness (0.0-1.0): Presence of an audience (>0.8 live performance).
- valence (0.0-1.0): Musical positiveness (1.0 happy, 0.0 sad or angry).
- tempo (60-200 BPM): Overall speed in beats per minute.
- time_signature (3-7): Beats per bar.
`)
	if len(genres) > 0 {
		fmt.Fprintf(&b, "- track_genre: A list chosen only from these genres: %s\n", strings.Join(genres, ", "))
	}
	b.WriteString(`
Use [min, max] for ranges. If a parameter can't be determined, use null.
Also include a short summary (2-4 words) of the request for folder naming.

JSON response format:
{
  "numeric_ranges": {
    "explicit": false,
    "tempo": [min, max],
    "time_signature": 4,
    "track_genre": ["genre"]
  },
  "summary": "short summary here"
}

User request:
`)
	b.WriteString(request)
	return b.String()
}

type translationResponse struct {
	NumericRanges map[string]json.RawMessage `json:"numeric_ranges"`
	Summary       string                     `json:"summary"`
}

// ParseTranslation decodes a translator answer.
//
// # Description
//
// Numeric fields take [min, max]; a null bound means the field's domain
// bound and a single number means [v, v]. time_signature is normally a
// single value. explicit and mode become categorical predicates and
// track_genre a genre set. Anything null, unknown or malformed is logged
// and left unconstrained. Reversed ranges are dropped rather than
// swapped.
func ParseTranslation(raw string, logger *slog.Logger) (plan.Translation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var resp translationResponse
	if err := llm.DecodeJSONObject(raw, &resp); err != nil {
		return plan.Translation{}, fmt.Errorf("parse translation: %w", err)
	}
	if resp.NumericRanges == nil {
		logger.Warn("Translation has no numeric_ranges, request is unconstrained")
	}

	cs := catalog.ConstraintSet{Ranges: make(map[catalog.Field]catalog.Range)}
	for name, value := range resp.NumericRanges {
		key := strings.ToLower(strings.TrimSpace(name))
		if isNull(value) {
			continue
		}
		switch key {
		case "explicit":
			var v bool
			if err := json.Unmarshal(value, &v); err != nil {
				logger.Warn("Ignoring malformed explicit value", "value", string(value))
				continue
			}
			cs.Explicit = &v
		case "mode":
			r, ok := decodeRange(value, catalog.Range{Min: 0, Max: 1})
			if !ok || r.Min != r.Max || (r.Min != 0 && r.Min != 1) {
				logger.Warn("Ignoring malformed mode value", "value", string(value))
				continue
			}
			m := int(r.Min)
			cs.Mode = &m
		case "track_genre", "genre", "genres":
			cs.Genres = decodeGenres(value)
		default:
			field, err := catalog.ParseField(key)
			if err != nil {
				logger.Debug("Ignoring unknown parameter", "name", name)
				continue
			}
			spec, _ := field.Spec()
			r, ok := decodeRange(value, spec.Domain)
			if !ok {
				logger.Warn("Ignoring malformed range", "field", field, "value", string(value))
				continue
			}
			cs.Ranges[field] = r
		}
	}
	if len(cs.Ranges) == 0 {
		cs.Ranges = nil
	}

	return plan.Translation{Constraints: cs, Label: validation.SanitizeLabel(resp.Summary)}, nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `"null"`
}

// decodeRange accepts a number, [min, max] or [v]. Null bounds take the
// domain bound. Reversed bounds are rejected.
func decodeRange(raw json.RawMessage, domain catalog.Range) (catalog.Range, bool) {
	var single float64
	if err := json.Unmarshal(raw, &single); err == nil {
		return catalog.Range{Min: single, Max: single}, true
	}

	var bounds []*float64
	if err := json.Unmarshal(raw, &bounds); err != nil {
		return catalog.Range{}, false
	}
	switch len(bounds) {
	case 1:
		if bounds[0] == nil {
			return catalog.Range{}, false
		}
		return catalog.Range{Min: *bounds[0], Max: *bounds[0]}, true
	case 2:
		r := domain
		if bounds[0] != nil {
			r.Min = *bounds[0]
		}
		if bounds[1] != nil {
			r.Max = *bounds[1]
		}
		if bounds[0] == nil && bounds[1] == nil {
			return catalog.Range{}, false
		}
		if r.Min > r.Max {
			return catalog.Range{}, false
		}
		return r, true
	default:
		return catalog.Range{}, false
	}
}

func decodeGenres(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}
