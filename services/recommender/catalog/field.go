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
	"fmt"
	"sort"
)

// Field names a numeric, constrainable track attribute. The string value
// matches the catalog column name.
type Field string

const (
	FieldTempo            Field = "tempo"
	FieldEnergy           Field = "energy"
	FieldDanceability     Field = "danceability"
	FieldValence          Field = "valence"
	FieldLoudness         Field = "loudness"
	FieldSpeechiness      Field = "speechiness"
	FieldAcousticness     Field = "acousticness"
	FieldInstrumentalness Field = "instrumentalness"
	FieldLiveness         Field = "liveness"
	FieldPopularity       Field = "popularity"
	FieldTimeSignature    Field = "time_signature"
)

// FieldSpec describes the valid domain of a field and how far one
// relaxation pass widens an interval on it. A zero Margin means the field is
// matched but never relaxed.
type FieldSpec struct {
	Domain Range
	Margin float64
}

var unit = Range{Min: 0, Max: 1}

var fieldSpecs = map[Field]FieldSpec{
	FieldTempo:            {Domain: Range{Min: 60, Max: 200}, Margin: 10},
	FieldEnergy:           {Domain: unit, Margin: 0.05},
	FieldDanceability:     {Domain: unit, Margin: 0.1},
	FieldValence:          {Domain: unit, Margin: 0.1},
	FieldLoudness:         {Domain: Range{Min: -60, Max: 0}, Margin: 2},
	FieldSpeechiness:      {Domain: unit, Margin: 0.05},
	FieldAcousticness:     {Domain: unit, Margin: 0.05},
	FieldInstrumentalness: {Domain: unit, Margin: 0.05},
	FieldLiveness:         {Domain: unit, Margin: 0.05},
	FieldPopularity:       {Domain: Range{Min: 0, Max: 100}},
	FieldTimeSignature:    {Domain: Range{Min: 1, Max: 7}},
}

// Spec returns the FieldSpec for f.
func (f Field) Spec() (FieldSpec, bool) {
	spec, ok := fieldSpecs[f]
	return spec, ok
}

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	_, ok := fieldSpecs[f]
	return ok
}

// ParseField converts a column name into a Field.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if !f.Valid() {
		return "", fmt.Errorf("unknown field %q", name)
	}
	return f, nil
}

// Fields returns every known field in a stable order.
func Fields() []Field {
	fields := make([]Field, 0, len(fieldSpecs))
	for f := range fieldSpecs {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
