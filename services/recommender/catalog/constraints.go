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
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidConstraint is matched by every *ConstraintError.
var ErrInvalidConstraint = errors.New("invalid constraint")

// ConstraintError describes why a ConstraintSet was rejected.
type ConstraintError struct {
	Field  Field
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("invalid constraint on %q: %s", e.Field, e.Reason)
}

func (e *ConstraintError) Unwrap() error {
	return ErrInvalidConstraint
}

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Covers reports whether r contains every point of other.
func (r Range) Covers(other Range) bool {
	return r.Min <= other.Min && r.Max >= other.Max
}

// Clamp returns r with both bounds clamped into domain.
func (r Range) Clamp(domain Range) Range {
	return Range{
		Min: math.Min(math.Max(r.Min, domain.Min), domain.Max),
		Max: math.Max(math.Min(r.Max, domain.Max), domain.Min),
	}
}

// Widen grows r by margin on both sides, then clamps into domain.
func (r Range) Widen(margin float64, domain Range) Range {
	return Range{Min: r.Min - margin, Max: r.Max + margin}.Clamp(domain)
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// ConstraintSet is the conjunction of predicates a track must satisfy.
// Absent fields are unconstrained.
type ConstraintSet struct {
	// Ranges holds closed intervals on numeric fields.
	Ranges map[Field]Range `json:"ranges,omitempty"`

	// Genres is the allowed genre set. Empty means any genre.
	Genres []string `json:"genres,omitempty"`

	// Explicit, when set, requires the explicit flag to equal it.
	Explicit *bool `json:"explicit,omitempty"`

	// Mode, when set, requires the musical mode (0 minor, 1 major).
	Mode *int `json:"mode,omitempty"`
}

// IsEmpty reports whether the set constrains nothing.
func (c ConstraintSet) IsEmpty() bool {
	return len(c.Ranges) == 0 && len(c.Genres) == 0 && c.Explicit == nil && c.Mode == nil
}

// Clone returns a deep copy.
func (c ConstraintSet) Clone() ConstraintSet {
	out := ConstraintSet{}
	if c.Ranges != nil {
		out.Ranges = make(map[Field]Range, len(c.Ranges))
		for f, r := range c.Ranges {
			out.Ranges[f] = r
		}
	}
	if c.Genres != nil {
		out.Genres = append([]string(nil), c.Genres...)
	}
	if c.Explicit != nil {
		v := *c.Explicit
		out.Explicit = &v
	}
	if c.Mode != nil {
		v := *c.Mode
		out.Mode = &v
	}
	return out
}

// Normalize validates the set and returns a copy with every interval
// clamped into its field domain and genres lower-cased and de-duplicated.
//
// # Outputs
//
//   - ConstraintSet: The normalized copy.
//   - error: A *ConstraintError (matching ErrInvalidConstraint) when a field
//     is unknown, a bound is NaN, min > max after clamping, or mode is not
//     0 or 1.
func (c ConstraintSet) Normalize() (ConstraintSet, error) {
	out := c.Clone()

	for f, r := range out.Ranges {
		spec, ok := f.Spec()
		if !ok {
			return ConstraintSet{}, &ConstraintError{Field: f, Reason: "unknown field"}
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) {
			return ConstraintSet{}, &ConstraintError{Field: f, Reason: "bound is NaN"}
		}
		if r.Min > r.Max {
			return ConstraintSet{}, &ConstraintError{
				Field:  f,
				Reason: fmt.Sprintf("min %g exceeds max %g", r.Min, r.Max),
			}
		}
		out.Ranges[f] = r.Clamp(spec.Domain)
	}

	if out.Mode != nil && *out.Mode != 0 && *out.Mode != 1 {
		return ConstraintSet{}, &ConstraintError{Field: "mode", Reason: fmt.Sprintf("mode %d is not 0 or 1", *out.Mode)}
	}

	if len(out.Genres) > 0 {
		seen := make(map[string]bool, len(out.Genres))
		genres := out.Genres[:0]
		for _, g := range out.Genres {
			g = strings.ToLower(strings.TrimSpace(g))
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			genres = append(genres, g)
		}
		out.Genres = genres
	}

	return out, nil
}

// Relax returns a copy with every numeric interval widened by its field
// margin and clamped to the field domain. Categorical predicates are
// unchanged. The result always covers the receiver.
func (c ConstraintSet) Relax() ConstraintSet {
	out := c.Clone()
	for f, r := range out.Ranges {
		spec, ok := f.Spec()
		if !ok || spec.Margin == 0 {
			continue
		}
		out.Ranges[f] = r.Widen(spec.Margin, spec.Domain)
	}
	return out
}

// Saturated reports whether another Relax would change nothing.
func (c ConstraintSet) Saturated() bool {
	for f, r := range c.Ranges {
		spec, ok := f.Spec()
		if !ok || spec.Margin == 0 {
			continue
		}
		if r.Widen(spec.Margin, spec.Domain) != r {
			return false
		}
	}
	return true
}

// Matches reports whether t satisfies every present predicate.
func (c ConstraintSet) Matches(t Track) bool {
	for f, r := range c.Ranges {
		v, ok := t.Value(f)
		if !ok || !r.Contains(v) {
			return false
		}
	}
	if c.Explicit != nil && t.Explicit != *c.Explicit {
		return false
	}
	if c.Mode != nil && t.Mode != *c.Mode {
		return false
	}
	if len(c.Genres) > 0 {
		genre := strings.ToLower(strings.TrimSpace(t.Genre))
		for _, g := range c.Genres {
			if g == genre {
				return true
			}
		}
		return false
	}
	return true
}

// String renders the set deterministically for logs.
func (c ConstraintSet) String() string {
	fields := make([]string, 0, len(c.Ranges))
	for f := range c.Ranges {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields)+3)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%s", f, c.Ranges[Field(f)]))
	}
	if len(c.Genres) > 0 {
		parts = append(parts, fmt.Sprintf("genre=%v", c.Genres))
	}
	if c.Explicit != nil {
		parts = append(parts, fmt.Sprintf("explicit=%t", *c.Explicit))
	}
	if c.Mode != nil {
		parts = append(parts, fmt.Sprintf("mode=%d", *c.Mode))
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}
