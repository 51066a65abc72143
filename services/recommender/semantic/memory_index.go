// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
)

// MemoryIndex is an in-process VectorIndex using cosine distance. It backs
// lightweight mode when no Weaviate instance is configured.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[catalog.IdentityKey]Document
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[catalog.IdentityKey]Document)}
}

// Upsert implements VectorIndex.
func (m *MemoryIndex) Upsert(_ context.Context, docs ...Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if d.Context.Key.IsZero() {
			return fmt.Errorf("document without identity key")
		}
		d.Vector = append([]float32(nil), d.Vector...)
		m.docs[d.Context.Key] = d
	}
	return nil
}

// Get implements VectorIndex.
func (m *MemoryIndex) Get(_ context.Context, key catalog.IdentityKey) (*SemanticContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	c := d.Context
	return &c, nil
}

// Query implements VectorIndex.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, keys []catalog.IdentityKey, limit int) ([]Neighbor, error) {
	if limit <= 0 || len(keys) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[catalog.IdentityKey]bool, len(keys))
	out := make([]Neighbor, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		d, ok := m.docs[k]
		if !ok || len(d.Vector) != len(vector) {
			continue
		}
		c := d.Context
		out = append(out, Neighbor{Key: k, Distance: CosineDistance(vector, d.Vector), Context: &c})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// CosineDistance returns 1 - cosine similarity. Zero vectors are at
// distance 1 from everything.
func CosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

var _ VectorIndex = (*MemoryIndex)(nil)
