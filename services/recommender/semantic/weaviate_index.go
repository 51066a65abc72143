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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fitbeat.recommender.semantic")

// TrackContextClass is the Weaviate class holding track contexts.
const TrackContextClass = "TrackContext"

// contextNamespace seeds deterministic object IDs so that re-indexing a
// track overwrites its previous object.
var contextNamespace = uuid.MustParse("6f1c2a9e-4b7d-5e3a-9c8f-2d1e0b7a6c54")

// ObjectID returns the Weaviate object ID for a key.
func ObjectID(key catalog.IdentityKey) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(contextNamespace, []byte(key.String())).String())
}

// GetTrackContextSchema returns the class definition for track contexts.
func GetTrackContextSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       TrackContextClass,
		Description: "Lyrics and description text for a catalog track, with its embedding.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "artist", DataType: []string{"text"}, Description: "Primary artist as listed"},
			{Name: "track_name", DataType: []string{"text"}, Description: "Track title as listed"},
			{Name: "genre", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
			{
				Name:            "artist_key",
				DataType:        []string{"text"},
				Description:     "Normalized primary artist",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "title_key",
				DataType:        []string{"text"},
				Description:     "Normalized title",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{Name: "content", DataType: []string{"text"}, Tokenization: "word", Description: "Context text"},
		},
	}
}

// EnsureSchema creates the TrackContext class when it does not exist.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	class := GetTrackContextSchema()
	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}
	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}

// trackContextResponse is the GraphQL Get shape for TrackContext.
type trackContextResponse struct {
	Get struct {
		TrackContext []struct {
			Artist     string `json:"artist"`
			TrackName  string `json:"track_name"`
			Genre      string `json:"genre"`
			ArtistKey  string `json:"artist_key"`
			TitleKey   string `json:"title_key"`
			Content    string `json:"content"`
			Additional struct {
				ID       string   `json:"id"`
				Distance *float32 `json:"distance"`
			} `json:"_additional"`
		} `json:"TrackContext"`
	} `json:"Get"`
}

// WeaviateIndex is a VectorIndex backed by a Weaviate class.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client is.
type WeaviateIndex struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateIndex wraps an initialized client. Call EnsureSchema first.
func NewWeaviateIndex(client *weaviate.Client, logger *slog.Logger) *WeaviateIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateIndex{client: client, logger: logger.With("component", "weaviate_index")}
}

// Upsert implements VectorIndex with a single batch request. Objects use
// ObjectID, so a repeated key replaces the stored object.
func (w *WeaviateIndex) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("weaviate.objects", len(docs)))

	objects := make([]*models.Object, len(docs))
	for i, d := range docs {
		objects[i] = &models.Object{
			Class:  TrackContextClass,
			ID:     ObjectID(d.Context.Key),
			Vector: d.Vector,
			Properties: map[string]interface{}{
				"artist":     d.Context.Artist,
				"track_name": d.Context.Title,
				"genre":      d.Context.Genre,
				"artist_key": d.Context.Key.Artist,
				"title_key":  d.Context.Key.Title,
				"content":    d.Context.Text,
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	var failures []string
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				failures = append(failures, e.Message)
			}
		}
	}
	if len(failures) > 0 {
		span.SetStatus(codes.Error, "partial batch failure")
		return fmt.Errorf("weaviate rejected %d object(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// Get implements VectorIndex.
func (w *WeaviateIndex) Get(ctx context.Context, key catalog.IdentityKey) (*SemanticContext, error) {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Get")
	defer span.End()

	result, err := w.client.GraphQL().Get().
		WithClassName(TrackContextClass).
		WithFields(contextFields(false)...).
		WithWhere(keyFilter(key)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("weaviate get failed: %w", err)
	}
	hits, err := parseContexts(result)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return hits[0].Context, nil
}

// Query implements VectorIndex. The where filter is an OR over one
// artist_key/title_key conjunction per key.
func (w *WeaviateIndex) Query(ctx context.Context, vector []float32, keys []catalog.IdentityKey, limit int) ([]Neighbor, error) {
	if limit <= 0 || len(keys) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("weaviate.keys", len(keys)), attribute.Int("weaviate.limit", limit))

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, keyFilter(k))
	}
	where := operands[0]
	if len(operands) > 1 {
		where = filters.Where().WithOperator(filters.Or).WithOperands(operands)
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	result, err := w.client.GraphQL().Get().
		WithClassName(TrackContextClass).
		WithFields(contextFields(true)...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	return parseContexts(result)
}

func keyFilter(k catalog.IdentityKey) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{"artist_key"}).WithOperator(filters.Equal).WithValueString(k.Artist),
			filters.Where().WithPath([]string{"title_key"}).WithOperator(filters.Equal).WithValueString(k.Title),
		})
}

func contextFields(withDistance bool) []graphql.Field {
	additional := []graphql.Field{{Name: "id"}}
	if withDistance {
		additional = append(additional, graphql.Field{Name: "distance"})
	}
	return []graphql.Field{
		{Name: "artist"},
		{Name: "track_name"},
		{Name: "genre"},
		{Name: "artist_key"},
		{Name: "title_key"},
		{Name: "content"},
		{Name: "_additional", Fields: additional},
	}
}

func parseContexts(result *models.GraphQLResponse) ([]Neighbor, error) {
	if result == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate graphql error: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var parsed trackContextResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	out := make([]Neighbor, 0, len(parsed.Get.TrackContext))
	for _, hit := range parsed.Get.TrackContext {
		key := catalog.IdentityKey{Artist: hit.ArtistKey, Title: hit.TitleKey}
		n := Neighbor{
			Key: key,
			Context: &SemanticContext{
				Key:    key,
				Artist: hit.Artist,
				Title:  hit.TrackName,
				Genre:  hit.Genre,
				Text:   hit.Content,
			},
		}
		if hit.Additional.Distance != nil {
			n.Distance = *hit.Additional.Distance
		}
		out = append(out, n)
	}
	return out, nil
}

var _ VectorIndex = (*WeaviateIndex)(nil)
