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
	"log/slog"

	"github.com/AleutianAI/fitbeat/pkg/validation"
	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("fitbeat.recommender.playlist")

// DefaultLookupConcurrency bounds parallel link lookups.
const DefaultLookupConcurrency = 4

// Builder creates the recommendation table and hands it to every sink.
type Builder struct {
	finder      LinkFinder
	sinks       []Sink
	concurrency int
	logger      *slog.Logger
}

// NewBuilder creates a Builder. finder may be nil, in which case every
// link is left empty.
func NewBuilder(finder LinkFinder, sinks []Sink, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		finder:      finder,
		sinks:       sinks,
		concurrency: DefaultLookupConcurrency,
		logger:      logger.With("component", "playlist_builder"),
	}
}

// Build produces the table for tracks under label.
//
// # Description
//
// Rows keep the order of tracks. Link lookups run concurrently; a failed
// lookup leaves that row's link empty and is logged. Each sink then
// persists the table and its locations are collected.
//
// # Outputs
//
//   - *Playlist: The table with Locations filled in.
//   - error: ctx.Err() on cancellation, or a sink failure.
func (b *Builder) Build(ctx context.Context, label string, tracks []catalog.Track) (*Playlist, error) {
	ctx, span := tracer.Start(ctx, "Builder.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("playlist.tracks", len(tracks)))

	pl := &Playlist{
		Label:   validation.SanitizeLabel(label),
		Entries: make([]Entry, len(tracks)),
	}
	for i, t := range tracks {
		pl.Entries[i] = Entry{Artist: t.PrimaryArtist(), Track: t.Title}
	}

	if b.finder != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.concurrency)
		for i := range pl.Entries {
			e := &pl.Entries[i]
			g.Go(func() error {
				link, err := b.finder.FindLink(gctx, e.Artist, e.Track)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					b.logger.Warn("Link lookup failed", "artist", e.Artist, "track", e.Track, "error", err)
					return nil
				}
				e.YouTubeLink = link
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, sink := range b.sinks {
		locations, err := sink.Save(ctx, pl)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sink failed")
			return nil, fmt.Errorf("save playlist: %w", err)
		}
		pl.Locations = append(pl.Locations, locations...)
	}

	b.logger.Info("Playlist built", "label", pl.Label, "tracks", len(pl.Entries), "locations", pl.Locations)
	return pl, nil
}
