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

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const watchURL = "https://www.youtube.com/watch?v="

// LinkFinder finds a video link for a track. An empty link with a nil
// error means nothing was found.
type LinkFinder interface {
	FindLink(ctx context.Context, artist, title string) (string, error)
}

// YouTubeLinkFinder searches the YouTube Data API for the top video.
type YouTubeLinkFinder struct {
	service *youtube.Service
}

// NewYouTubeLinkFinder creates a finder authenticated with apiKey. Extra
// options (e.g. option.WithEndpoint) are appended.
func NewYouTubeLinkFinder(ctx context.Context, apiKey string, opts ...option.ClientOption) (*YouTubeLinkFinder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("YouTube API key not configured")
	}
	svc, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube client: %w", err)
	}
	return &YouTubeLinkFinder{service: svc}, nil
}

// FindLink implements LinkFinder.
func (y *YouTubeLinkFinder) FindLink(ctx context.Context, artist, title string) (string, error) {
	resp, err := y.service.Search.List([]string{"id", "snippet"}).
		Q(artist + " " + title).
		MaxResults(1).
		Type("video").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube search: %w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.VideoId == "" {
		return "", nil
	}
	return watchURL + resp.Items[0].Id.VideoId, nil
}
