// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lyrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/fitbeat/services/recommender/catalog"
	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("fitbeat.recommender.lyrics")

const (
	DefaultGeniusAPIURL = "https://api.genius.com"

	lyricsContainerPrefix      = "Lyrics__Container"
	descriptionContainerPrefix = "RichText__Container"
	maxPageBytes               = 4 << 20
)

// GeniusConfig configures GeniusSource.
type GeniusConfig struct {
	// Token is the Genius API access token.
	Token string

	// APIURL overrides the API base. Default: DefaultGeniusAPIURL.
	APIURL string

	// MaxLyricsWords truncates lyrics. Default: DefaultMaxLyricsWords.
	MaxLyricsWords int

	// Timeout per HTTP request. Default: 15s.
	Timeout time.Duration

	// MaxTries for transient failures (429, 5xx, network). Default: 3.
	MaxTries uint
}

// GeniusSource looks tracks up on Genius and scrapes the song page.
type GeniusSource struct {
	config     GeniusConfig
	httpClient *http.Client
	logger     *slog.Logger
}

type geniusSearchResponse struct {
	Response struct {
		Hits []struct {
			Result struct {
				URL string `json:"url"`
			} `json:"result"`
		} `json:"hits"`
	} `json:"response"`
}

// NewGeniusSource creates a source. An empty token is rejected.
func NewGeniusSource(cfg GeniusConfig, logger *slog.Logger) (*GeniusSource, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("Genius access token not configured")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGeniusAPIURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.MaxLyricsWords <= 0 {
		cfg.MaxLyricsWords = DefaultMaxLyricsWords
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeniusSource{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "genius"),
	}, nil
}

// Lookup finds the song page for a track and scrapes it.
//
// # Outputs
//
//   - Song: Description and truncated lyrics. Either may be empty.
//   - error: ErrNotFound when the search has no hits, otherwise transport
//     or parse errors after retries.
func (g *GeniusSource) Lookup(ctx context.Context, t catalog.Track) (Song, error) {
	ctx, span := tracer.Start(ctx, "GeniusSource.Lookup")
	defer span.End()
	span.SetAttributes(attribute.String("track", t.String()))

	pageURL, err := g.search(ctx, t.PrimaryArtist()+" "+t.Title)
	if err != nil {
		return Song{}, err
	}

	page, err := g.fetch(ctx, pageURL, false)
	if err != nil {
		return Song{}, err
	}
	song, err := ParseSongPage(bytes.NewReader(page))
	if err != nil {
		return Song{}, fmt.Errorf("parse song page: %w", err)
	}
	song.URL = pageURL
	song.Lyrics = TruncateWords(song.Lyrics, g.config.MaxLyricsWords)
	return song, nil
}

// Describe implements semantic.TextSource.
func (g *GeniusSource) Describe(ctx context.Context, t catalog.Track) (string, error) {
	song, err := g.Lookup(ctx, t)
	if err != nil {
		return "", err
	}
	if song.Lyrics == "" && song.Description == "" {
		return "", ErrNotFound
	}
	return FormatContext(t, song), nil
}

func (g *GeniusSource) search(ctx context.Context, query string) (string, error) {
	body, err := g.fetch(ctx, g.config.APIURL+"/search?q="+url.QueryEscape(query), true)
	if err != nil {
		return "", err
	}
	var resp geniusSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	if len(resp.Response.Hits) == 0 || resp.Response.Hits[0].Result.URL == "" {
		return "", ErrNotFound
	}
	return resp.Response.Hits[0].Result.URL, nil
}

// fetch GETs a URL, retrying transient failures with exponential backoff.
func (g *GeniusSource) fetch(ctx context.Context, target string, authorized bool) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if authorized {
			req.Header.Set("Authorization", "Bearer "+g.config.Token)
		}
		req.Header.Set("User-Agent", "fitbeat/1.0")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("genius returned %d", resp.StatusCode)
		default:
			return nil, backoff.Permanent(fmt.Errorf("genius returned %d", resp.StatusCode))
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(g.config.MaxTries))
}

// ParseSongPage extracts the description and lyrics from a Genius song
// page. Lyrics line breaks are preserved.
func ParseSongPage(r io.Reader) (Song, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Song{}, err
	}

	var lyricsParts []string
	var description string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			switch {
			case hasClassPrefix(class, lyricsContainerPrefix):
				lyricsParts = append(lyricsParts, textWithBreaks(n))
				return
			case description == "" && hasClassPrefix(class, descriptionContainerPrefix):
				description = strings.TrimSpace(textWithBreaks(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return Song{
		Description: description,
		Lyrics:      strings.TrimSpace(strings.Join(lyricsParts, "\n")),
	}, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClassPrefix(class, prefix string) bool {
	for _, c := range strings.Fields(class) {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func textWithBreaks(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
