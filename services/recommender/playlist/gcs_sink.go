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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/fitbeat/pkg/validation"
	"google.golang.org/api/option"
)

// GCSSink uploads playlists to a Cloud Storage bucket under
// <prefix>/<label>/.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink creates a sink. credentialsFile may be empty to use
// application default credentials.
func NewGCSSink(ctx context.Context, bucket, prefix, credentialsFile string, opts ...option.ClientOption) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("GCS bucket not configured")
	}
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the storage client.
func (g *GCSSink) Close() error {
	return g.client.Close()
}

// ObjectName returns the object path for a playlist file.
func (g *GCSSink) ObjectName(label, file string) string {
	return path.Join(g.prefix, validation.SanitizeLabel(label), file)
}

// Save implements Sink.
func (g *GCSSink) Save(ctx context.Context, pl *Playlist) ([]string, error) {
	jsonData, err := EncodeJSON(pl)
	if err != nil {
		return nil, err
	}
	csvData, err := EncodeCSV(pl)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, f := range []struct {
		name        string
		data        []byte
		contentType string
	}{
		{JSONFileName, jsonData, "application/json"},
		{CSVFileName, csvData, "text/csv"},
	} {
		name := g.ObjectName(pl.Label, f.name)
		if err := g.upload(ctx, name, f.data, f.contentType); err != nil {
			return urls, err
		}
		urls = append(urls, fmt.Sprintf("gs://%s/%s", g.bucket, name))
	}
	return urls, nil
}

func (g *GCSSink) upload(ctx context.Context, name string, data []byte, contentType string) error {
	writer := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy playlist to GCS object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}
