//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of EnrichETL.
//
// EnrichETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// EnrichETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with EnrichETL. If not, see https://www.gnu.org/licenses/.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSStoreOptions configures the Google Cloud Storage store.
type GCSStoreOptions struct {
	CredentialsFile string // Path to a service account key file
	CredentialsJSON []byte // Inline service account key
	Endpoint        string // Custom endpoint (emulators)
	Anonymous       bool   // Skip authentication
	Logger          *zap.Logger
}

// StoreOptionGCS represents a configuration function for GCSStore.
type StoreOptionGCS func(*GCSStoreOptions)

func WithGCSCredentialsFile(path string) StoreOptionGCS {
	return func(opts *GCSStoreOptions) {
		opts.CredentialsFile = path
	}
}

func WithGCSCredentialsJSON(data []byte) StoreOptionGCS {
	return func(opts *GCSStoreOptions) {
		opts.CredentialsJSON = data
	}
}

func WithGCSEndpoint(endpoint string) StoreOptionGCS {
	return func(opts *GCSStoreOptions) {
		opts.Endpoint = endpoint
	}
}

func WithGCSAnonymous(anonymous bool) StoreOptionGCS {
	return func(opts *GCSStoreOptions) {
		opts.Anonymous = anonymous
	}
}

func WithGCSLogger(logger *zap.Logger) StoreOptionGCS {
	return func(opts *GCSStoreOptions) {
		opts.Logger = logger
	}
}

// GCSStore implements ObjectStore for Google Cloud Storage.
type GCSStore struct {
	client *gcs.Client
	logger *zap.Logger
	stats  statsCounter
}

// NewGCSStore creates a GCS store with the specified options.
func NewGCSStore(ctx context.Context, options ...StoreOptionGCS) (*GCSStore, error) {
	opts := GCSStoreOptions{}
	for _, o := range options {
		o(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	client, err := gcs.NewClient(ctx, gcsClientOptions(opts)...)
	if err != nil {
		return nil, &StorageAccessError{Op: "create_client", Err: err}
	}

	return &GCSStore{client: client, logger: opts.Logger}, nil
}

func gcsClientOptions(opts GCSStoreOptions) []option.ClientOption {
	var clientOpts []option.ClientOption
	switch {
	case opts.Anonymous:
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	case len(opts.CredentialsJSON) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(opts.CredentialsJSON))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	return clientOpts
}

// Get implements ObjectStore.
func (g *GCSStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			err = fmt.Errorf("%w: %v", ErrObjectNotFound, err)
		}
		return nil, &StorageAccessError{Op: "get", Bucket: bucket, Key: key, Err: err}
	}

	g.stats.objectsRead.Add(1)
	g.logger.Debug("opened gcs object", zap.String("bucket", bucket), zap.String("key", key), zap.Int64("size", r.Attrs.Size))
	return &countingReader{rc: r, counter: &g.stats.bytesRead}, nil
}

// Put implements ObjectStore.
func (g *GCSStore) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return &StorageAccessError{Op: "put", Bucket: bucket, Key: key, Err: err}
	}
	if err := w.Close(); err != nil {
		return &StorageAccessError{Op: "put", Bucket: bucket, Key: key, Err: err}
	}

	g.stats.objectsWritten.Add(1)
	g.stats.bytesWritten.Add(n)
	return nil
}

// Close implements ObjectStore.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

// Stats returns store statistics.
func (g *GCSStore) Stats() Stats {
	return g.stats.snapshot()
}
