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
	"sync/atomic"
)

// Package storage provides object storage access for reading the source dataset and
// uploading the enriched result.
//
// Three backends implement ObjectStore: Amazon S3 (and S3-compatible endpoints), Google
// Cloud Storage, and an in-process MemoryStore used for tests and dry runs.

// ErrObjectNotFound is wrapped by StorageAccessError when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore reads and writes whole objects addressed by bucket and key.
type ObjectStore interface {
	// Get opens the object for reading. The caller must close the returned reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Put uploads body as the full content of the object, replacing any existing object.
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	// Close releases any resources held by the store.
	Close() error
}

// StorageAccessError provides structured error information for object storage operations.
type StorageAccessError struct {
	Op     string // Operation that failed ("get", "put", "read")
	Bucket string
	Key    string
	Err    error
}

func (e *StorageAccessError) Error() string {
	return fmt.Sprintf("storage %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StorageAccessError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err wraps ErrObjectNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// Stats holds counters shared by the store implementations.
type Stats struct {
	ObjectsRead    int64
	BytesRead      int64
	ObjectsWritten int64
	BytesWritten   int64
}

type statsCounter struct {
	objectsRead    atomic.Int64
	bytesRead      atomic.Int64
	objectsWritten atomic.Int64
	bytesWritten   atomic.Int64
}

func (s *statsCounter) snapshot() Stats {
	return Stats{
		ObjectsRead:    s.objectsRead.Load(),
		BytesRead:      s.bytesRead.Load(),
		ObjectsWritten: s.objectsWritten.Load(),
		BytesWritten:   s.bytesWritten.Load(),
	}
}

// countingReader counts bytes as the caller consumes an object body.
type countingReader struct {
	rc      io.ReadCloser
	counter *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.counter.Add(int64(n))
	return n, err
}

func (c *countingReader) Close() error {
	return c.rc.Close()
}

// ReadAll fetches an object into memory.
func ReadAll(ctx context.Context, store ObjectStore, bucket, key string) ([]byte, error) {
	body, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &StorageAccessError{Op: "read", Bucket: bucket, Key: key, Err: err}
	}
	return data, nil
}
