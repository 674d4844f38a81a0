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
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryObject is an object held by a MemoryStore.
type MemoryObject struct {
	Data        []byte
	ContentType string
}

// MemoryStore implements ObjectStore in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]MemoryObject
	stats   statsCounter

	// FailPut, when set, is returned (wrapped) by every Put.
	FailPut error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]MemoryObject)}
}

func memoryKey(bucket, key string) string {
	return bucket + "/" + key
}

// Get implements ObjectStore.
func (m *MemoryStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageAccessError{Op: "get", Bucket: bucket, Key: key, Err: err}
	}

	m.mu.RLock()
	obj, ok := m.objects[memoryKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, &StorageAccessError{Op: "get", Bucket: bucket, Key: key, Err: ErrObjectNotFound}
	}

	m.stats.objectsRead.Add(1)
	return &countingReader{rc: io.NopCloser(bytes.NewReader(obj.Data)), counter: &m.stats.bytesRead}, nil
}

// Put implements ObjectStore.
func (m *MemoryStore) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return &StorageAccessError{Op: "put", Bucket: bucket, Key: key, Err: err}
	}
	if m.FailPut != nil {
		return &StorageAccessError{Op: "put", Bucket: bucket, Key: key, Err: m.FailPut}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return &StorageAccessError{Op: "put", Bucket: bucket, Key: key, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	m.mu.Lock()
	m.objects[memoryKey(bucket, key)] = MemoryObject{Data: data, ContentType: contentType}
	m.mu.Unlock()

	m.stats.objectsWritten.Add(1)
	m.stats.bytesWritten.Add(int64(len(data)))
	return nil
}

// Close implements ObjectStore.
func (m *MemoryStore) Close() error {
	return nil
}

// Object returns a stored object.
func (m *MemoryStore) Object(bucket, key string) (MemoryObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[memoryKey(bucket, key)]
	return obj, ok
}

// Keys lists "bucket/key" names in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns store statistics.
func (m *MemoryStore) Stats() Stats {
	return m.stats.snapshot()
}
