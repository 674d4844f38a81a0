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

package readers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aaronlmathis/enrichetl/core"
	"github.com/aaronlmathis/enrichetl/storage"
)

// NewObjectReader creates the appropriate reader for an object based on its key extension.
// Keys ending in .json or .jsonl are read as JSON lines, .parquet as Parquet, and
// everything else as CSV with a header row.
func NewObjectReader(body io.ReadCloser, key string, csvOptions ...ReaderOptionCSV) (core.DataSource, error) {
	ext := strings.ToLower(filepath.Ext(key))

	switch ext {
	case ".json", ".jsonl", ".ndjson":
		return NewJSONReader(body), nil
	case ".parquet":
		// Parquet needs random access to the footer.
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, &ParquetReaderError{Op: "read_object", Err: err}
		}
		return NewParquetReader(bytes.NewReader(data))
	default:
		return NewCSVReader(body, csvOptions...)
	}
}

// ReadObject fetches bucket/key from the store and decodes every record it holds.
func ReadObject(ctx context.Context, store storage.ObjectStore, bucket, key string, csvOptions ...ReaderOptionCSV) ([]core.Record, error) {
	body, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	source, err := NewObjectReader(body, key, csvOptions...)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to create reader for %s: %w", key, err)
	}
	defer source.Close()

	return ReadAll(ctx, source)
}

// ReadAll drains a data source into memory, preserving order.
func ReadAll(ctx context.Context, source core.DataSource) ([]core.Record, error) {
	var records []core.Record
	for {
		record, err := source.Read(ctx)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
}
