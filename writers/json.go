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

package writers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aaronlmathis/enrichetl/core"
)

// JSONWriterError wraps JSON lines write errors with context.
type JSONWriterError struct {
	Op  string
	Err error
}

func (e *JSONWriterError) Error() string {
	return fmt.Sprintf("json writer %s: %v", e.Op, e.Err)
}

func (e *JSONWriterError) Unwrap() error {
	return e.Err
}

// JSONWriterStats holds JSON write statistics.
type JSONWriterStats struct {
	RecordsWritten  int64
	NullValueCounts map[string]int64
}

// JSONWriter implements DataSink for JSON lines files
type JSONWriter struct {
	writer *bufio.Writer
	closer io.Closer
	stats  JSONWriterStats
	mu     sync.Mutex
}

// NewJSONWriter creates a new JSON writer for line-delimited JSON output
func NewJSONWriter(w io.WriteCloser) *JSONWriter {
	return &JSONWriter{
		writer: bufio.NewWriter(w),
		closer: w,
		stats:  JSONWriterStats{NullValueCounts: make(map[string]int64)},
	}
}

// Write implements the DataSink interface. Lists are written as JSON arrays.
func (j *JSONWriter) Write(ctx context.Context, record core.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return &JSONWriterError{Op: "marshal", Err: err}
	}
	data = append(data, '\n')

	if _, err := j.writer.Write(data); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}

	for k, v := range record {
		if v == nil {
			j.stats.NullValueCounts[k]++
		}
	}
	j.stats.RecordsWritten++
	return nil
}

// Flush implements the DataSink interface
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return &JSONWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close implements the DataSink interface
func (j *JSONWriter) Close() error {
	if err := j.Flush(); err != nil {
		return err
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// Stats returns write statistics.
func (j *JSONWriter) Stats() JSONWriterStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	statsCopy := j.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(j.stats.NullValueCounts))
	for k, v := range j.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}
