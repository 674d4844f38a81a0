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
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"

	"github.com/aaronlmathis/enrichetl/core"
)

// CSVWriterError wraps CSV-specific write errors with context.
type CSVWriterError struct {
	Op  string
	Row int // 1-based data row, 0 when not applicable
	Err error
}

func (e *CSVWriterError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("csv writer %s (row %d): %v", e.Op, e.Row, e.Err)
	}
	return fmt.Sprintf("csv writer %s: %v", e.Op, e.Err)
}

func (e *CSVWriterError) Unwrap() error {
	return e.Err
}

// CSVWriterStats counts what reached the underlying writer.
type CSVWriterStats struct {
	RecordsWritten int64
	HeaderWritten  bool
}

// CSVWriterOptions configures CSV output.
type CSVWriterOptions struct {
	Headers    []string
	ListFormat ListFormat
}

// WriterOptionCSV is a functional option.
type WriterOptionCSV func(*CSVWriterOptions)

// WithHeaders fixes the column order. Without it the sorted keys of the first record are used.
func WithHeaders(headers []string) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Headers = append([]string(nil), headers...)
	}
}

// WithListFormat selects how []string values are rendered.
func WithListFormat(lf ListFormat) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.ListFormat = lf
	}
}

// CSVWriter renders records as one CSV document. Records are held until Flush.
//
// When headers are given up front, Flush writes the header row even if no record
// was written, so an empty result still produces a valid CSV document.
type CSVWriter struct {
	writer     *csv.Writer
	closer     io.Closer
	listFormat ListFormat
	headers    []string
	pending    []core.Record
	stats      CSVWriterStats
	errorState bool
	mu         sync.Mutex
}

// NewCSVWriter creates a CSV writer over w.
func NewCSVWriter(w io.WriteCloser, opts ...WriterOptionCSV) (*CSVWriter, error) {
	options := CSVWriterOptions{ListFormat: ListFormatPython}
	for _, opt := range opts {
		opt(&options)
	}

	if _, err := ParseListFormat(string(options.ListFormat)); err != nil {
		return nil, &CSVWriterError{Op: "configure", Err: err}
	}

	return &CSVWriter{
		writer:     csv.NewWriter(w),
		closer:     w,
		listFormat: options.ListFormat,
		headers:    options.Headers,
	}, nil
}

// Write implements the DataSink interface.
func (c *CSVWriter) Write(ctx context.Context, record core.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorState {
		return &CSVWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if err := ctx.Err(); err != nil {
		return &CSVWriterError{Op: "write", Err: err}
	}

	if len(c.headers) == 0 {
		c.headers = sortedKeys(record)
	}
	c.pending = append(c.pending, record)
	return nil
}

// Flush implements the DataSink interface.
func (c *CSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorState {
		return &CSVWriterError{Op: "flush", Err: fmt.Errorf("writer is in error state")}
	}
	if err := c.flushUnsafe(); err != nil {
		c.errorState = true
		return err
	}
	return nil
}

func (c *CSVWriter) flushUnsafe() error {
	if !c.stats.HeaderWritten && len(c.headers) > 0 {
		if err := c.writer.Write(c.headers); err != nil {
			return &CSVWriterError{Op: "write_header", Err: err}
		}
		c.stats.HeaderWritten = true
	}

	row := make([]string, len(c.headers))
	for i, record := range c.pending {
		for j, key := range c.headers {
			row[j] = FormatValue(record[key], c.listFormat)
		}
		if err := c.writer.Write(row); err != nil {
			return &CSVWriterError{Op: "write_row", Row: int(c.stats.RecordsWritten) + i + 1, Err: err}
		}
	}

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return &CSVWriterError{Op: "flush", Err: err}
	}
	c.stats.RecordsWritten += int64(len(c.pending))
	c.pending = c.pending[:0]
	return nil
}

// Close flushes and closes the underlying writer.
func (c *CSVWriter) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Stats returns write statistics.
func (c *CSVWriter) Stats() CSVWriterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
