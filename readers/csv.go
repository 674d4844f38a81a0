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
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aaronlmathis/enrichetl/core"
)

// CSVReaderError wraps structured error information for the CSV reader.
type CSVReaderError struct {
	Op  string
	Row int // 1-based data row, 0 when not applicable
	Err error
}

func (e *CSVReaderError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("csv reader %s (row %d): %v", e.Op, e.Row, e.Err)
	}
	return fmt.Sprintf("csv reader %s: %v", e.Op, e.Err)
}

func (e *CSVReaderError) Unwrap() error {
	return e.Err
}

// CSVReaderStats counts rows and blank cells seen so far.
type CSVReaderStats struct {
	RecordsRead int64
	EmptyCells  int64
}

// CSVReaderOptions configures the CSV reader.
type CSVReaderOptions struct {
	InferTypes bool
}

// ReaderOptionCSV allows functional customization of CSVReader.
type ReaderOptionCSV func(*CSVReaderOptions)

// WithCSVInferTypes controls whether cell text is converted to int, float or bool.
// With inference off every non-empty cell is returned as a string.
func WithCSVInferTypes(infer bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.InferTypes = infer }
}

// CSVReader implements core.DataSource for a CSV document with a header row.
// Every data row must have as many cells as the header; blank cells read as nil.
type CSVReader struct {
	reader  *csv.Reader
	headers []string
	closer  io.Closer
	stats   CSVReaderStats
	opts    CSVReaderOptions
}

// NewCSVReader reads the header row from r and returns a reader positioned at the first data row.
func NewCSVReader(r io.ReadCloser, options ...ReaderOptionCSV) (*CSVReader, error) {
	opts := CSVReaderOptions{InferTypes: true}
	for _, opt := range options {
		opt(&opts)
	}

	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true

	headers, err := csvReader.Read()
	if err != nil {
		return nil, &CSVReaderError{Op: "read_headers", Err: err}
	}
	headers[0] = strings.TrimPrefix(headers[0], "\ufeff")

	seen := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		if _, dup := seen[h]; dup {
			return nil, &CSVReaderError{Op: "read_headers", Err: fmt.Errorf("duplicate column %q", h)}
		}
		seen[h] = struct{}{}
	}

	return &CSVReader{
		reader:  csvReader,
		headers: headers,
		closer:  r,
		opts:    opts,
	}, nil
}

// Headers returns a copy of the header row.
func (c *CSVReader) Headers() []string {
	return append([]string(nil), c.headers...)
}

// Read implements the core.DataSource interface.
func (c *CSVReader) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CSVReaderError{Op: "read", Err: err}
	}

	cells, err := c.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &CSVReaderError{Op: "read_record", Row: int(c.stats.RecordsRead) + 1, Err: err}
	}

	res := make(core.Record, len(cells))
	for i, val := range cells {
		if strings.TrimSpace(val) == "" {
			c.stats.EmptyCells++
			res[c.headers[i]] = nil
			continue
		}
		res[c.headers[i]] = c.parseValue(val)
	}
	c.stats.RecordsRead++

	return res, nil
}

// Close implements the core.DataSource interface.
func (c *CSVReader) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Stats returns CSV reader stats.
func (c *CSVReader) Stats() CSVReaderStats {
	return c.stats
}

// parseValue infers int, float or bool, falling back to the original text.
func (c *CSVReader) parseValue(value string) interface{} {
	if !c.opts.InferTypes {
		return value
	}

	trimmed := strings.TrimSpace(value)
	if i, err := strconv.Atoi(trimmed); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(trimmed); err == nil {
		return b
	}
	return value
}
