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
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/enrichetl/core"
)

// ParquetReaderError wraps structured error information for the Parquet reader.
type ParquetReaderError struct {
	Op  string // Operation that failed (e.g., "read", "load_batch", "schema")
	Err error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReaderStats holds statistics about the Parquet reader's performance.
type ParquetReaderStats struct {
	RecordsRead     int64
	BatchesRead     int64
	ReadDuration    time.Duration
	NullValueCounts map[string]int64
}

// ParquetReaderOptions configures the Parquet reader.
type ParquetReaderOptions struct {
	BatchSize int64
	Columns   []string // optional projection
}

// ReaderOptionParquet is a functional option for ParquetReaderOptions.
type ReaderOptionParquet func(*ParquetReaderOptions)

func WithParquetBatchSize(size int64) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.BatchSize = size
	}
}

func WithParquetColumns(columns ...string) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// ParquetReader implements core.DataSource for Parquet documents held in a seekable reader.
type ParquetReader struct {
	reader          *file.Reader
	recordReader    pqarrow.RecordReader
	currentBatch    arrow.Record
	currentBatchIdx int
	schema          *arrow.Schema
	stats           ParquetReaderStats
}

// NewParquetReader prepares an Arrow record reader over r.
func NewParquetReader(r parquet.ReaderAtSeeker, options ...ReaderOptionParquet) (*ParquetReader, error) {
	opts := ParquetReaderOptions{BatchSize: 1000}
	for _, option := range options {
		option(&opts)
	}

	parquetReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, &ParquetReaderError{Op: "create_reader", Err: err}
	}

	arrowReader, err := pqarrow.NewFileReader(parquetReader,
		pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		parquetReader.Close()
		return nil, &ParquetReaderError{Op: "create_arrow_reader", Err: err}
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		parquetReader.Close()
		return nil, &ParquetReaderError{Op: "get_schema", Err: err}
	}

	var colIndices []int
	for _, name := range opts.Columns {
		indices := schema.FieldIndices(name)
		if len(indices) == 0 {
			parquetReader.Close()
			return nil, &ParquetReaderError{Op: "column_projection", Err: fmt.Errorf("column %q not found in schema", name)}
		}
		colIndices = append(colIndices, indices[0])
	}

	recordReader, err := arrowReader.GetRecordReader(context.Background(), colIndices, nil)
	if err != nil {
		parquetReader.Close()
		return nil, &ParquetReaderError{Op: "create_record_reader", Err: err}
	}

	return &ParquetReader{
		reader:       parquetReader,
		recordReader: recordReader,
		schema:       schema,
		stats:        ParquetReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Read implements the core.DataSource interface.
func (p *ParquetReader) Read(ctx context.Context) (core.Record, error) {
	start := time.Now()
	defer func() { p.stats.ReadDuration += time.Since(start) }()

	if err := ctx.Err(); err != nil {
		return nil, &ParquetReaderError{Op: "read", Err: err}
	}

	for p.currentBatch == nil || p.currentBatchIdx >= int(p.currentBatch.NumRows()) {
		if p.currentBatch != nil {
			p.currentBatch.Release()
			p.currentBatch = nil
		}
		rec, err := p.recordReader.Read()
		if err == io.EOF || (err == nil && rec == nil) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, &ParquetReaderError{Op: "load_batch", Err: err}
		}
		// The record reader releases rec on its next Read.
		rec.Retain()
		p.currentBatch = rec
		p.currentBatchIdx = 0
		p.stats.BatchesRead++
	}

	res := make(core.Record, p.currentBatch.NumCols())
	sch := p.currentBatch.Schema()
	for i := 0; i < int(p.currentBatch.NumCols()); i++ {
		name := sch.Field(i).Name
		res[name] = p.extractValue(p.currentBatch.Column(i), p.currentBatchIdx, name)
	}
	p.currentBatchIdx++
	p.stats.RecordsRead++
	return res, nil
}

// Close releases Arrow buffers and the underlying file reader.
func (p *ParquetReader) Close() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	if p.reader != nil {
		err := p.reader.Close()
		p.reader = nil
		return err
	}
	return nil
}

// Schema returns the Arrow schema of the document.
func (p *ParquetReader) Schema() *arrow.Schema {
	return p.schema
}

func (p *ParquetReader) Stats() ParquetReaderStats {
	return p.stats
}

func (p *ParquetReader) extractValue(col arrow.Array, row int, name string) interface{} {
	if col.IsNull(row) {
		p.stats.NullValueCounts[name]++
		return nil
	}

	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row)
	case *array.Int32:
		return int(arr.Value(row))
	case *array.Int64:
		return int(arr.Value(row))
	case *array.Float32:
		return float64(arr.Value(row))
	case *array.Float64:
		return arr.Value(row)
	case *array.String:
		return arr.Value(row)
	case *array.Timestamp:
		return arr.Value(row).ToTime(arrow.Microsecond)
	case *array.List:
		values, ok := arr.ListValues().(*array.String)
		if !ok {
			return fmt.Sprintf("%v", col.GetOneForMarshal(row))
		}
		start, end := arr.ValueOffsets(row)
		out := make([]string, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, values.Value(int(j)))
		}
		return out
	default:
		return fmt.Sprintf("%v", col.GetOneForMarshal(row))
	}
}
