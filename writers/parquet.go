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
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/enrichetl/core"
)

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "schema", "flush_batch", "close_writer")
	Err error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize    int64                // Number of records to buffer before writing
	Schema       *arrow.Schema        // Pre-defined schema (optional)
	Compression  compress.Compression // Compression algorithm
	FieldOrder   []string             // Explicit field ordering when inferring
	RowGroupSize int64
	Metadata     map[string]string // Stored as Arrow schema metadata
}

// ParquetWriterStats holds statistics about the Parquet writer's performance.
type ParquetWriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// WriterOptionParquet represents a configuration function for ParquetWriterOptions.
type WriterOptionParquet func(*ParquetWriterOptions)

// WithBatchSize sets the number of records to buffer before writing a batch.
func WithBatchSize(size int64) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithFieldOrder sets the field ordering used when the schema is inferred.
func WithFieldOrder(fields []string) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.FieldOrder = append([]string(nil), fields...)
	}
}

// WithSchema fixes the Arrow schema instead of inferring it from the first record.
func WithSchema(schema *arrow.Schema) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.Schema = schema
	}
}

// WithRowGroupSize sets the row group size for the Parquet file.
func WithRowGroupSize(size int64) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata sets user metadata for the Parquet file.
func WithMetadata(metadata map[string]string) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// ParquetWriter implements core.DataSink over any io.Writer.
// Records are buffered and written as Arrow record batches.
type ParquetWriter struct {
	out          io.Writer
	writer       *pqarrow.FileWriter
	schema       *arrow.Schema
	fieldOrder   []string
	builders     []array.Builder
	allocator    memory.Allocator
	recordBuffer []core.Record
	opts         ParquetWriterOptions
	stats        ParquetWriterStats
	closed       bool
	errorState   bool
	mu           sync.Mutex
}

// NewParquetWriter creates a Parquet writer that streams the file to w.
// Closing the ParquetWriter writes the footer; it does not close w.
func NewParquetWriter(w io.Writer, options ...WriterOptionParquet) (*ParquetWriter, error) {
	opts := ParquetWriterOptions{}
	for _, option := range options {
		option(&opts)
	}
	opts = opts.withDefaults()

	p := &ParquetWriter{
		out:          w,
		opts:         opts,
		allocator:    memory.NewGoAllocator(),
		recordBuffer: make([]core.Record, 0, opts.BatchSize),
		stats:        ParquetWriterStats{NullValueCounts: make(map[string]int64)},
	}

	if opts.Schema != nil {
		if err := p.initialize(opts.Schema); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (opts ParquetWriterOptions) withDefaults() ParquetWriterOptions {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = 10000
	}
	if opts.Compression == 0 {
		opts.Compression = compress.Codecs.Snappy
	}
	return opts
}

// Write implements the core.DataSink interface.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if err := ctx.Err(); err != nil {
		return &ParquetWriterError{Op: "write", Err: err}
	}

	if p.schema == nil {
		schema, err := p.inferSchema(record)
		if err != nil {
			p.errorState = true
			return err
		}
		if err := p.initialize(schema); err != nil {
			p.errorState = true
			return err
		}
	}

	p.recordBuffer = append(p.recordBuffer, record)
	p.stats.RecordsWritten++

	if int64(len(p.recordBuffer)) >= p.opts.BatchSize {
		if err := p.flushBatch(); err != nil {
			p.errorState = true
			return err
		}
	}
	return nil
}

// Flush implements the core.DataSink interface.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushBatch()
}

// Close flushes remaining records and writes the Parquet footer.
// A writer with a fixed schema and no records still produces a valid empty file.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.flushBatch(); err != nil {
		return &ParquetWriterError{Op: "flush_remaining", Err: err}
	}

	for _, b := range p.builders {
		b.Release()
	}
	p.builders = nil

	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			return &ParquetWriterError{Op: "close_writer", Err: err}
		}
		p.writer = nil
	}
	return nil
}

// Stats returns the current statistics of the Parquet writer.
func (p *ParquetWriter) Stats() ParquetWriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

func (p *ParquetWriter) inferSchema(record core.Record) (*arrow.Schema, error) {
	names := p.opts.FieldOrder
	if len(names) == 0 {
		for name := range record {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	fields := make([]arrow.Field, 0, len(names))
	for _, name := range names {
		dt, err := inferArrowType(record[name])
		if err != nil {
			return nil, &ParquetWriterError{
				Op:  "schema",
				Err: fmt.Errorf("failed to infer arrow type for field %s: %w", name, err),
			}
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

func (p *ParquetWriter) initialize(schema *arrow.Schema) error {
	if len(p.opts.Metadata) > 0 {
		keys := make([]string, 0, len(p.opts.Metadata))
		for k := range p.opts.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = p.opts.Metadata[k]
		}
		md := arrow.NewMetadata(keys, values)
		schema = arrow.NewSchema(schema.Fields(), &md)
	}

	p.schema = schema
	p.fieldOrder = make([]string, 0, len(schema.Fields()))
	p.builders = make([]array.Builder, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		p.fieldOrder = append(p.fieldOrder, f.Name)
		p.builders = append(p.builders, array.NewBuilder(p.allocator, f.Type))
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
		parquet.WithCreatedBy("enrichetl"),
	)

	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	writer, err := pqarrow.NewFileWriter(schema, p.out, props, arrowProps)
	if err != nil {
		return &ParquetWriterError{
			Op:  "create_writer",
			Err: fmt.Errorf("failed to create parquet file writer: %w", err),
		}
	}
	p.writer = writer
	return nil
}

// inferArrowType infers the Arrow data type from a Go value. Nil defaults to string.
func inferArrowType(value interface{}) (arrow.DataType, error) {
	switch v := value.(type) {
	case nil, string:
		return arrow.BinaryTypes.String, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case int32:
		return arrow.PrimitiveTypes.Int32, nil
	case int, int64:
		return arrow.PrimitiveTypes.Int64, nil
	case float32, float64:
		return arrow.PrimitiveTypes.Float64, nil
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case []string:
		return arrow.ListOf(arrow.BinaryTypes.String), nil
	default:
		return nil, fmt.Errorf("unsupported type %T for value %v", v, v)
	}
}

// flushBatch writes the buffered records as one Arrow record batch (must hold mutex).
func (p *ParquetWriter) flushBatch() error {
	if len(p.recordBuffer) == 0 || p.writer == nil {
		return nil
	}

	start := time.Now()

	for _, record := range p.recordBuffer {
		for i, name := range p.fieldOrder {
			value, exists := record[name]
			if !exists || value == nil {
				p.builders[i].AppendNull()
				p.stats.NullValueCounts[name]++
				continue
			}
			if err := appendValue(p.builders[i], value); err != nil {
				return &ParquetWriterError{
					Op:  "append_value",
					Err: fmt.Errorf("field %s: %w", name, err),
				}
			}
		}
	}

	arrays := make([]arrow.Array, len(p.builders))
	for i, b := range p.builders {
		arrays[i] = b.NewArray()
	}
	batch := array.NewRecord(p.schema, arrays, int64(len(p.recordBuffer)))
	for _, a := range arrays {
		a.Release()
	}
	defer batch.Release()

	if err := p.writer.Write(batch); err != nil {
		return &ParquetWriterError{Op: "write_batch", Err: err}
	}

	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	p.recordBuffer = p.recordBuffer[:0]
	return nil
}

// appendValue appends a value to the matching Arrow array builder.
func appendValue(builder array.Builder, value interface{}) error {
	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		b.Append(v)
	case *array.Int32Builder:
		switch v := value.(type) {
		case int32:
			b.Append(v)
		case int:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return fmt.Errorf("int value %d out of range for int32", v)
			}
			b.Append(int32(v))
		default:
			return fmt.Errorf("expected int32, got %T", value)
		}
	case *array.Int64Builder:
		switch v := value.(type) {
		case int64:
			b.Append(v)
		case int:
			b.Append(int64(v))
		case int32:
			b.Append(int64(v))
		default:
			return fmt.Errorf("expected int64, got %T", value)
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		case int:
			b.Append(float64(v))
		case int64:
			b.Append(float64(v))
		default:
			return fmt.Errorf("expected float64, got %T", value)
		}
	case *array.StringBuilder:
		if v, ok := value.(string); ok {
			b.Append(v)
		} else {
			b.Append(fmt.Sprintf("%v", value))
		}
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		b.Append(arrow.Timestamp(v.UnixMicro()))
	case *array.ListBuilder:
		items, ok := value.([]string)
		if !ok {
			return fmt.Errorf("expected []string, got %T", value)
		}
		vb, ok := b.ValueBuilder().(*array.StringBuilder)
		if !ok {
			return fmt.Errorf("unsupported list element type")
		}
		b.Append(true)
		for _, item := range items {
			vb.Append(item)
		}
	default:
		return fmt.Errorf("unsupported builder type %T", builder)
	}
	return nil
}
