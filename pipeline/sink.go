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

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aaronlmathis/enrichetl/core"
	"github.com/aaronlmathis/enrichetl/model"
	"github.com/aaronlmathis/enrichetl/writers"
	"github.com/apache/arrow/go/v12/arrow"
)

// Sink formats.
const (
	FormatCSV     = "csv"
	FormatJSONL   = "jsonl"
	FormatParquet = "parquet"
)

// EnrichedSchema is the Arrow schema of the Parquet destination.
func EnrichedSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: model.FieldName, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: model.FieldHeight, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: model.FieldWeight, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: model.FieldBaseExperience, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: model.FieldAbilities, Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		{Name: model.FieldTypes, Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	}, nil)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Encode serializes records in the given format and returns the object body and its
// content type. Zero records still produce a complete object (a header-only CSV, an empty
// JSON lines file or a Parquet file with no rows).
func Encode(ctx context.Context, records []core.Record, format string, listFormat writers.ListFormat) ([]byte, string, error) {
	var (
		buf         bytes.Buffer
		sink        core.DataSink
		contentType string
	)

	switch format {
	case "", FormatCSV:
		w, err := writers.NewCSVWriter(nopWriteCloser{&buf},
			writers.WithHeaders(model.EnrichedFields),
			writers.WithListFormat(listFormat),
		)
		if err != nil {
			return nil, "", err
		}
		sink, contentType = w, "text/csv"
	case FormatJSONL:
		sink, contentType = writers.NewJSONWriter(nopWriteCloser{&buf}), "application/x-ndjson"
	case FormatParquet:
		w, err := writers.NewParquetWriter(&buf, writers.WithSchema(EnrichedSchema()))
		if err != nil {
			return nil, "", err
		}
		sink, contentType = w, "application/vnd.apache.parquet"
	default:
		return nil, "", fmt.Errorf("unknown sink format %q", format)
	}

	for _, record := range records {
		if err := sink.Write(ctx, record); err != nil {
			sink.Close()
			return nil, "", err
		}
	}
	if err := sink.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), contentType, nil
}
