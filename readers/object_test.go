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
	"io"
	"strings"
	"testing"

	"github.com/aaronlmathis/enrichetl/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewObjectReader_ByExtension(t *testing.T) {
	csvSrc, err := NewObjectReader(io.NopCloser(strings.NewReader("Name,URL\n")), "raw/raw_data.CSV")
	require.NoError(t, err)
	assert.IsType(t, &CSVReader{}, csvSrc)

	jsonSrc, err := NewObjectReader(io.NopCloser(strings.NewReader("")), "raw/raw_data.jsonl")
	require.NoError(t, err)
	assert.IsType(t, &JSONReader{}, jsonSrc)
}

func TestReadObject_CSV(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	body := "Name,URL\nbulbasaur,http://api/1\nivysaur,http://api/2\nvenusaur,http://api/3\n"
	require.NoError(t, store.Put(ctx, "raw", "raw_data.csv", strings.NewReader(body), "text/csv"))

	records, err := ReadObject(ctx, store, "raw", "raw_data.csv", WithCSVInferTypes(false))
	require.NoError(t, err)
	require.Len(t, records, 3)

	names := []string{records[0].String("Name"), records[1].String("Name"), records[2].String("Name")}
	assert.Equal(t, []string{"bulbasaur", "ivysaur", "venusaur"}, names)
}

func TestReadObject_JSONLines(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	body := "{\"Name\":\"pikachu\",\"URL\":\"http://api/25\"}\n\n{\"Name\":\"raichu\",\"URL\":\"http://api/26\"}\n"
	require.NoError(t, store.Put(ctx, "raw", "raw.jsonl", strings.NewReader(body), ""))

	records, err := ReadObject(ctx, store, "raw", "raw.jsonl")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "raichu", records[1].String("Name"))
}

func TestReadObject_BadJSONLine(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "raw", "raw.jsonl", strings.NewReader("{\"Name\":1}\nnot json\n"), ""))

	_, err := ReadObject(ctx, store, "raw", "raw.jsonl")
	var jsonErr *JSONReaderError
	require.ErrorAs(t, err, &jsonErr)
	assert.Equal(t, 2, jsonErr.Line)
}

func TestReadObject_Missing(t *testing.T) {
	_, err := ReadObject(context.Background(), storage.NewMemoryStore(), "raw", "raw_data.csv")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}
