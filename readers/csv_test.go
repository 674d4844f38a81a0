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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVReader_InfersTypes(t *testing.T) {
	r, err := NewCSVReader(io.NopCloser(strings.NewReader("Name,Height,Legendary\nMewtwo,20,true\nDitto,,false\n")))
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	first, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Mewtwo", first["Name"])
	assert.Equal(t, 20, first["Height"])
	assert.Equal(t, true, first["Legendary"])

	second, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, second["Height"])

	_, err = r.Read(ctx)
	assert.Equal(t, io.EOF, err)

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.RecordsRead)
	assert.Equal(t, int64(1), stats.EmptyCells)
}

func TestCSVReader_TextOnly(t *testing.T) {
	r, err := NewCSVReader(io.NopCloser(strings.NewReader("Name,URL\n151,https://pokeapi.co/api/v2/pokemon/151/\n")),
		WithCSVInferTypes(false))
	require.NoError(t, err)

	rec, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "151", rec["Name"])
	assert.Equal(t, "https://pokeapi.co/api/v2/pokemon/151/", rec["URL"])
}

func TestCSVReader_StripsBOM(t *testing.T) {
	r, err := NewCSVReader(io.NopCloser(strings.NewReader("\ufeffName,URL\nabra,http://x/63\n")))
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "URL"}, r.Headers())
}

func TestCSVReader_DuplicateHeader(t *testing.T) {
	_, err := NewCSVReader(io.NopCloser(strings.NewReader("Name,URL,Name\nabra,http://x/63,kadabra\n")))
	var csvErr *CSVReaderError
	require.ErrorAs(t, err, &csvErr)
	assert.Equal(t, "read_headers", csvErr.Op)
	assert.Contains(t, err.Error(), `duplicate column "Name"`)
}

func TestCSVReader_QuotedFields(t *testing.T) {
	input := "Name,Abilities\n\"Mr. Mime\",\"['soundproof', 'filter']\"\n"
	r, err := NewCSVReader(io.NopCloser(strings.NewReader(input)))
	require.NoError(t, err)

	rec, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Mr. Mime", rec["Name"])
	assert.Equal(t, "['soundproof', 'filter']", rec["Abilities"])
}

func TestCSVReader_RaggedRow(t *testing.T) {
	r, err := NewCSVReader(io.NopCloser(strings.NewReader("Name,URL\nabra\n")))
	require.NoError(t, err)

	_, err = r.Read(context.Background())
	require.Error(t, err)

	var csvErr *CSVReaderError
	require.ErrorAs(t, err, &csvErr)
	assert.Equal(t, "read_record", csvErr.Op)
	assert.Equal(t, 1, csvErr.Row)
}

func TestCSVReader_EmptyInput(t *testing.T) {
	_, err := NewCSVReader(io.NopCloser(strings.NewReader("")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read_headers")
}

func TestCSVReader_CancelledContext(t *testing.T) {
	r, err := NewCSVReader(io.NopCloser(strings.NewReader("Name\nx\n")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
