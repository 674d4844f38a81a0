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
	"encoding/json"
	"strings"
	"testing"

	"github.com/aaronlmathis/enrichetl/core"
	"github.com/aaronlmathis/enrichetl/model"
	"github.com/aaronlmathis/enrichetl/readers"
	"github.com/aaronlmathis/enrichetl/writers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enriched(name string, height, weight, baseExp float64, abilities, types []string) core.Record {
	return model.EnrichedRecord{
		Name: name, Height: &height, Weight: &weight, BaseExperience: &baseExp,
		Abilities: abilities, Types: types,
	}.ToRecord()
}

func TestEncode_CSV(t *testing.T) {
	records := []core.Record{
		enriched("venusaur", 20, 1000, 263, []string{"overgrow", "chlorophyll"}, []string{"grass", "poison"}),
	}

	body, contentType, err := Encode(context.Background(), records, FormatCSV, writers.ListFormatPython)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t,
		"Name,Height,Weight,Base Experience,Abilities,Types\n"+
			"venusaur,20,1000,263,\"['overgrow', 'chlorophyll']\",\"['grass', 'poison']\"\n",
		string(body))

	body, _, err = Encode(context.Background(), records, FormatCSV, writers.ListFormatJSON)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"[""overgrow"",""chlorophyll""]"`)
}

func TestEncode_CSVHeaderOnly(t *testing.T) {
	body, _, err := Encode(context.Background(), nil, FormatCSV, writers.ListFormatPython)
	require.NoError(t, err)
	assert.Equal(t, "Name,Height,Weight,Base Experience,Abilities,Types\n", string(body))
}

func TestEncode_JSONLines(t *testing.T) {
	records := []core.Record{
		enriched("venusaur", 20, 1000, 263, []string{"overgrow"}, []string{"grass"}),
		enriched("charizard", 17, 905, 267, []string{"blaze"}, []string{"fire", "flying"}),
	}
	body, contentType, err := Encode(context.Background(), records, FormatJSONL, "")
	require.NoError(t, err)
	assert.Equal(t, "application/x-ndjson", contentType)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &doc))
	assert.Equal(t, "charizard", doc[model.FieldName])
	assert.Equal(t, 267.0, doc[model.FieldBaseExperience])
}

func TestEncode_Parquet(t *testing.T) {
	records := []core.Record{
		enriched("venusaur", 20, 1000, 263, []string{"overgrow", "chlorophyll"}, []string{"grass", "poison"}),
	}
	body, contentType, err := Encode(context.Background(), records, FormatParquet, "")
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.apache.parquet", contentType)

	reader, err := readers.NewParquetReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer reader.Close()

	out, err := readers.ReadAll(context.Background(), reader)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.EnrichedRecordFromRecord(records[0]), model.EnrichedRecordFromRecord(out[0]))
}

func TestEncode_UnknownFormat(t *testing.T) {
	_, _, err := Encode(context.Background(), nil, "xlsx", "")
	assert.ErrorContains(t, err, "unknown sink format")
}
