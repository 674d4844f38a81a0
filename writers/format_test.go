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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		lf    ListFormat
		want  string
	}{
		{"nil", nil, ListFormatPython, ""},
		{"integral float", 20.0, ListFormatPython, "20"},
		{"fractional float", 50.0001, ListFormatPython, "50.0001"},
		{"large float", 1e21, ListFormatPython, "1000000000000000000000"},
		{"int", 7, ListFormatPython, "7"},
		{"bool", true, ListFormatPython, "true"},
		{"python list", []string{"overgrow", "chlorophyll"}, ListFormatPython, "['overgrow', 'chlorophyll']"},
		{"python empty list", []string{}, ListFormatPython, "[]"},
		{"python apostrophe", []string{"farfetch'd"}, ListFormatPython, `["farfetch'd"]`},
		{"python both quotes", []string{`a'b"c`}, ListFormatPython, `['a\'b"c']`},
		{"python backslash", []string{`a\b`}, ListFormatPython, `['a\\b']`},
		{"json list", []string{"grass", "poison"}, ListFormatJSON, `["grass","poison"]`},
		{"json no html escape", []string{"<&>"}, ListFormatJSON, `["<&>"]`},
		{"interface list", []interface{}{"a", 1}, ListFormatPython, "['a', '1']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.value, tt.lf))
		})
	}
	assert.Equal(t, "NaN", FormatValue(math.NaN(), ListFormatPython))
}

func TestParseListFormat(t *testing.T) {
	lf, err := ParseListFormat("")
	require.NoError(t, err)
	assert.Equal(t, ListFormatPython, lf)

	lf, err = ParseListFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, ListFormatJSON, lf)

	_, err = ParseListFormat("yaml")
	assert.Error(t, err)
}

func TestEncodeJSONList(t *testing.T) {
	s, err := EncodeJSONList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}
