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
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aaronlmathis/enrichetl/core"
)

// ListFormat selects how list values are rendered in text output.
type ListFormat string

const (
	// ListFormatPython renders ['a', 'b'], the form produced by the legacy job.
	ListFormatPython ListFormat = "python"
	// ListFormatJSON renders ["a","b"], the same encoding used for database columns.
	ListFormatJSON ListFormat = "json"
)

// ParseListFormat validates s. An empty string selects ListFormatPython.
func ParseListFormat(s string) (ListFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ListFormatPython):
		return ListFormatPython, nil
	case string(ListFormatJSON):
		return ListFormatJSON, nil
	default:
		return "", fmt.Errorf("unknown list format %q", s)
	}
}

// FormatValue renders a record value as CSV cell text.
// Integral floats have no decimal point; nil renders as the empty string.
func FormatValue(v interface{}, lf ListFormat) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return strconv.FormatBool(val)
	case []string:
		return formatList(val, lf)
	case []interface{}:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = FormatValue(item, lf)
		}
		return formatList(items, lf)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatList(items []string, lf ListFormat) string {
	if lf == ListFormatJSON {
		s, err := EncodeJSONList(items)
		if err != nil {
			return ""
		}
		return s
	}

	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = pythonQuote(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// EncodeJSONList encodes a list of strings as compact JSON text. A nil list encodes as [].
func EncodeJSONList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// pythonQuote quotes s the way a Python string repr does: single quotes unless s
// contains a single quote and no double quote.
func pythonQuote(s string) string {
	quote := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}

	var b strings.Builder
	b.WriteRune(quote)
	for _, r := range s {
		switch {
		case r == quote || r == '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune(quote)
	return b.String()
}

func sortedKeys(record core.Record) []string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
