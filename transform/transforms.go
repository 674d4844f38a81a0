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

package transform

import (
	"context"
	"strings"

	"github.com/aaronlmathis/enrichetl/core"
)

// Package transform provides the small record transformers used around enrichment:
// normalizing source columns on the way in and projecting enriched fields on the way out.

// Select creates a transformer that selects only the specified fields from each record.
// Fields not listed are omitted from the output record.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, field := range fields {
			if value, exists := record[field]; exists {
				result[field] = value
			}
		}
		return result, nil
	})
}

// Rename creates a transformer that renames fields according to the provided mapping.
// Keys are original field names, values are new field names.
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for key, value := range record {
			if newKey, exists := mapping[key]; exists {
				result[newKey] = value
			} else {
				result[key] = value
			}
		}
		return result, nil
	})
}

// TrimSpace creates a transformer that trims whitespace from the specified string fields.
func TrimSpace(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			if str, ok := record[field].(string); ok {
				result[field] = strings.TrimSpace(str)
			}
		}
		return result, nil
	})
}

// Chain applies transformers in order, stopping at the first error.
func Chain(transformers ...core.Transformer) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		current := record
		for _, t := range transformers {
			next, err := t.Transform(ctx, current)
			if err != nil {
				return nil, err
			}
			current = next
		}
		return current, nil
	})
}
