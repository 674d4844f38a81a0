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

package core

import "context"

// Record represents a single data record in the pipeline.
// Each record is a map from field names to values, supporting heterogeneous data.
type Record map[string]interface{}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the named field as a string, or "" when it is absent or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// TransformFunc is a function adapter for the Transformer interface.
// Allows ordinary functions to be used as Transformers.
type TransformFunc func(ctx context.Context, record Record) (Record, error)

// Transform implements the Transformer interface for TransformFunc.
func (f TransformFunc) Transform(ctx context.Context, record Record) (Record, error) {
	return f(ctx, record)
}

// FilterFunc is a function adapter for the Filter interface.
// Allows ordinary functions to be used as Filters.
type FilterFunc func(ctx context.Context, record Record) (bool, error)

// ShouldInclude implements the Filter interface for FilterFunc.
func (f FilterFunc) ShouldInclude(ctx context.Context, record Record) (bool, error) {
	return f(ctx, record)
}
