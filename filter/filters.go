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

package filter

import (
	"context"
	"fmt"
	"math"

	"github.com/aaronlmathis/enrichetl/core"
)

// Package filter provides composable numeric predicates over pipeline records.
//
// A record whose field is absent, nil, NaN or non-numeric never passes a numeric predicate.

// GreaterThan creates a filter that includes records where the numeric field is greater than the value
func GreaterThan(field string, threshold float64) core.Filter {
	return numeric(field, func(n float64) bool { return n > threshold })
}

// AtLeast creates a filter that includes records where the numeric field is greater than or equal to the value
func AtLeast(field string, threshold float64) core.Filter {
	return numeric(field, func(n float64) bool { return n >= threshold })
}

func numeric(field string, pass func(float64) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists {
			return false, nil
		}

		num, err := convertToFloat64(value)
		if err != nil {
			return false, nil
		}

		return pass(num), nil
	})
}

// And creates a filter that requires all provided filters to pass
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if !include {
				return false, nil
			}
		}
		return true, nil
	})
}

// convertToFloat64 converts various numeric types to float64
func convertToFloat64(value interface{}) (float64, error) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case nil:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", value, value)
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("value is NaN")
	}
	return f, nil
}
