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
	"github.com/aaronlmathis/enrichetl/core"
	"github.com/aaronlmathis/enrichetl/model"
)

// Thresholds are the minimums an enriched record must meet to be kept.
type Thresholds struct {
	MinBaseExperience float64 // inclusive
	MinWeight         float64 // exclusive
	MinHeight         float64 // exclusive
}

// DefaultThresholds keeps records with Base Experience >= 100, Weight > 50 and Height > 10.
func DefaultThresholds() Thresholds {
	return Thresholds{MinBaseExperience: 100, MinWeight: 50, MinHeight: 10}
}

// Filter builds the conjunction of the three threshold predicates.
func (t Thresholds) Filter() core.Filter {
	return And(
		AtLeast(model.FieldBaseExperience, t.MinBaseExperience),
		GreaterThan(model.FieldWeight, t.MinWeight),
		GreaterThan(model.FieldHeight, t.MinHeight),
	)
}
