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

package model

import (
	"fmt"
	"math"

	"github.com/aaronlmathis/enrichetl/core"
)

// Package model defines the record shapes that flow through an enrichment run.
//
// Records travel through the pipeline as core.Record maps keyed by the field names below;
// RawRecord and EnrichedRecord are the typed views used at stage boundaries.

// Canonical field names. They double as the CSV header of the source and destination objects.
const (
	FieldName           = "Name"
	FieldURL            = "URL"
	FieldHeight         = "Height"
	FieldWeight         = "Weight"
	FieldBaseExperience = "Base Experience"
	FieldAbilities      = "Abilities"
	FieldTypes          = "Types"
)

// EnrichedFields is the column order of an enriched record.
var EnrichedFields = []string{
	FieldName,
	FieldHeight,
	FieldWeight,
	FieldBaseExperience,
	FieldAbilities,
	FieldTypes,
}

// DefaultColumns are the destination table columns in insert order.
var DefaultColumns = []string{"name", "height", "weight", "base_experience", "abilities", "types"}

var columnFields = map[string]string{
	"name":            FieldName,
	"height":          FieldHeight,
	"weight":          FieldWeight,
	"base_experience": FieldBaseExperience,
	"abilities":       FieldAbilities,
	"types":           FieldTypes,
}

// ColumnFields maps each table column to the record field loaded into it.
// Columns with no canonical field read the field of the same name.
func ColumnFields(columns []string) map[string]string {
	out := make(map[string]string, len(columns))
	for _, col := range columns {
		if field, ok := columnFields[col]; ok {
			out[col] = field
		} else {
			out[col] = col
		}
	}
	return out
}

// RawRecord is one row of the input dataset before enrichment.
type RawRecord struct {
	Name string
	URL  string
}

// RawRecordFromRecord extracts the Name and URL columns from a source record.
// Both columns must be present; a missing column is an error.
func RawRecordFromRecord(r core.Record) (RawRecord, error) {
	name, ok := r[FieldName]
	if !ok {
		return RawRecord{}, fmt.Errorf("record is missing column %q", FieldName)
	}
	url, ok := r[FieldURL]
	if !ok {
		return RawRecord{}, fmt.Errorf("record is missing column %q", FieldURL)
	}
	return RawRecord{Name: toText(name), URL: toText(url)}, nil
}

func toText(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// EnrichedRecord is a RawRecord merged with the fields fetched from the external API.
// A nil numeric pointer means the API returned null for that field.
type EnrichedRecord struct {
	Name           string
	Height         *float64
	Weight         *float64
	BaseExperience *float64
	Abilities      []string
	Types          []string
}

// ToRecord converts the enriched record into a pipeline record.
func (e EnrichedRecord) ToRecord() core.Record {
	abilities := e.Abilities
	if abilities == nil {
		abilities = []string{}
	}
	types := e.Types
	if types == nil {
		types = []string{}
	}
	return core.Record{
		FieldName:           e.Name,
		FieldHeight:         floatOrNil(e.Height),
		FieldWeight:         floatOrNil(e.Weight),
		FieldBaseExperience: floatOrNil(e.BaseExperience),
		FieldAbilities:      abilities,
		FieldTypes:          types,
	}
}

func floatOrNil(f *float64) interface{} {
	if f == nil || math.IsNaN(*f) {
		return nil
	}
	return *f
}

// EnrichedRecordFromRecord is the inverse of ToRecord.
func EnrichedRecordFromRecord(r core.Record) EnrichedRecord {
	e := EnrichedRecord{Name: toText(r[FieldName])}
	e.Height = floatPtr(r[FieldHeight])
	e.Weight = floatPtr(r[FieldWeight])
	e.BaseExperience = floatPtr(r[FieldBaseExperience])
	e.Abilities = stringSlice(r[FieldAbilities])
	e.Types = stringSlice(r[FieldTypes])
	return e
}

func floatPtr(v interface{}) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	default:
		return nil
	}
	return &f
}

func stringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, toText(item))
		}
		return out
	default:
		return nil
	}
}
