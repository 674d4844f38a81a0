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

package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/aaronlmathis/enrichetl/core"
	"github.com/aaronlmathis/enrichetl/model"
	"go.uber.org/zap"
)

// Package enrich fetches the external API document for each raw record and merges the
// projected fields into an enriched record.
//
// Lookups are sequential and blocking. A failed lookup is reported, never retried.

// Lookuper resolves a record URL into an API document. *Client implements it.
type Lookuper interface {
	Lookup(ctx context.Context, url string) (*model.APIResponse, error)
}

// LookupFunc is a function adapter for the Lookuper interface.
type LookupFunc func(ctx context.Context, url string) (*model.APIResponse, error)

// Lookup implements Lookuper.
func (f LookupFunc) Lookup(ctx context.Context, url string) (*model.APIResponse, error) {
	return f(ctx, url)
}

// Outcome is the per-row result of EnrichAll. Exactly one of Record or Err is set.
type Outcome struct {
	Row    int // 1-based input position
	Raw    model.RawRecord
	Record core.Record
	Err    error
}

// OK reports whether the row was enriched.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// EnricherStats counts enrichment results.
type EnricherStats struct {
	Enriched int64
	Failed   int64
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

func WithLogger(logger *zap.Logger) EnricherOption {
	return func(e *Enricher) { e.logger = logger }
}

// WithOnResult registers a callback invoked after every row, successful or not.
func WithOnResult(fn func(Outcome)) EnricherOption {
	return func(e *Enricher) { e.onResult = fn }
}

// Enricher merges API documents into raw records.
type Enricher struct {
	lookup   Lookuper
	logger   *zap.Logger
	onResult func(Outcome)
	stats    EnricherStats
	row      int
}

// NewEnricher creates an Enricher backed by lookup.
func NewEnricher(lookup Lookuper, options ...EnricherOption) *Enricher {
	e := &Enricher{lookup: lookup, logger: zap.NewNop()}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Enrich looks up raw.URL and returns the enriched record.
func (e *Enricher) Enrich(ctx context.Context, raw model.RawRecord) (core.Record, error) {
	if raw.URL == "" {
		return nil, &EnrichError{Op: "request", Err: fmt.Errorf("record %q has an empty URL", raw.Name)}
	}

	resp, err := e.lookup.Lookup(ctx, raw.URL)
	if err != nil {
		return nil, err
	}
	return resp.Enrich(raw.Name).ToRecord(), nil
}

// EnrichAll enriches every record in order and reports one Outcome per input row.
// It does not stop on failure; the caller decides what a failed row means.
func (e *Enricher) EnrichAll(ctx context.Context, raws []model.RawRecord) []Outcome {
	outcomes := make([]Outcome, 0, len(raws))
	for _, raw := range raws {
		e.row++
		outcomes = append(outcomes, e.enrichRow(ctx, e.row, raw))
	}
	return outcomes
}

// Transformer adapts the enricher to a core.Transformer over source records with
// Name and URL columns. Rows are numbered in call order.
func (e *Enricher) Transformer() core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		e.row++
		raw, err := model.RawRecordFromRecord(record)
		if err != nil {
			out := Outcome{Row: e.row, Err: &EnrichError{Op: "record", Row: e.row, Err: err}}
			e.finish(out)
			return nil, out.Err
		}
		out := e.enrichRow(ctx, e.row, raw)
		return out.Record, out.Err
	})
}

func (e *Enricher) enrichRow(ctx context.Context, row int, raw model.RawRecord) Outcome {
	out := Outcome{Row: row, Raw: raw}
	rec, err := e.Enrich(ctx, raw)
	if err != nil {
		var ee *EnrichError
		if errors.As(err, &ee) && ee.Row == 0 {
			ee.Row = row
		}
		out.Err = err
	} else {
		out.Record = rec
	}
	e.finish(out)
	return out
}

func (e *Enricher) finish(out Outcome) {
	if out.Err != nil {
		e.stats.Failed++
		e.logger.Debug("enrichment failed",
			zap.Int("row", out.Row),
			zap.String("name", out.Raw.Name),
			zap.Error(out.Err))
	} else {
		e.stats.Enriched++
	}
	if e.onResult != nil {
		e.onResult(out)
	}
}

// Stats returns enrichment counts.
func (e *Enricher) Stats() EnricherStats {
	return e.stats
}
