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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aaronlmathis/enrichetl/core"
)

// Builder provides a fluent API for constructing record pipelines.
// Use NewPipeline() to create a builder, then chain From, Transform, Filter, To and configuration methods.
//
//	p, err := pipeline.NewPipeline().
//	    From(source).
//	    Transform(enricher.Transformer()).
//	    Filter(thresholds.Filter()).
//	    To(sink).
//	    WithErrorStrategy(core.SkipErrors).
//	    Build()
type Builder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new Builder. The default strategy is core.FailFast.
func NewPipeline() *Builder {
	return &Builder{
		pipeline: &Pipeline{
			transformers: make([]core.Transformer, 0),
			filters:      make([]core.Filter, 0),
			strategy:     core.FailFast,
		},
	}
}

// From sets the DataSource for the pipeline.
func (b *Builder) From(source core.DataSource) *Builder {
	b.pipeline.source = source
	return b
}

// Transform adds a Transformer to the pipeline. Transformers run in the order added.
func (b *Builder) Transform(transformer core.Transformer) *Builder {
	b.pipeline.transformers = append(b.pipeline.transformers, transformer)
	return b
}

// Filter adds a Filter to the pipeline. Filters run after all transformers.
func (b *Builder) Filter(filter core.Filter) *Builder {
	b.pipeline.filters = append(b.pipeline.filters, filter)
	return b
}

// Map adds a transformation function.
func (b *Builder) Map(fn func(ctx context.Context, record core.Record) (core.Record, error)) *Builder {
	return b.Transform(core.TransformFunc(fn))
}

// Where adds a filtering function.
func (b *Builder) Where(fn func(ctx context.Context, record core.Record) (bool, error)) *Builder {
	return b.Filter(core.FilterFunc(fn))
}

// To sets the DataSink for the pipeline.
func (b *Builder) To(sink core.DataSink) *Builder {
	b.pipeline.sink = sink
	return b
}

// WithErrorStrategy sets the error handling strategy for the pipeline.
func (b *Builder) WithErrorStrategy(strategy core.ErrorStrategy) *Builder {
	b.pipeline.strategy = strategy
	return b
}

// WithErrorHandler sets a handler consulted for every record error under SkipErrors and
// CollectErrors. A non-nil return stops the pipeline.
func (b *Builder) WithErrorHandler(handler core.ErrorHandler) *Builder {
	b.pipeline.errorHandler = handler
	return b
}

// Build validates and constructs the Pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if b.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	return b.pipeline, nil
}

// Stats counts what happened to the records of one Execute.
type Stats struct {
	RecordsRead     int64
	RecordsFailed   int64 // read, transform, filter or write errors
	RecordsExcluded int64 // rejected by a filter
	RecordsWritten  int64
}

// Pipeline reads every record from its source, applies transformers then filters, and
// writes the survivors to its sink. It processes one record at a time, in source order.
type Pipeline struct {
	transformers []core.Transformer
	filters      []core.Filter
	source       core.DataSource
	sink         core.DataSink
	strategy     core.ErrorStrategy
	errorHandler core.ErrorHandler
	stats        Stats
	errs         []error
}

// Execute runs the pipeline to completion. The source is closed and the sink flushed
// and closed on every path.
//
// Under core.FailFast the first record error is returned. Under core.SkipErrors and
// core.CollectErrors failed records are dropped; CollectErrors also keeps them for Errors.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	defer func() {
		p.source.Close()
		flushErr := p.sink.Flush()
		closeErr := p.sink.Close()
		if err == nil {
			err = errors.Join(flushErr, closeErr)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		p.stats.RecordsRead++

		// Skip empty records early
		if len(record) == 0 {
			continue
		}

		transformed, err := p.applyTransformations(ctx, record)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if len(transformed) == 0 {
			continue
		}

		include, err := p.applyFilters(ctx, transformed)
		if err != nil {
			if err := p.handleError(ctx, transformed, err); err != nil {
				return err
			}
			continue
		}
		if !include {
			p.stats.RecordsExcluded++
			continue
		}

		if err := p.sink.Write(ctx, transformed); err != nil {
			if err := p.handleError(ctx, transformed, err); err != nil {
				return err
			}
			continue
		}
		p.stats.RecordsWritten++
	}
}

// Stats returns the counts of the last Execute.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// Errors returns the record errors kept under core.CollectErrors.
func (p *Pipeline) Errors() []error {
	return p.errs
}

func (p *Pipeline) applyFilters(ctx context.Context, record core.Record) (bool, error) {
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) applyTransformations(ctx context.Context, record core.Record) (core.Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		current = transformed
	}
	return current, nil
}

// handleError returns nil to continue with the next record.
func (p *Pipeline) handleError(ctx context.Context, record core.Record, err error) error {
	p.stats.RecordsFailed++
	switch p.strategy {
	case core.SkipErrors:
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	case core.CollectErrors:
		p.errs = append(p.errs, err)
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}
