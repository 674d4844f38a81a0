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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aaronlmathis/enrichetl/config"
	"github.com/aaronlmathis/enrichetl/core"
	"github.com/aaronlmathis/enrichetl/enrich"
	"github.com/aaronlmathis/enrichetl/filter"
	"github.com/aaronlmathis/enrichetl/metrics"
	"github.com/aaronlmathis/enrichetl/model"
	"github.com/aaronlmathis/enrichetl/readers"
	"github.com/aaronlmathis/enrichetl/storage"
	"github.com/aaronlmathis/enrichetl/transform"
	"github.com/aaronlmathis/enrichetl/writers"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Package pipeline runs one enrichment job: fetch the source object, enrich every row
// through the external API, filter, upload the result and load it into the database.
//
// Stages run strictly in order on the calling goroutine. A failure in the first four
// stages aborts the run with a *StageError; persist failures are logged and reported in
// RunResult.Persist only.

// Stage names one step of a run.
type Stage string

const (
	StageSourceFetch Stage = "source_fetch"
	StageEnrich      Stage = "enrich"
	StageFilter      Stage = "filter"
	StageSinkWrite   Stage = "sink_write"
	StagePersist     Stage = "persist"
)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SuccessBody is the response body of a completed run.
const SuccessBody = `{"message": "Data cleaning and storage completed successfully."}`

// Response is the invocation result returned to the host.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// PersistResult describes the persist stage. Err is never returned by Run.
type PersistResult struct {
	Backend   string
	Attempted int
	Written   int64
	Failed    int64
	Err       error
}

// RunResult summarizes one run.
type RunResult struct {
	RunID          string
	RowsRead       int
	RowsEnriched   int64
	EnrichFailures int64
	RowsFiltered   int
	BytesWritten   int
	Destination    string
	Persist        PersistResult
	Response       Response
	Duration       time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore sets the object store. The runner does not close it.
func WithStore(store storage.ObjectStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithLookuper replaces the HTTP client used for enrichment.
func WithLookuper(lookup enrich.Lookuper) RunnerOption {
	return func(r *Runner) { r.lookup = lookup }
}

// WithPersistOpener replaces the persist backend. A nil opener disables the persist stage.
func WithPersistOpener(open PersistOpener) RunnerOption {
	return func(r *Runner) {
		r.persist = open
		r.persistSet = true
	}
}

func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) RunnerOption {
	return func(r *Runner) { r.newRunID = fn }
}

// Runner executes enrichment runs for one configuration.
type Runner struct {
	cfg        *config.Config
	store      storage.ObjectStore
	ownsStore  bool
	lookup     enrich.Lookuper
	persist    PersistOpener
	persistSet bool
	metrics    *metrics.Metrics
	logger     *zap.Logger
	newRunID   func() string
}

// NewRunner validates cfg and builds every dependency not supplied through options.
func NewRunner(ctx context.Context, cfg *config.Config, options ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:      cfg,
		logger:   zap.NewNop(),
		newRunID: uuid.NewString,
	}
	for _, opt := range options {
		opt(r)
	}

	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.lookup == nil {
		r.lookup = enrich.NewClient(
			enrich.WithTimeout(cfg.Enrich.Timeout),
			enrich.WithRateLimit(cfg.Enrich.RateLimit),
			enrich.WithUserAgent(cfg.Enrich.UserAgent),
			enrich.WithClientLogger(r.logger),
		)
	}
	if !r.persistSet {
		open, err := OpenPersist(cfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.persist = open
	}
	if r.store == nil {
		store, err := OpenStore(ctx, cfg.Storage, r.logger)
		if err != nil {
			return nil, err
		}
		r.store = store
		r.ownsStore = true
	}
	return r, nil
}

// Metrics returns the metrics the runner updates.
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

// Close releases the object store if the runner opened it.
func (r *Runner) Close() error {
	if r.ownsStore {
		return r.store.Close()
	}
	return nil
}

// Run executes the five stages once. On success the result carries a 200 Response; a
// fatal stage failure is returned as a *StageError together with the partial result.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := r.newRunID()
	log := r.logger.With(zap.String("run_id", runID))

	result := &RunResult{
		RunID:       runID,
		Destination: r.cfg.Destination.String(),
		Persist:     PersistResult{Backend: r.cfg.Persist.Backend},
	}
	defer func() {
		result.Duration = time.Since(start)
		r.pushMetrics(log, runID)
	}()

	log.Info("run started",
		zap.String("source", r.cfg.Source.String()),
		zap.String("destination", result.Destination),
		zap.String("on_error", r.cfg.Enrich.OnError))

	var records []core.Record
	err := r.stage(log, StageSourceFetch, func() (err error) {
		records, err = readers.ReadObject(ctx, r.store, r.cfg.Source.Bucket, r.cfg.Source.Key,
			readers.WithCSVInferTypes(false))
		return err
	})
	if err != nil {
		return result, r.fail(log, err)
	}
	result.RowsRead = len(records)
	r.metrics.RowsRead.Add(float64(len(records)))

	var enriched []core.Record
	err = r.stage(log, StageEnrich, func() (err error) {
		enriched, err = r.enrich(ctx, log, records, result)
		return err
	})
	if err != nil {
		return result, r.fail(log, err)
	}

	var filtered []core.Record
	err = r.stage(log, StageFilter, func() (err error) {
		filtered, err = r.filter(ctx, enriched)
		return err
	})
	if err != nil {
		return result, r.fail(log, err)
	}
	result.RowsFiltered = len(filtered)
	r.metrics.RowsFiltered.Add(float64(len(filtered)))

	err = r.stage(log, StageSinkWrite, func() error {
		n, err := r.write(ctx, filtered)
		result.BytesWritten = n
		return err
	})
	if err != nil {
		return result, r.fail(log, err)
	}

	result.Persist = r.persistRecords(ctx, log, filtered)

	result.Response = Response{StatusCode: http.StatusOK, Body: SuccessBody}
	log.Info("run completed",
		zap.Int("rows_read", result.RowsRead),
		zap.Int64("rows_enriched", result.RowsEnriched),
		zap.Int64("enrich_failures", result.EnrichFailures),
		zap.Int("rows_filtered", result.RowsFiltered),
		zap.Int64("rows_persisted", result.Persist.Written),
		zap.Int64("persist_failures", result.Persist.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (r *Runner) fail(log *zap.Logger, err error) error {
	log.Error("run failed", zap.Error(err))
	return err
}

// stage times fn and wraps its error with the stage name.
func (r *Runner) stage(log *zap.Logger, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	r.metrics.ObserveStage(string(stage), elapsed)

	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	log.Debug("stage completed", zap.String("stage", string(stage)), zap.Duration("elapsed", elapsed))
	return nil
}

func (r *Runner) enrich(ctx context.Context, log *zap.Logger, records []core.Record, result *RunResult) ([]core.Record, error) {
	strategy := core.FailFast
	if r.cfg.Enrich.OnError == "skip" {
		strategy = core.SkipErrors
	}

	enricher := enrich.NewEnricher(r.lookup,
		enrich.WithLogger(log),
		enrich.WithOnResult(func(o enrich.Outcome) {
			if o.OK() {
				r.metrics.RowsEnriched.Inc()
			} else {
				r.metrics.EnrichFailures.Inc()
			}
		}),
	)
	defer func() {
		stats := enricher.Stats()
		result.RowsEnriched = stats.Enriched
		result.EnrichFailures = stats.Failed
	}()

	collector := NewCollector()
	p, err := NewPipeline().
		From(NewSliceSource(records)).
		Transform(transform.Chain(
			transform.Rename(r.cfg.Enrich.Columns),
			transform.TrimSpace(model.FieldURL),
			enricher.Transformer(),
			transform.Select(model.EnrichedFields...),
		)).
		To(collector).
		WithErrorStrategy(strategy).
		WithErrorHandler(core.ErrorHandlerFunc(func(ctx context.Context, record core.Record, err error) error {
			log.Warn("enrichment failed, row skipped",
				zap.String("name", record.String(model.FieldName)),
				zap.Error(err))
			return nil
		})).
		Build()
	if err != nil {
		return nil, err
	}

	if err := p.Execute(ctx); err != nil {
		return nil, err
	}
	return collector.Records(), nil
}

func (r *Runner) filter(ctx context.Context, records []core.Record) ([]core.Record, error) {
	thresholds := filter.Thresholds{
		MinBaseExperience: r.cfg.Filter.MinBaseExperience,
		MinWeight:         r.cfg.Filter.MinWeight,
		MinHeight:         r.cfg.Filter.MinHeight,
	}

	collector := NewCollector()
	p, err := NewPipeline().
		From(NewSliceSource(records)).
		Filter(thresholds.Filter()).
		To(collector).
		Build()
	if err != nil {
		return nil, err
	}
	if err := p.Execute(ctx); err != nil {
		return nil, err
	}
	return collector.Records(), nil
}

func (r *Runner) write(ctx context.Context, records []core.Record) (int, error) {
	listFormat, err := writers.ParseListFormat(r.cfg.Sink.ListFormat)
	if err != nil {
		return 0, err
	}
	body, contentType, err := Encode(ctx, records, r.cfg.Sink.Format, listFormat)
	if err != nil {
		return 0, err
	}

	dst := r.cfg.Destination
	if err := r.store.Put(ctx, dst.Bucket, dst.Key, bytes.NewReader(body), contentType); err != nil {
		return 0, err
	}
	return len(body), nil
}

// persistRecords loads records into the persist backend. Every failure is logged and
// swallowed.
func (r *Runner) persistRecords(ctx context.Context, log *zap.Logger, records []core.Record) PersistResult {
	res := PersistResult{Backend: r.cfg.Persist.Backend, Attempted: len(records)}
	if r.persist == nil {
		log.Info("persist disabled")
		return res
	}

	err := r.stage(log, StagePersist, func() error {
		sink, err := r.persist(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer func() {
			if err := sink.Close(); err != nil {
				log.Error("failed to release persist connection", zap.Error(err))
			}
		}()

		var errs []error
		for _, record := range records {
			if err := sink.Write(ctx, record); err != nil {
				errs = append(errs, err)
				break
			}
		}
		if err := sink.FlushContext(ctx); err != nil {
			errs = append(errs, err)
		}
		res.Written, res.Failed = persistCounts(sink)
		return errors.Join(errs...)
	})

	if err != nil {
		if unaccounted := int64(res.Attempted) - res.Written - res.Failed; unaccounted > 0 {
			res.Failed += unaccounted
		}
		res.Err = err
		log.Error("persist failed, run continues",
			zap.String("backend", res.Backend),
			zap.Int64("written", res.Written),
			zap.Int64("failed", res.Failed),
			zap.Error(err))
	}

	r.metrics.RowsPersisted.Add(float64(res.Written))
	r.metrics.PersistFailures.Add(float64(res.Failed))
	return res
}

func (r *Runner) pushMetrics(log *zap.Logger, runID string) {
	url := r.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.metrics.Push(ctx, url, r.cfg.Metrics.Job, map[string]string{"run_id": runID}); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}
