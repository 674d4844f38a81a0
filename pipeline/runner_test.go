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
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aaronlmathis/enrichetl/config"
	"github.com/aaronlmathis/enrichetl/enrich"
	"github.com/aaronlmathis/enrichetl/model"
	"github.com/aaronlmathis/enrichetl/storage"
	"github.com/aaronlmathis/enrichetl/writers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const insertQuery = "INSERT INTO aavash (name, height, weight, base_experience, abilities, types) VALUES ($1, $2, $3, $4, $5, $6)"

var pokedex = map[string]string{
	"/pokemon/venusaur":  `{"height":20,"weight":1000,"base_experience":263,"abilities":[{"ability":{"name":"overgrow"}},{"ability":{"name":"chlorophyll"}}],"types":[{"type":{"name":"grass"}},{"type":{"name":"poison"}}]}`,
	"/pokemon/pidgey":    `{"height":3,"weight":18,"base_experience":50,"abilities":[{"ability":{"name":"keen-eye"}}],"types":[{"type":{"name":"normal"}},{"type":{"name":"flying"}}]}`,
	"/pokemon/charizard": `{"height":17,"weight":905,"base_experience":267,"abilities":[{"ability":{"name":"blaze"}}],"types":[{"type":{"name":"fire"}},{"type":{"name":"flying"}}]}`,
	"/pokemon/missingno": `{"height":10,"weight":100,"base_experience":200,"abilities":[{"slot":1}],"types":[{"type":{"name":"bird"}}]}`,
	"/pokemon/blastoise": `{"height":16,"weight":855,"base_experience":265,"abilities":[{"ability":{"name":"torrent"}}],"types":[{"type":{"name":"water"}}]}`,
}

const fullCSV = "Name,Height,Weight,Base Experience,Abilities,Types\n" +
	"venusaur,20,1000,263,\"['overgrow', 'chlorophyll']\",\"['grass', 'poison']\"\n" +
	"charizard,17,905,267,['blaze'],\"['fire', 'flying']\"\n" +
	"blastoise,16,855,265,['torrent'],['water']\n"

func newPokedex(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/broken/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, ok := pokedex[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sourceCSV(srv *httptest.Server, rows ...string) string {
	var b strings.Builder
	b.WriteString("Name,URL\n")
	for _, row := range rows {
		path := "/pokemon/" + row
		if strings.HasPrefix(row, "broken:") {
			row = strings.TrimPrefix(row, "broken:")
			path = "/broken/" + row
		}
		fmt.Fprintf(&b, "%s,%s%s\n", row, srv.URL, path)
	}
	return b.String()
}

func testConfig() *config.Config {
	return &config.Config{
		Source:      config.ObjectLocation{Bucket: "raw", Key: "raw_data.csv"},
		Destination: config.ObjectLocation{Bucket: "clean", Key: "cleaned_file.csv"},
		Storage:     config.StorageConfig{Backend: "memory"},
		Enrich:      config.EnrichConfig{OnError: "abort"},
		Filter:      config.FilterConfig{MinBaseExperience: 100, MinWeight: 50, MinHeight: 10},
		Sink:        config.SinkConfig{Format: "csv", ListFormat: "python"},
		Persist: config.PersistConfig{
			Backend:    "postgres",
			Table:      "aavash",
			Columns:    model.DefaultColumns,
			OnRowError: "continue",
		},
		Metrics: config.MetricsConfig{Job: "enrichetl"},
	}
}

type runFixture struct {
	store  *storage.MemoryStore
	mock   sqlmock.Sqlmock
	opened int
	logs   *observer.ObservedLogs
	runner *Runner
	cfg    *config.Config
}

func newRunFixture(t *testing.T, cfg *config.Config, source string, opts ...RunnerOption) *runFixture {
	t.Helper()
	f := &runFixture{store: storage.NewMemoryStore(), cfg: cfg}
	require.NoError(t, f.store.Put(context.Background(), cfg.Source.Bucket, cfg.Source.Key, strings.NewReader(source), "text/csv"))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f.mock = mock

	mode, err := writers.ParseRowErrorMode(cfg.Persist.OnRowError)
	require.NoError(t, err)
	opener := func(ctx context.Context) (PersistSink, error) {
		f.opened++
		w, err := writers.NewPostgresWriterFromDB(ctx, db,
			writers.WithTableName(cfg.Persist.Table),
			writers.WithColumns(cfg.Persist.Columns),
			writers.WithColumnFields(model.ColumnFields(cfg.Persist.Columns)),
			writers.WithRowErrorMode(mode),
		)
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	obsCore, logs := observer.New(zap.DebugLevel)
	f.logs = logs

	base := []RunnerOption{
		WithStore(f.store),
		WithPersistOpener(opener),
		WithLogger(zap.New(obsCore)),
		WithRunID(func() string { return "run-1" }),
	}
	f.runner, err = NewRunner(context.Background(), cfg, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *runFixture) expectInserts(n int, failRow int) {
	f.mock.ExpectBegin()
	for i := 1; i <= n; i++ {
		f.mock.ExpectExec("^SAVEPOINT enrichetl_row$").WillReturnResult(sqlmock.NewResult(0, 0))
		if i == failRow {
			f.mock.ExpectExec(regexp.QuoteMeta(insertQuery)).
				WillReturnError(errors.New(`duplicate key value violates unique constraint "aavash_name_key"`))
			f.mock.ExpectExec("^ROLLBACK TO SAVEPOINT enrichetl_row$").WillReturnResult(sqlmock.NewResult(0, 0))
			continue
		}
		f.mock.ExpectExec(regexp.QuoteMeta(insertQuery)).WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("^RELEASE SAVEPOINT enrichetl_row$").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	f.mock.ExpectCommit()
}

func (f *runFixture) destination(t *testing.T) string {
	t.Helper()
	obj, ok := f.store.Object(f.cfg.Destination.Bucket, f.cfg.Destination.Key)
	require.True(t, ok, "destination object missing")
	return string(obj.Data)
}

func TestRunner_EndToEnd(t *testing.T) {
	srv := newPokedex(t)
	f := newRunFixture(t, testConfig(), sourceCSV(srv, "venusaur", "pidgey", "charizard", "blastoise"))
	f.expectInserts(3, 0)

	result, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Response{StatusCode: http.StatusOK, Body: SuccessBody}, result.Response)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 4, result.RowsRead)
	assert.Equal(t, int64(4), result.RowsEnriched)
	assert.Equal(t, 3, result.RowsFiltered)
	assert.Equal(t, PersistResult{Backend: "postgres", Attempted: 3, Written: 3}, result.Persist)

	assert.Equal(t, fullCSV, f.destination(t))
	obj, _ := f.store.Object("clean", "cleaned_file.csv")
	assert.Equal(t, "text/csv", obj.ContentType)
	require.NoError(t, f.mock.ExpectationsWereMet())

	m := f.runner.Metrics()
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RowsRead))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsFiltered))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsPersisted))

	assert.Equal(t, 1, f.logs.FilterMessage("run completed").Len())
	for _, msg := range []string{"run started", "stage completed", "run completed"} {
		for _, entry := range f.logs.FilterMessage(msg).All() {
			assert.Equal(t, "run-1", entry.ContextMap()["run_id"])
		}
	}
}

// TestRunner_EnrichFailureAborts checks that a failed lookup stops the run before any output.
func TestRunner_EnrichFailureAborts(t *testing.T) {
	srv := newPokedex(t)
	f := newRunFixture(t, testConfig(), sourceCSV(srv, "venusaur", "charizard", "broken:blastoise"))

	result, err := f.runner.Run(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEnrich, stageErr.Stage)

	var enrichErr *enrich.EnrichError
	require.ErrorAs(t, err, &enrichErr)
	assert.Equal(t, http.StatusInternalServerError, enrichErr.StatusCode)
	assert.Equal(t, 3, enrichErr.Row)

	assert.Equal(t, []string{"raw/raw_data.csv"}, f.store.Keys())
	assert.Equal(t, 0, f.opened)
	assert.Zero(t, result.Response.StatusCode)
	assert.Equal(t, int64(2), result.RowsEnriched)
	assert.Equal(t, int64(1), result.EnrichFailures)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunner_MalformedResponseAborts(t *testing.T) {
	srv := newPokedex(t)
	f := newRunFixture(t, testConfig(), sourceCSV(srv, "venusaur", "missingno", "charizard"))

	result, err := f.runner.Run(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEnrich, stageErr.Stage)

	var enrichErr *enrich.EnrichError
	require.ErrorAs(t, err, &enrichErr)
	assert.Equal(t, "missing_field", enrichErr.Op)

	var missing *model.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "abilities[0].ability", missing.Field)

	assert.Equal(t, []string{"raw/raw_data.csv"}, f.store.Keys())
	assert.Equal(t, 0, f.opened)
	assert.Zero(t, result.Response.StatusCode)
	assert.Equal(t, int64(1), result.RowsEnriched)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunner_EnrichFailureSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Enrich.OnError = "skip"
	srv := newPokedex(t)
	f := newRunFixture(t, cfg, sourceCSV(srv, "venusaur", "broken:charizard", "blastoise"))
	f.expectInserts(2, 0)

	result, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Response.StatusCode)
	assert.Equal(t, int64(1), result.EnrichFailures)
	assert.Equal(t, 2, result.RowsFiltered)

	dest := f.destination(t)
	assert.Contains(t, dest, "venusaur")
	assert.NotContains(t, dest, "charizard")
	assert.Equal(t, 1, f.logs.FilterMessage("enrichment failed, row skipped").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.runner.Metrics().EnrichFailures))
}

// TestRunner_PersistRowFailure checks that a rejected insert is logged and the run still succeeds.
func TestRunner_PersistRowFailure(t *testing.T) {
	srv := newPokedex(t)
	f := newRunFixture(t, testConfig(), sourceCSV(srv, "venusaur", "charizard", "blastoise"))
	f.expectInserts(3, 2)

	result, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.Response.StatusCode)
	assert.Equal(t, fullCSV, f.destination(t))
	assert.Equal(t, int64(2), result.Persist.Written)
	assert.Equal(t, int64(1), result.Persist.Failed)
	assert.ErrorContains(t, result.Persist.Err, "duplicate key")
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, 1, f.logs.FilterMessage("persist failed, run continues").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.runner.Metrics().PersistFailures))
}

func TestRunner_PersistConnectFailure(t *testing.T) {
	srv := newPokedex(t)
	cfg := testConfig()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "raw", "raw_data.csv",
		strings.NewReader(sourceCSV(srv, "venusaur", "charizard")), "text/csv"))

	runner, err := NewRunner(context.Background(), cfg,
		WithStore(store),
		WithPersistOpener(func(ctx context.Context) (PersistSink, error) {
			return nil, errors.New("connection refused")
		}),
	)
	require.NoError(t, err)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Response.StatusCode)
	assert.Equal(t, int64(2), result.Persist.Failed)

	var stageErr *StageError
	require.ErrorAs(t, result.Persist.Err, &stageErr)
	assert.Equal(t, StagePersist, stageErr.Stage)

	_, ok := store.Object("clean", "cleaned_file.csv")
	assert.True(t, ok)
}

func TestRunner_SourceMissing(t *testing.T) {
	cfg := testConfig()
	runner, err := NewRunner(context.Background(), cfg,
		WithStore(storage.NewMemoryStore()),
		WithPersistOpener(nil),
	)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageSourceFetch, stageErr.Stage)
	assert.True(t, storage.IsNotFound(err))
}

func TestRunner_SinkFailure(t *testing.T) {
	srv := newPokedex(t)
	f := newRunFixture(t, testConfig(), sourceCSV(srv, "venusaur"))
	f.store.FailPut = errors.New("access denied")

	_, err := f.runner.Run(context.Background())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageSinkWrite, stageErr.Stage)

	var storageErr *storage.StorageAccessError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "put", storageErr.Op)
	assert.Equal(t, 0, f.opened)
}

func TestRunner_NothingPassesFilter(t *testing.T) {
	srv := newPokedex(t)
	f := newRunFixture(t, testConfig(), sourceCSV(srv, "pidgey"))

	result, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.RowsFiltered)
	assert.Equal(t, "Name,Height,Weight,Base Experience,Abilities,Types\n", f.destination(t))
	assert.Equal(t, 1, f.opened)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

// TestRunner_Idempotent checks that rerunning over the same data rewrites identical bytes.
func TestRunner_Idempotent(t *testing.T) {
	srv := newPokedex(t)
	cfg := testConfig()
	cfg.Persist.Backend = "none"
	f := newRunFixture(t, cfg, sourceCSV(srv, "venusaur", "charizard"), WithPersistOpener(nil))

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	first := f.destination(t)

	result, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, f.destination(t))
	assert.Equal(t, PersistResult{Backend: "none", Attempted: 2}, result.Persist)
	assert.Equal(t, 0, f.opened)
}

func TestRunner_JSONListFormatRoundTrip(t *testing.T) {
	srv := newPokedex(t)
	cfg := testConfig()
	cfg.Sink.ListFormat = "json"
	f := newRunFixture(t, cfg, sourceCSV(srv, "venusaur"), WithPersistOpener(nil))

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, f.destination(t), `"[""overgrow"",""chlorophyll""]"`)
}

func TestRunner_RenamesSourceColumns(t *testing.T) {
	srv := newPokedex(t)
	cfg := testConfig()
	cfg.Enrich.Columns = map[string]string{"pokemon": model.FieldName, "link": model.FieldURL}
	source := strings.Replace(sourceCSV(srv, "venusaur"), "Name,URL", "pokemon,link", 1)
	f := newRunFixture(t, cfg, source, WithPersistOpener(nil))

	result, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RowsEnriched)
	assert.Contains(t, f.destination(t), "venusaur,")
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Enrich.OnError = "retry"
	_, err := NewRunner(context.Background(), cfg, WithStore(storage.NewMemoryStore()))
	var vErr *config.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
