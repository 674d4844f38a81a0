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

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RowsRead.Add(3)
	m.EnrichFailures.Inc()
	m.ObserveStage("enrich", 250*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RowsPersisted))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestMetrics_Push(t *testing.T) {
	var (
		method string
		path   string
		body   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New()
	m.RowsRead.Add(2)
	require.NoError(t, m.Push(context.Background(), server.URL, "enrichetl", map[string]string{"run_id": "abc"}))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/enrichetl/run_id/abc", path)
	assert.NotEmpty(t, body)
}

func TestMetrics_PushError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New().Push(context.Background(), server.URL, "enrichetl", nil)
	assert.ErrorContains(t, err, "failed to push metrics")
}
