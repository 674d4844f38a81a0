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
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Package metrics holds the counters of one enrichment run. A run is a batch job, so
// the metrics live on a private registry and are pushed to a Pushgateway at the end.

const namespace = "enrichetl"

// Metrics is the set of run metrics.
type Metrics struct {
	registry *prometheus.Registry

	RowsRead        prometheus.Counter
	RowsEnriched    prometheus.Counter
	EnrichFailures  prometheus.Counter
	RowsFiltered    prometheus.Counter
	RowsPersisted   prometheus.Counter
	PersistFailures prometheus.Counter
	StageDuration   *prometheus.HistogramVec
}

// New registers the run metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RowsRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Raw records decoded from the source object.",
		}),
		RowsEnriched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_enriched_total",
			Help:      "Records enriched from the external API.",
		}),
		EnrichFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_failures_total",
			Help:      "Records whose API lookup failed.",
		}),
		RowsFiltered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_filtered_total",
			Help:      "Enriched records that passed the threshold filter.",
		}),
		RowsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_persisted_total",
			Help:      "Records committed to the persist backend.",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Records the persist backend rejected.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each run stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
		}, []string{"stage"}),
	}
}

// Registry returns the private registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records the duration of a stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Push sends the current values to a Pushgateway, replacing the previous push of the
// same job and grouping.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(m.registry)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
