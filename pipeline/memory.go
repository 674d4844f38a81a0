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
	"io"
	"sync"

	"github.com/aaronlmathis/enrichetl/core"
)

// SliceSource is a DataSource over records already in memory.
type SliceSource struct {
	records []core.Record
	pos     int
}

// NewSliceSource returns a source that yields records in order.
func NewSliceSource(records []core.Record) *SliceSource {
	return &SliceSource{records: records}
}

// Read implements core.DataSource.
func (s *SliceSource) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	record := s.records[s.pos]
	s.pos++
	return record, nil
}

// Close implements core.DataSource.
func (s *SliceSource) Close() error {
	return nil
}

// Collector is a DataSink that keeps every record in memory.
type Collector struct {
	mu      sync.Mutex
	records []core.Record
}

func NewCollector() *Collector {
	return &Collector{}
}

// Write implements core.DataSink.
func (c *Collector) Write(ctx context.Context, record core.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *Collector) Flush() error { return nil }
func (c *Collector) Close() error { return nil }

// Records returns the collected records in write order.
func (c *Collector) Records() []core.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Record(nil), c.records...)
}
