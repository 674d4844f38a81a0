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

package readers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aaronlmathis/enrichetl/core"
)

// JSONReaderError wraps structured error information for the JSON lines reader.
type JSONReaderError struct {
	Op   string
	Line int
	Err  error
}

func (e *JSONReaderError) Error() string {
	return fmt.Sprintf("json reader %s (line %d): %v", e.Op, e.Line, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReader implements core.DataSource for JSON lines files
type JSONReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewJSONReader creates a new JSON reader for line-delimited JSON
func NewJSONReader(r io.ReadCloser) *JSONReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &JSONReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read implements the core.DataSource interface. Blank lines are skipped.
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, &JSONReaderError{Op: "read", Line: j.line, Err: err}
		}

		if !j.scanner.Scan() {
			if err := j.scanner.Err(); err != nil {
				return nil, &JSONReaderError{Op: "scan", Line: j.line + 1, Err: err}
			}
			return nil, io.EOF
		}
		j.line++

		line := strings.TrimSpace(j.scanner.Text())
		if line == "" {
			continue
		}

		var record core.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, &JSONReaderError{Op: "decode", Line: j.line, Err: err}
		}
		return record, nil
	}
}

// Close implements the core.DataSource interface
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
