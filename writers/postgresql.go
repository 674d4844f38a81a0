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

package writers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/aaronlmathis/enrichetl/core"
)

// Package writers provides implementations of core.DataSink for writing data to various destinations.
//
// This file implements the PostgreSQL writer. A writer holds exactly one database connection,
// inserts each record with its own parameterized INSERT and commits all of them in a single
// transaction when flushed.

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string // The operation being performed (e.g., "connect", "convert", "insert", "commit")
	Row int    // 1-based position in the flushed batch, 0 when not applicable
	Err error  // The underlying error
}

// Error returns the error string for PostgresWriterError.
func (e *PostgresWriterError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("postgres writer %s (row %d): %v", e.Op, e.Row, e.Err)
	}
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for PostgresWriterError.
func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterStats holds PostgreSQL write performance statistics.
type PostgresWriterStats struct {
	RecordsWritten   int64            // Rows inserted and committed
	RecordsFailed    int64            // Rows whose INSERT failed
	BatchesWritten   int64            // Number of flushed batches
	TransactionCount int64            // Number of transactions committed
	LastWriteTime    time.Time        // Time of last write
	WriteDuration    time.Duration    // Total time spent writing
	ConnectionTime   time.Duration    // Time spent establishing connection
	NullValueCounts  map[string]int64 // Count of null values per column
	ConflictCount    int64            // Number of conflicts encountered
}

// ConflictResolution defines how to handle INSERT conflicts in PostgreSQL.
type ConflictResolution int

const (
	// ConflictError returns an error on conflict (default PostgreSQL behavior).
	ConflictError ConflictResolution = iota
	// ConflictIgnore ignores conflicting rows (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate updates conflicting rows (ON CONFLICT DO UPDATE).
	ConflictUpdate
)

// ParseConflictResolution maps "error", "ignore" or "update" to a ConflictResolution.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return ConflictError, nil
	case "ignore":
		return ConflictIgnore, nil
	case "update":
		return ConflictUpdate, nil
	default:
		return ConflictError, fmt.Errorf("unknown conflict resolution %q", s)
	}
}

// RowErrorMode controls what happens when a single INSERT fails.
type RowErrorMode int

const (
	// RowErrorContinue isolates each INSERT in a savepoint; a failed row is rolled back
	// on its own and the remaining rows are still attempted and committed.
	RowErrorContinue RowErrorMode = iota
	// RowErrorAbort rolls back the whole transaction on the first failed INSERT.
	RowErrorAbort
)

func (m RowErrorMode) String() string {
	if m == RowErrorAbort {
		return "abort"
	}
	return "continue"
}

// ParseRowErrorMode maps "continue" or "abort" to a RowErrorMode.
func ParseRowErrorMode(s string) (RowErrorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return RowErrorContinue, nil
	case "abort":
		return RowErrorAbort, nil
	default:
		return RowErrorContinue, fmt.Errorf("unknown row error mode %q", s)
	}
}

// PostgresWriterOptions configures the PostgreSQL writer.
type PostgresWriterOptions struct {
	DSN                string             // PostgreSQL connection string
	TableName          string             // Target table name
	Columns            []string           // Columns to write (order matters)
	ColumnFields       map[string]string  // Column to record field; unmapped columns read the field of the same name
	BatchSize          int                // Records per transaction; 0 buffers until Flush
	CreateTable        bool               // Create table if not exists
	ConflictResolution ConflictResolution // Conflict handling strategy
	ConflictColumns    []string           // Columns that define uniqueness for conflict resolution
	UpdateColumns      []string           // Columns to update on conflict (for ConflictUpdate)
	RowErrorMode       RowErrorMode
	QueryTimeout       time.Duration // 0 disables the per-flush deadline
	Logger             *zap.Logger
}

// PostgresWriterOption represents a configuration function for PostgresWriterOptions.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.DSN = dsn
	}
}

// WithTableName sets the target table name.
func WithTableName(tableName string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TableName = tableName
	}
}

// WithColumns sets the columns to write.
func WithColumns(columns []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithColumnFields maps table columns to record fields.
func WithColumnFields(mapping map[string]string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ColumnFields = make(map[string]string, len(mapping))
		for k, v := range mapping {
			opts.ColumnFields[k] = v
		}
	}
}

// WithPostgresBatchSize sets the number of records per transaction.
func WithPostgresBatchSize(size int) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCreateTable enables or disables table creation.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.CreateTable = create
	}
}

// WithConflictResolution sets the conflict resolution strategy and columns.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithRowErrorMode selects savepoint isolation or whole-batch abort for failed inserts.
func WithRowErrorMode(mode RowErrorMode) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.RowErrorMode = mode
	}
}

// WithPostgresQueryTimeout sets the query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// WithPostgresLogger sets the logger used for per-row failures.
func WithPostgresLogger(logger *zap.Logger) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Logger = logger
	}
}

// PostgresWriter implements core.DataSink for PostgreSQL output.
type PostgresWriter struct {
	db          *sql.DB
	conn        *sql.Conn
	ownsDB      bool
	options     PostgresWriterOptions
	columns     []string
	query       string
	recordBuf   []core.Record
	stats       PostgresWriterStats
	logger      *zap.Logger
	initialized bool
	errorState  bool
	closed      bool
	mu          sync.Mutex
}

// NewPostgresWriter opens a database handle for the configured DSN and acquires its single connection.
func NewPostgresWriter(ctx context.Context, opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := buildPostgresOptions(opts)
	if options.DSN == "" {
		return nil, &PostgresWriterError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}
	if err := validateOptions(&options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	db, err := sql.Open("postgres", options.DSN)
	if err != nil {
		return nil, &PostgresWriterError{Op: "connect", Err: fmt.Errorf("failed to open database: %w", err)}
	}

	w := newPostgresWriter(db, options)
	w.ownsDB = true
	if err := w.connect(ctx); err != nil {
		db.Close()
		return nil, &PostgresWriterError{Op: "connect", Err: err}
	}
	return w, nil
}

// NewPostgresWriterFromDB acquires a connection from an existing handle. The handle is
// not closed by Close.
func NewPostgresWriterFromDB(ctx context.Context, db *sql.DB, opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := buildPostgresOptions(opts)
	if err := validateOptions(&options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	w := newPostgresWriter(db, options)
	if err := w.connect(ctx); err != nil {
		return nil, &PostgresWriterError{Op: "connect", Err: err}
	}
	return w, nil
}

func buildPostgresOptions(opts []PostgresWriterOption) PostgresWriterOptions {
	options := PostgresWriterOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return options
}

func newPostgresWriter(db *sql.DB, options PostgresWriterOptions) *PostgresWriter {
	return &PostgresWriter{
		db:      db,
		options: options,
		columns: append([]string(nil), options.Columns...),
		stats:   PostgresWriterStats{NullValueCounts: make(map[string]int64)},
		logger:  options.Logger,
	}
}

// validateOptions validates the PostgreSQL writer options.
func validateOptions(opts *PostgresWriterOptions) error {
	if opts.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if !isIdentifier(opts.TableName) {
		return fmt.Errorf("invalid table name %q", opts.TableName)
	}
	for _, col := range opts.Columns {
		if !isIdentifier(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
	}
	if opts.ConflictResolution == ConflictUpdate && len(opts.UpdateColumns) == 0 {
		return fmt.Errorf("update columns required for conflict update resolution")
	}
	if opts.ConflictResolution != ConflictError && len(opts.ConflictColumns) == 0 {
		return fmt.Errorf("conflict columns required for conflict resolution")
	}
	return nil
}

// isIdentifier accepts plain or schema-qualified SQL identifiers.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

// connect pins exactly one connection for the lifetime of the writer.
func (w *PostgresWriter) connect(ctx context.Context) error {
	start := time.Now()

	w.db.SetMaxOpenConns(1)
	w.db.SetMaxIdleConns(1)

	conn, err := w.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	w.conn = conn
	w.stats.ConnectionTime = time.Since(start)
	return nil
}

// Stats returns a copy of the current write statistics.
func (w *PostgresWriter) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	statsCopy := w.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(w.stats.NullValueCounts))
	for k, v := range w.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Write implements the core.DataSink interface. Records are buffered until Flush,
// or until BatchSize records are buffered when a batch size is set.
func (w *PostgresWriter) Write(ctx context.Context, record core.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	if w.errorState {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	if !w.initialized {
		if err := w.initializeUnsafe(ctx, record); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "initialize", Err: err}
		}
	}

	w.recordBuf = append(w.recordBuf, record)

	if w.options.BatchSize > 0 && len(w.recordBuf) >= w.options.BatchSize {
		return w.flushBufferUnsafe(ctx)
	}
	return nil
}

// Flush implements the core.DataSink interface.
func (w *PostgresWriter) Flush() error {
	return w.FlushContext(context.Background())
}

// FlushContext writes buffered records in one transaction.
//
// In RowErrorContinue mode the transaction is committed even when some rows failed and the
// returned error joins one *PostgresWriterError per failed row. In RowErrorAbort mode the
// first failure rolls everything back.
func (w *PostgresWriter) FlushContext(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	return w.flushBufferUnsafe(ctx)
}

// Close flushes buffered records and releases the connection.
func (w *PostgresWriter) Close() error {
	flushErr := w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return flushErr
	}
	w.closed = true

	var errs []error
	if flushErr != nil {
		errs = append(errs, flushErr)
	}
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			errs = append(errs, &PostgresWriterError{Op: "release", Err: err})
		}
		w.conn = nil
	}
	if w.ownsDB && w.db != nil {
		if err := w.db.Close(); err != nil {
			errs = append(errs, &PostgresWriterError{Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// initializeUnsafe performs one-time initialization (must hold mutex).
func (w *PostgresWriter) initializeUnsafe(ctx context.Context, firstRecord core.Record) error {
	if len(w.columns) == 0 {
		w.columns = sortedKeys(firstRecord)
		for _, col := range w.columns {
			if !isIdentifier(col) {
				return fmt.Errorf("field %q cannot be used as a column name", col)
			}
		}
	}

	if w.options.CreateTable {
		if err := w.createTableUnsafe(ctx, firstRecord); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	w.query = w.insertQuery()
	w.initialized = true
	return nil
}

func (w *PostgresWriter) fieldFor(column string) string {
	if field, ok := w.options.ColumnFields[column]; ok {
		return field
	}
	return column
}

// createTableUnsafe creates the target table based on the first record (must hold mutex).
func (w *PostgresWriter) createTableUnsafe(ctx context.Context, record core.Record) error {
	columns := make([]string, 0, len(w.columns))
	for _, col := range w.columns {
		columns = append(columns, fmt.Sprintf("%s %s", col, inferSQLType(record[w.fieldFor(col)])))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", w.options.TableName, strings.Join(columns, ", "))
	_, err := w.conn.ExecContext(ctx, query)
	return err
}

// insertQuery builds the parameterized INSERT statement.
func (w *PostgresWriter) insertQuery() string {
	placeholders := make([]string, len(w.columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.options.TableName,
		strings.Join(w.columns, ", "),
		strings.Join(placeholders, ", "))

	switch w.options.ConflictResolution {
	case ConflictIgnore:
		query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(w.options.ConflictColumns, ", "))
	case ConflictUpdate:
		updateClauses := make([]string, len(w.options.UpdateColumns))
		for i, col := range w.options.UpdateColumns {
			updateClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
		}
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(w.options.ConflictColumns, ", "),
			strings.Join(updateClauses, ", "))
	}
	return query
}

const rowSavepoint = "enrichetl_row"

// flushBufferUnsafe writes buffered records to PostgreSQL (must hold mutex).
func (w *PostgresWriter) flushBufferUnsafe(ctx context.Context) error {
	if len(w.recordBuf) == 0 {
		return nil
	}
	defer func() { w.recordBuf = w.recordBuf[:0] }()

	if w.options.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.options.QueryTimeout)
		defer cancel()
	}

	start := time.Now()

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		w.stats.RecordsFailed += int64(len(w.recordBuf))
		return &PostgresWriterError{Op: "begin", Err: err}
	}

	var (
		rowErrs  []error
		inserted int64
	)
	for i, record := range w.recordBuf {
		row := i + 1
		values, err := w.rowValues(record)
		if err != nil {
			rowErr := &PostgresWriterError{Op: "convert", Row: row, Err: err}
			if w.options.RowErrorMode == RowErrorAbort {
				tx.Rollback()
				w.stats.RecordsFailed += int64(len(w.recordBuf))
				return rowErr
			}
			w.stats.RecordsFailed++
			w.logger.Warn("row conversion failed, row skipped",
				zap.String("table", w.options.TableName),
				zap.Int("row", row),
				zap.Error(err))
			rowErrs = append(rowErrs, rowErr)
			continue
		}

		if w.options.RowErrorMode == RowErrorContinue {
			if _, err := tx.ExecContext(ctx, "SAVEPOINT "+rowSavepoint); err != nil {
				tx.Rollback()
				w.stats.RecordsFailed += int64(len(w.recordBuf))
				return &PostgresWriterError{Op: "savepoint", Row: row, Err: err}
			}
		}

		result, err := tx.ExecContext(ctx, w.query, values...)
		if err != nil {
			rowErr := &PostgresWriterError{Op: "insert", Row: row, Err: err}
			if w.options.RowErrorMode == RowErrorAbort {
				tx.Rollback()
				w.stats.RecordsFailed += int64(len(w.recordBuf))
				return rowErr
			}
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+rowSavepoint); rbErr != nil {
				tx.Rollback()
				w.stats.RecordsFailed += int64(len(w.recordBuf))
				return errors.Join(rowErr, &PostgresWriterError{Op: "rollback_savepoint", Row: row, Err: rbErr})
			}
			w.stats.RecordsFailed++
			w.logger.Warn("insert failed, row skipped",
				zap.String("table", w.options.TableName),
				zap.Int("row", row),
				zap.Error(err))
			rowErrs = append(rowErrs, rowErr)
			continue
		}

		if w.options.RowErrorMode == RowErrorContinue {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+rowSavepoint); err != nil {
				tx.Rollback()
				w.stats.RecordsFailed += int64(len(w.recordBuf))
				return &PostgresWriterError{Op: "release_savepoint", Row: row, Err: err}
			}
		}

		if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected == 0 {
			w.stats.ConflictCount++
		}
		for j, v := range values {
			if v == nil {
				w.stats.NullValueCounts[w.columns[j]]++
			}
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		w.stats.RecordsFailed += inserted
		return &PostgresWriterError{Op: "commit", Err: err}
	}

	w.stats.RecordsWritten += inserted
	w.stats.TransactionCount++
	w.stats.BatchesWritten++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)

	return errors.Join(rowErrs...)
}

// rowValues extracts the column values of a record in column order.
func (w *PostgresWriter) rowValues(record core.Record) ([]interface{}, error) {
	values := make([]interface{}, len(w.columns))
	for i, col := range w.columns {
		v, err := convertValue(record[w.fieldFor(col)])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		values[i] = v
	}
	return values, nil
}

// inferSQLType infers PostgreSQL column type from Go value.
func inferSQLType(value interface{}) string {
	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMP"
	case []byte:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

// convertValue converts Go values to PostgreSQL-compatible types. Lists become JSON text.
func convertValue(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string, []byte:
		return v, nil
	case []string:
		s, err := EncodeJSONList(v)
		if err != nil {
			return nil, err
		}
		return s, nil
	case []interface{}:
		items := make([]string, len(v))
		for i, item := range v {
			switch item.(type) {
			case string, bool, int, int32, int64, float32, float64:
				items[i] = fmt.Sprintf("%v", item)
			default:
				return nil, fmt.Errorf("list item %d has unsupported type %T", i, item)
			}
		}
		s, err := EncodeJSONList(items)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint()), nil
		case reflect.Float32:
			return rv.Float(), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	}
}
