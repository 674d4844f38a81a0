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
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/aaronlmathis/enrichetl/core"
)

// MongoWriterError provides structured error information for MongoDB writer operations
type MongoWriterError struct {
	Op         string // Operation that failed (e.g., "connect", "insert_many")
	Collection string
	Err        error
}

func (e *MongoWriterError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo writer %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo writer %s: %v", e.Op, e.Err)
}

func (e *MongoWriterError) Unwrap() error {
	return e.Err
}

// MongoWriterStats holds statistics about the MongoDB writer.
type MongoWriterStats struct {
	RecordsWritten  int64
	RecordsFailed   int64
	BatchesWritten  int64
	WriteDuration   time.Duration
	NullValueCounts map[string]int64
}

// MongoWriterOptions configures the MongoDB writer
type MongoWriterOptions struct {
	URI          string
	Database     string
	Collection   string
	Fields       []string          // Document keys to write, in order
	FieldSources map[string]string // Document key to record field; unmapped keys read the field of the same name
	Timeout      time.Duration     // Connect timeout
	Username     string
	Password     string
	AuthDatabase string
	TLS          bool
	Logger       *zap.Logger
}

// WriterOptionMongo is a functional option for MongoWriterOptions
type WriterOptionMongo func(*MongoWriterOptions)

func WithMongoURI(uri string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) { opts.URI = uri }
}

func WithMongoDB(database string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) { opts.Database = database }
}

func WithMongoCollection(collection string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) { opts.Collection = collection }
}

// WithMongoFields sets the document keys and the record field each one is read from.
func WithMongoFields(fields []string, sources map[string]string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.Fields = append([]string(nil), fields...)
		opts.FieldSources = make(map[string]string, len(sources))
		for k, v := range sources {
			opts.FieldSources[k] = v
		}
	}
}

func WithMongoTimeout(timeout time.Duration) WriterOptionMongo {
	return func(opts *MongoWriterOptions) { opts.Timeout = timeout }
}

func WithMongoAuth(username, password, authDB string) WriterOptionMongo {
	return func(opts *MongoWriterOptions) {
		opts.Username = username
		opts.Password = password
		opts.AuthDatabase = authDB
	}
}

func WithMongoTLS(enabled bool) WriterOptionMongo {
	return func(opts *MongoWriterOptions) { opts.TLS = enabled }
}

func WithMongoLogger(logger *zap.Logger) WriterOptionMongo {
	return func(opts *MongoWriterOptions) { opts.Logger = logger }
}

// InsertManyAPI is the part of *mongo.Collection the writer uses.
type InsertManyAPI interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// MongoWriter implements core.DataSink for a MongoDB collection.
// Buffered records are inserted with one unordered InsertMany per flush.
type MongoWriter struct {
	client     *mongo.Client
	collection InsertManyAPI
	opts       MongoWriterOptions
	recordBuf  []core.Record
	stats      MongoWriterStats
	logger     *zap.Logger
	closed     bool
	mu         sync.Mutex
}

// NewMongoWriter connects to MongoDB and verifies the connection with a ping.
func NewMongoWriter(ctx context.Context, options ...WriterOptionMongo) (*MongoWriter, error) {
	opts := buildMongoOptions(options)
	if opts.Database == "" {
		return nil, &MongoWriterError{Op: "validate", Err: fmt.Errorf("database name is required")}
	}
	if opts.Collection == "" {
		return nil, &MongoWriterError{Op: "validate", Err: fmt.Errorf("collection name is required")}
	}

	client, err := mongo.Connect(ctx, opts.clientOptions())
	if err != nil {
		return nil, &MongoWriterError{Op: "connect", Collection: opts.Collection, Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, &MongoWriterError{Op: "ping", Collection: opts.Collection, Err: err}
	}

	w := newMongoWriter(client.Database(opts.Database).Collection(opts.Collection), opts)
	w.client = client
	return w, nil
}

// NewMongoWriterFromCollection writes to an existing collection handle.
func NewMongoWriterFromCollection(collection InsertManyAPI, options ...WriterOptionMongo) *MongoWriter {
	return newMongoWriter(collection, buildMongoOptions(options))
}

func buildMongoOptions(options []WriterOptionMongo) MongoWriterOptions {
	opts := MongoWriterOptions{
		URI:     "mongodb://localhost:27017",
		Timeout: 30 * time.Second,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

func newMongoWriter(collection InsertManyAPI, opts MongoWriterOptions) *MongoWriter {
	return &MongoWriter{
		collection: collection,
		opts:       opts,
		logger:     opts.Logger,
		stats:      MongoWriterStats{NullValueCounts: make(map[string]int64)},
	}
}

func (o MongoWriterOptions) clientOptions() *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(o.URI)
	if o.Timeout > 0 {
		clientOpts.SetConnectTimeout(o.Timeout)
	}
	if o.Username != "" && o.Password != "" {
		auth := options.Credential{
			Username:   o.Username,
			Password:   o.Password,
			AuthSource: o.AuthDatabase,
		}
		if auth.AuthSource == "" {
			auth.AuthSource = o.Database
		}
		clientOpts.SetAuth(auth)
	}
	if o.TLS {
		clientOpts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return clientOpts
}

// Write implements the core.DataSink interface.
func (w *MongoWriter) Write(ctx context.Context, record core.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &MongoWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	w.recordBuf = append(w.recordBuf, record)
	return nil
}

// Flush implements the core.DataSink interface.
func (w *MongoWriter) Flush() error {
	return w.FlushContext(context.Background())
}

// FlushContext inserts all buffered records. Documents that fail are reported in the
// returned error; the others are still written.
func (w *MongoWriter) FlushContext(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.recordBuf) == 0 {
		return nil
	}
	defer func() { w.recordBuf = w.recordBuf[:0] }()

	start := time.Now()
	docs := make([]interface{}, len(w.recordBuf))
	for i, record := range w.recordBuf {
		docs[i] = w.document(record)
	}

	_, err := w.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	w.stats.WriteDuration += time.Since(start)
	w.stats.BatchesWritten++

	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) && bulkErr.WriteConcernError == nil && len(bulkErr.WriteErrors) > 0 {
			failed := int64(len(bulkErr.WriteErrors))
			w.stats.RecordsFailed += failed
			w.stats.RecordsWritten += int64(len(docs)) - failed
			for _, we := range bulkErr.WriteErrors {
				w.logger.Warn("insert failed, document skipped",
					zap.String("collection", w.opts.Collection),
					zap.Int("row", we.Index+1),
					zap.String("error", we.Message))
			}
		} else {
			w.stats.RecordsFailed += int64(len(docs))
		}
		return &MongoWriterError{Op: "insert_many", Collection: w.opts.Collection, Err: err}
	}

	w.stats.RecordsWritten += int64(len(docs))
	return nil
}

// document converts a record to an ordered BSON document. Lists stay native arrays.
func (w *MongoWriter) document(record core.Record) bson.D {
	keys := w.opts.Fields
	if len(keys) == 0 {
		keys = sortedKeys(record)
	}

	doc := make(bson.D, 0, len(keys))
	for _, key := range keys {
		field := key
		if src, ok := w.opts.FieldSources[key]; ok {
			field = src
		}
		value := record[field]
		if value == nil {
			w.stats.NullValueCounts[key]++
		}
		doc = append(doc, bson.E{Key: key, Value: value})
	}
	return doc
}

// Close flushes and disconnects the client if the writer created it.
func (w *MongoWriter) Close() error {
	flushErr := w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return flushErr
	}
	w.closed = true

	if w.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.client.Disconnect(ctx); err != nil {
			return errors.Join(flushErr, &MongoWriterError{Op: "disconnect", Err: err})
		}
	}
	return flushErr
}

// Stats returns MongoDB writer statistics
func (w *MongoWriter) Stats() MongoWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	statsCopy := w.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(w.stats.NullValueCounts))
	for k, v := range w.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}
