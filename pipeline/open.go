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
	"fmt"

	"github.com/aaronlmathis/enrichetl/config"
	"github.com/aaronlmathis/enrichetl/core"
	"github.com/aaronlmathis/enrichetl/model"
	"github.com/aaronlmathis/enrichetl/storage"
	"github.com/aaronlmathis/enrichetl/writers"
	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"
)

// OpenStore creates the object store selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case "", "s3":
		opts := []storage.StoreOptionS3{
			storage.WithS3Region(cfg.Region),
			storage.WithS3Profile(cfg.Profile),
			storage.WithS3Endpoint(cfg.Endpoint),
			storage.WithS3PathStyle(cfg.PathStyle),
			storage.WithS3PartSize(cfg.PartSize),
			storage.WithS3Logger(logger),
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			opts = append(opts, storage.WithS3Credentials(aws.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				SessionToken:    cfg.SessionToken,
				Source:          "enrichetl",
			}))
		}
		s3Store, err := storage.NewS3Store(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	case "gcs":
		gcsStore, err := storage.NewGCSStore(ctx,
			storage.WithGCSCredentialsFile(cfg.GCSCredentialsFile),
			storage.WithGCSEndpoint(cfg.GCSEndpoint),
			storage.WithGCSLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return gcsStore, nil
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// PersistSink is a DataSink whose flush honors a context.
type PersistSink interface {
	core.DataSink
	FlushContext(ctx context.Context) error
}

// PersistOpener connects to the persist backend. It is called once per run.
type PersistOpener func(ctx context.Context) (PersistSink, error)

// PostgresOpener connects a PostgresWriter for the configured table.
func PostgresOpener(cfg *config.Config, logger *zap.Logger) (PersistOpener, error) {
	mode, err := writers.ParseRowErrorMode(cfg.Persist.OnRowError)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (PersistSink, error) {
		dsn := cfg.DB.PostgresDSN()
		logger.Debug("connecting to postgres", zap.String("dsn", config.RedactDSN(dsn)))
		w, err := writers.NewPostgresWriter(ctx,
			writers.WithPostgresDSN(dsn),
			writers.WithTableName(cfg.Persist.Table),
			writers.WithColumns(cfg.Persist.Columns),
			writers.WithColumnFields(model.ColumnFields(cfg.Persist.Columns)),
			writers.WithRowErrorMode(mode),
			writers.WithPostgresQueryTimeout(cfg.Persist.QueryTimeout),
			writers.WithPostgresLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return w, nil
	}, nil
}

// MongoOpener connects a MongoWriter for the configured collection. Documents use the
// persist columns as keys.
func MongoOpener(cfg *config.Config, logger *zap.Logger) PersistOpener {
	return func(ctx context.Context) (PersistSink, error) {
		logger.Debug("connecting to mongo", zap.String("uri", config.RedactDSN(cfg.Mongo.URI)))
		w, err := writers.NewMongoWriter(ctx,
			writers.WithMongoURI(cfg.Mongo.URI),
			writers.WithMongoDB(cfg.Mongo.Database),
			writers.WithMongoCollection(cfg.Mongo.Collection),
			writers.WithMongoFields(cfg.Persist.Columns, model.ColumnFields(cfg.Persist.Columns)),
			writers.WithMongoAuth(cfg.Mongo.Username, cfg.Mongo.Password, cfg.Mongo.AuthDatabase),
			writers.WithMongoTLS(cfg.Mongo.TLS),
			writers.WithMongoTimeout(cfg.Mongo.Timeout),
			writers.WithMongoLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// OpenPersist returns the opener for cfg.Persist.Backend, or nil when persisting is disabled.
func OpenPersist(cfg *config.Config, logger *zap.Logger) (PersistOpener, error) {
	switch cfg.Persist.Backend {
	case "", "postgres":
		return PostgresOpener(cfg, logger)
	case "mongo":
		return MongoOpener(cfg, logger), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown persist backend %q", cfg.Persist.Backend)
	}
}

// persistCounts reports committed and rejected rows for the writers this package opens.
func persistCounts(sink PersistSink) (written, failed int64) {
	switch s := sink.(type) {
	case *writers.PostgresWriter:
		st := s.Stats()
		return st.RecordsWritten, st.RecordsFailed
	case *writers.MongoWriter:
		st := s.Stats()
		return st.RecordsWritten, st.RecordsFailed
	}
	return 0, 0
}
