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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3StoreOptions configures the S3 store.
type S3StoreOptions struct {
	Region         string          // AWS region
	Profile        string          // AWS shared config profile
	Credentials    aws.Credentials // Explicit credentials (optional)
	EndpointURL    string          // Custom S3 endpoint (for S3-compatible services)
	ForcePathStyle bool            // Use path-style addressing
	PartSize       int64           // Multipart upload part size (0 = SDK default)
	Client         *s3.Client      // Pre-built client, skips config loading
	Logger         *zap.Logger
}

// StoreOptionS3 represents a configuration function for S3Store.
type StoreOptionS3 func(*S3StoreOptions)

func WithS3Region(region string) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.Region = region
	}
}

func WithS3Profile(profile string) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.Profile = profile
	}
}

func WithS3Credentials(creds aws.Credentials) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.Credentials = creds
	}
}

func WithS3Endpoint(endpoint string) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.EndpointURL = endpoint
	}
}

func WithS3PathStyle(pathStyle bool) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.ForcePathStyle = pathStyle
	}
}

func WithS3PartSize(size int64) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.PartSize = size
	}
}

func WithS3Client(client *s3.Client) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.Client = client
	}
}

func WithS3Logger(logger *zap.Logger) StoreOptionS3 {
	return func(opts *S3StoreOptions) {
		opts.Logger = logger
	}
}

// S3Store implements ObjectStore for Amazon S3.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	opts     S3StoreOptions
	logger   *zap.Logger
	stats    statsCounter
}

// NewS3Store creates an S3 store with the specified options.
func NewS3Store(ctx context.Context, options ...StoreOptionS3) (*S3Store, error) {
	opts := S3StoreOptions{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	client := opts.Client
	if client == nil {
		cfg, err := createAWSConfig(ctx, opts)
		if err != nil {
			return nil, &StorageAccessError{Op: "create_aws_config", Err: err}
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.EndpointURL != "" {
				o.BaseEndpoint = aws.String(opts.EndpointURL)
			}
			o.UsePathStyle = opts.ForcePathStyle
		})
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if opts.PartSize > 0 {
			u.PartSize = opts.PartSize
		}
	})

	return &S3Store{
		client:   client,
		uploader: uploader,
		opts:     opts,
		logger:   opts.Logger,
	}, nil
}

// createAWSConfig creates AWS configuration from options
func createAWSConfig(ctx context.Context, opts S3StoreOptions) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}

	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Override with explicit credentials if provided
	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}

	return cfg, nil
}

// Get implements ObjectStore.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		var noSuchBucket *s3types.NoSuchBucket
		if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
			err = fmt.Errorf("%w: %v", ErrObjectNotFound, err)
		}
		return nil, &StorageAccessError{Op: "get", Bucket: bucket, Key: key, Err: err}
	}

	s.stats.objectsRead.Add(1)
	s.logger.Debug("opened s3 object",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("content_length", aws.ToInt64(result.ContentLength)))

	return &countingReader{rc: result.Body, counter: &s.stats.bytesRead}, nil
}

// Put implements ObjectStore.
func (s *S3Store) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	counted := &countingBody{r: body}
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   counted,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return &StorageAccessError{Op: "put", Bucket: bucket, Key: key, Err: err}
	}

	s.stats.objectsWritten.Add(1)
	s.stats.bytesWritten.Add(counted.n)
	s.logger.Debug("uploaded s3 object",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("location", out.Location))
	return nil
}

// Close implements ObjectStore.
func (s *S3Store) Close() error {
	return nil
}

// Stats returns store statistics.
func (s *S3Store) Stats() Stats {
	return s.stats.snapshot()
}

// countingBody counts bytes handed to the uploader.
type countingBody struct {
	r io.Reader
	n int64
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
