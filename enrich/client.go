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

package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aaronlmathis/enrichetl/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EnrichError provides structured error information for enrichment lookups.
type EnrichError struct {
	Op         string // "create_request", "rate_limit", "request", "status_check", "read_response", "decode", "missing_field", "record"
	StatusCode int    // HTTP status code if applicable
	URL        string
	Row        int // 1-based input row, 0 when not known
	Err        error
}

func (e *EnrichError) Error() string {
	prefix := "enrich " + e.Op
	if e.Row > 0 {
		prefix = fmt.Sprintf("%s (row %d)", prefix, e.Row)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s [%d] %s: %v", prefix, e.StatusCode, e.URL, e.Err)
	}
	if e.URL != "" {
		return fmt.Sprintf("%s %s: %v", prefix, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *EnrichError) Unwrap() error {
	return e.Err
}

// ClientStats holds statistics about the lookup client.
type ClientStats struct {
	RequestCount  int64
	FailedCount   int64
	BytesRead     int64
	RequestTime   time.Duration
	LastRequestAt time.Time
}

// ClientOptions configures the lookup client.
type ClientOptions struct {
	Timeout         time.Duration // 0 waits indefinitely
	RateLimit       float64       // requests per second, 0 = unpaced
	UserAgent       string
	MaxResponseSize int64
	HTTPClient      *http.Client
	Logger          *zap.Logger
}

// ClientOption is a functional option for ClientOptions.
type ClientOption func(*ClientOptions)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *ClientOptions) { o.Timeout = timeout }
}

// WithRateLimit paces requests to at most rps per second.
func WithRateLimit(rps float64) ClientOption {
	return func(o *ClientOptions) { o.RateLimit = rps }
}

func WithUserAgent(ua string) ClientOption {
	return func(o *ClientOptions) { o.UserAgent = ua }
}

func WithMaxResponseSize(n int64) ClientOption {
	return func(o *ClientOptions) { o.MaxResponseSize = n }
}

// WithHTTPClient replaces the underlying client. WithTimeout is ignored when set.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *ClientOptions) { o.HTTPClient = client }
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(o *ClientOptions) { o.Logger = logger }
}

// Client fetches one API document per lookup. It never retries.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	opts    ClientOptions
	logger  *zap.Logger

	mu    sync.Mutex
	stats ClientStats
}

// NewClient creates a lookup client with default or overridden options.
func NewClient(options ...ClientOption) *Client {
	opts := ClientOptions{
		UserAgent:       "EnrichETL/1.0",
		MaxResponseSize: 10 * 1024 * 1024,
	}
	for _, opt := range options {
		opt(&opts)
	}

	c := &Client{opts: opts, logger: opts.Logger}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	c.http = opts.HTTPClient
	if c.http == nil {
		c.http = &http.Client{Timeout: opts.Timeout}
	}

	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// Lookup issues a GET against url and decodes the response document.
// Any status outside 2xx is an error.
func (c *Client) Lookup(ctx context.Context, url string) (*model.APIResponse, error) {
	data, err := c.fetch(ctx, url)
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	resp, err := model.DecodeAPIResponse(data)
	if err != nil {
		c.recordFailure()
		var missing *model.MissingFieldError
		if errors.As(err, &missing) {
			return nil, &EnrichError{Op: "missing_field", URL: url, Err: err}
		}
		return nil, &EnrichError{Op: "decode", URL: url, Err: err}
	}
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &EnrichError{Op: "rate_limit", URL: url, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &EnrichError{Op: "create_request", URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	c.recordRequest(elapsed)
	if err != nil {
		return nil, &EnrichError{Op: "request", URL: url, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("lookup",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &EnrichError{
			Op:         "status_check",
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxResponseSize))
	if err != nil {
		return nil, &EnrichError{Op: "read_response", URL: url, Err: err}
	}

	c.mu.Lock()
	c.stats.BytesRead += int64(len(data))
	c.mu.Unlock()
	return data, nil
}

func (c *Client) recordRequest(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RequestCount++
	c.stats.RequestTime += elapsed
	c.stats.LastRequestAt = time.Now()
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.stats.FailedCount++
	c.mu.Unlock()
}

// Stats returns a snapshot of the client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
