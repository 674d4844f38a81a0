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

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Package config loads run configuration from defaults, an optional config file, a .env
// file and the environment, in increasing order of precedence.

// EnvPrefix prefixes every environment key except the database connection variables.
const EnvPrefix = "ENRICHETL"

// ObjectLocation addresses one object in a bucket.
type ObjectLocation struct {
	Bucket string `mapstructure:"bucket"`
	Key    string `mapstructure:"key"`
}

func (l ObjectLocation) String() string {
	return l.Bucket + "/" + l.Key
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend            string `mapstructure:"backend"` // s3, gcs or memory
	Region             string `mapstructure:"region"`
	Profile            string `mapstructure:"profile"`
	Endpoint           string `mapstructure:"endpoint"`
	PathStyle          bool   `mapstructure:"path_style"`
	AccessKeyID        string `mapstructure:"access_key_id"`
	SecretAccessKey    string `mapstructure:"secret_access_key"`
	SessionToken       string `mapstructure:"session_token"`
	PartSize           int64  `mapstructure:"part_size"`
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file"`
	GCSEndpoint        string `mapstructure:"gcs_endpoint"`
}

// EnrichConfig configures the API lookups.
type EnrichConfig struct {
	OnError   string        `mapstructure:"on_error"` // abort or skip
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 is unpaced
	UserAgent string        `mapstructure:"user_agent"`
	// Columns renames source headers before lookup, e.g. {"pokemon": "Name"}.
	// Keys are lowercase; viper folds map keys.
	Columns map[string]string `mapstructure:"columns"`
}

// FilterConfig holds the threshold predicates.
type FilterConfig struct {
	MinBaseExperience float64 `mapstructure:"min_base_experience"`
	MinWeight         float64 `mapstructure:"min_weight"`
	MinHeight         float64 `mapstructure:"min_height"`
}

// SinkConfig controls how filtered records are serialized.
type SinkConfig struct {
	Format     string `mapstructure:"format"`      // csv, jsonl or parquet
	ListFormat string `mapstructure:"list_format"` // python or json
}

// PersistConfig controls the database load.
type PersistConfig struct {
	Backend      string        `mapstructure:"backend"` // postgres, mongo or none
	Table        string        `mapstructure:"table"`
	Columns      []string      `mapstructure:"columns"`
	OnRowError   string        `mapstructure:"on_row_error"` // continue or abort
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// DBConfig is the relational connection.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MongoConfig is the document store connection.
type MongoConfig struct {
	URI          string        `mapstructure:"uri"`
	Database     string        `mapstructure:"database"`
	Collection   string        `mapstructure:"collection"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	AuthDatabase string        `mapstructure:"auth_database"`
	TLS          bool          `mapstructure:"tls"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Config is the complete run configuration.
type Config struct {
	Source      ObjectLocation `mapstructure:"source"`
	Destination ObjectLocation `mapstructure:"destination"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Enrich      EnrichConfig   `mapstructure:"enrich"`
	Filter      FilterConfig   `mapstructure:"filter"`
	Sink        SinkConfig     `mapstructure:"sink"`
	Persist     PersistConfig  `mapstructure:"persist"`
	DB          DBConfig       `mapstructure:"db"`
	Mongo       MongoConfig    `mapstructure:"mongo"`
	Log         LogConfig      `mapstructure:"log"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
}

var defaults = map[string]interface{}{
	"source.bucket":      "apprentice-training-aavash-raw-ml-dev",
	"source.key":         "raw_data.csv",
	"destination.bucket": "apprentice-training-aavash-cleaned-ml-dev",
	"destination.key":    "cleaned_file.csv",

	"storage.backend":              "s3",
	"storage.region":               "",
	"storage.profile":              "",
	"storage.endpoint":             "",
	"storage.path_style":           false,
	"storage.access_key_id":        "",
	"storage.secret_access_key":    "",
	"storage.session_token":        "",
	"storage.part_size":            0,
	"storage.gcs_credentials_file": "",
	"storage.gcs_endpoint":         "",

	"enrich.on_error":   "abort",
	"enrich.timeout":    "0s",
	"enrich.rate_limit": 0.0,
	"enrich.user_agent": "EnrichETL/1.0",

	"filter.min_base_experience": 100.0,
	"filter.min_weight":          50.0,
	"filter.min_height":          10.0,

	"sink.format":      "csv",
	"sink.list_format": "python",

	"persist.backend":       "postgres",
	"persist.table":         "aavash",
	"persist.columns":       []string{"name", "height", "weight", "base_experience", "abilities", "types"},
	"persist.on_row_error":  "continue",
	"persist.query_timeout": "0s",

	"db.host":     "",
	"db.port":     5432,
	"db.name":     "",
	"db.user":     "",
	"db.password": "",
	"db.sslmode":  "",

	"mongo.uri":           "mongodb://localhost:27017",
	"mongo.database":      "enrichetl",
	"mongo.collection":    "aavash",
	"mongo.username":      "",
	"mongo.password":      "",
	"mongo.auth_database": "",
	"mongo.tls":           false,
	"mongo.timeout":       "30s",

	"log.level":  "info",
	"log.format": "", // unset: json for Lambda, console for the CLI

	"metrics.pushgateway_url": "",
	"metrics.job":             "enrichetl",
}

// Database variables keep the names the deployment already sets.
var unprefixedEnv = map[string]string{
	"db.host":     "DB_HOST",
	"db.port":     "DB_PORT",
	"db.name":     "DB_NAME",
	"db.user":     "DB_USER",
	"db.password": "DB_PASSWORD",
	"db.sslmode":  "DB_SSLMODE",
}

// Load builds the configuration. path names an optional YAML, TOML or JSON file; when
// empty, enrichetl.{yaml,toml,json} in the working directory is used if present.
// A .env file in the working directory is loaded first and never overrides variables
// already set in the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("enrichetl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range unprefixedEnv {
		// The first variable set wins.
		_ = v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	return v
}

func (c *Config) normalize() {
	for _, s := range []*string{
		&c.Storage.Backend,
		&c.Enrich.OnError,
		&c.Sink.Format,
		&c.Sink.ListFormat,
		&c.Persist.Backend,
		&c.Persist.OnRowError,
		&c.Log.Format,
	} {
		*s = strings.ToLower(strings.TrimSpace(*s))
	}
}

// ValidationError lists every invalid setting found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate rejects unknown enum values, empty object locations and negative limits.
func (c *Config) Validate() error {
	var problems []string
	oneOf := func(key, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value))
	}
	required := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, key+" is required")
		}
	}

	required("source.bucket", c.Source.Bucket)
	required("source.key", c.Source.Key)
	required("destination.bucket", c.Destination.Bucket)
	required("destination.key", c.Destination.Key)

	oneOf("storage.backend", c.Storage.Backend, "s3", "gcs", "memory")
	oneOf("enrich.on_error", c.Enrich.OnError, "abort", "skip")
	oneOf("sink.format", c.Sink.Format, "csv", "jsonl", "parquet")
	oneOf("sink.list_format", c.Sink.ListFormat, "python", "json")
	oneOf("persist.backend", c.Persist.Backend, "postgres", "mongo", "none")
	oneOf("persist.on_row_error", c.Persist.OnRowError, "continue", "abort")

	if c.Enrich.Timeout < 0 {
		problems = append(problems, "enrich.timeout must not be negative")
	}
	if c.Enrich.RateLimit < 0 {
		problems = append(problems, "enrich.rate_limit must not be negative")
	}
	if c.Persist.QueryTimeout < 0 {
		problems = append(problems, "persist.query_timeout must not be negative")
	}
	if strings.EqualFold(c.Persist.Backend, "postgres") {
		required("persist.table", c.Persist.Table)
		if len(c.Persist.Columns) == 0 {
			problems = append(problems, "persist.columns must not be empty")
		}
	}
	if strings.EqualFold(c.Persist.Backend, "mongo") {
		required("mongo.database", c.Mongo.Database)
		required("mongo.collection", c.Mongo.Collection)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// PostgresDSN builds a lib/pq connection URL from the DB settings.
func (d DBConfig) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   d.Host,
		Path:   "/" + d.Name,
	}
	if d.Port > 0 {
		u.Host = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String()
}

// RedactDSN hides the credentials of a URL-style DSN.
func RedactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
