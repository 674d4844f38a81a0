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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so no stray .env or config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "apprentice-training-aavash-raw-ml-dev/raw_data.csv", cfg.Source.String())
	assert.Equal(t, "apprentice-training-aavash-cleaned-ml-dev/cleaned_file.csv", cfg.Destination.String())
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "abort", cfg.Enrich.OnError)
	assert.Equal(t, time.Duration(0), cfg.Enrich.Timeout)
	assert.Equal(t, 0.0, cfg.Enrich.RateLimit)
	assert.Equal(t, FilterConfig{MinBaseExperience: 100, MinWeight: 50, MinHeight: 10}, cfg.Filter)
	assert.Equal(t, SinkConfig{Format: "csv", ListFormat: "python"}, cfg.Sink)
	assert.Equal(t, "aavash", cfg.Persist.Table)
	assert.Equal(t, []string{"name", "height", "weight", "base_experience", "abilities", "types"}, cfg.Persist.Columns)
	assert.Equal(t, "continue", cfg.Persist.OnRowError)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Empty(t, cfg.Log.Format)
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "pokedex")
	t.Setenv("DB_USER", "etl")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("ENRICHETL_SOURCE_BUCKET", "raw")
	t.Setenv("ENRICHETL_ENRICH_ON_ERROR", "SKIP")
	t.Setenv("ENRICHETL_ENRICH_TIMEOUT", "5s")
	t.Setenv("ENRICHETL_ENRICH_RATE_LIMIT", "2.5")
	t.Setenv("ENRICHETL_PERSIST_COLUMNS", "name,height")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DBConfig{Host: "db.internal", Port: 5432, Name: "pokedex", User: "etl", Password: "s3cret"}, cfg.DB)
	assert.Equal(t, "raw", cfg.Source.Bucket)
	assert.Equal(t, "skip", cfg.Enrich.OnError)
	assert.Equal(t, 5*time.Second, cfg.Enrich.Timeout)
	assert.Equal(t, 2.5, cfg.Enrich.RateLimit)
	assert.Equal(t, []string{"name", "height"}, cfg.Persist.Columns)
}

func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  bucket: in
  key: pokemon.jsonl
sink:
  format: parquet
  list_format: json
persist:
  backend: mongo
storage:
  backend: memory
enrich:
  columns:
    pokemon: Name
    link: URL
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "in/pokemon.jsonl", cfg.Source.String())
	assert.Equal(t, SinkConfig{Format: "parquet", ListFormat: "json"}, cfg.Sink)
	assert.Equal(t, "mongo", cfg.Persist.Backend)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, map[string]string{"pokemon": "Name", "link": "URL"}, cfg.Enrich.Columns)

	// environment overrides the file
	t.Setenv("ENRICHETL_SINK_FORMAT", "jsonl")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "jsonl", cfg.Sink.Format)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ENRICHETL_DESTINATION_KEY=from-dotenv.csv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ENRICHETL_DESTINATION_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.csv", cfg.Destination.Key)
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)
	_, err := Load("does-not-exist.yaml")
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Enrich.OnError = "retry"
	cfg.Sink.Format = "xlsx"
	cfg.Destination.Key = ""
	cfg.Enrich.RateLimit = -1

	err = cfg.Validate()
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Problems, 4)
	assert.Contains(t, err.Error(), "enrich.on_error")
	assert.Contains(t, err.Error(), "destination.key is required")
}

func TestPostgresDSN(t *testing.T) {
	dsn := DBConfig{Host: "db", Port: 5432, Name: "pokedex", User: "etl", Password: "p@ss word", SSLMode: "disable"}.PostgresDSN()
	assert.Equal(t, "postgres://etl:p%40ss%20word@db:5432/pokedex?sslmode=disable", dsn)
	assert.Equal(t, "postgres://***@db:5432/pokedex?sslmode=disable", RedactDSN(dsn))

	assert.Equal(t, "postgres://db/pokedex", DBConfig{Host: "db", Name: "pokedex"}.PostgresDSN())
	assert.Equal(t, "host=db", RedactDSN("host=db"))
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
