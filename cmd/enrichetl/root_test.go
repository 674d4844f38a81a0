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

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aaronlmathis/enrichetl/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation("raw-bucket/data/raw_data.csv")
	require.NoError(t, err)
	assert.Equal(t, config.ObjectLocation{Bucket: "raw-bucket", Key: "data/raw_data.csv"}, loc)

	for _, bad := range []string{"nobucket", "/key", "bucket/"} {
		_, err := parseLocation(bad)
		assert.Error(t, err, bad)
	}
}

func TestRunFlags_Apply(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	flags := &runFlags{source: "in/a.jsonl", onError: "skip", format: "parquet", persist: "none"}
	require.NoError(t, flags.apply(cfg))
	assert.Equal(t, "in/a.jsonl", cfg.Source.String())
	assert.Equal(t, "skip", cfg.Enrich.OnError)
	assert.Equal(t, "parquet", cfg.Sink.Format)
	assert.Equal(t, "none", cfg.Persist.Backend)

	assert.Equal(t, "console", cfg.Log.Format)

	bad := &runFlags{onError: "retry"}
	assert.Error(t, bad.apply(cfg))
}

func TestRunFlags_LogFormat(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, (&runFlags{}).apply(cfg))
	assert.Equal(t, "json", cfg.Log.Format)

	t.Setenv("ENRICHETL_LOG_FORMAT", "JSON")
	cfg, err = config.Load("")
	require.NoError(t, err)
	require.NoError(t, (&runFlags{}).apply(cfg))
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, (&runFlags{logFormat: "console"}).apply(cfg))
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestConfigCommand_RedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DB_PASSWORD", "hunter2")
	path := filepath.Join(dir, "enrichetl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  secret_access_key: abc\n"), 0o600))

	var out bytes.Buffer
	cmd := rootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", path})
	require.NoError(t, cmd.Execute())

	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), "abc")

	var cfg config.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, "***", cfg.DB.Password)
	assert.Equal(t, "aavash", cfg.Persist.Table)
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
