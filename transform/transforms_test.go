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

package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/aaronlmathis/enrichetl/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	out, err := Select("Name", "Height", "Missing").Transform(context.Background(),
		core.Record{"Name": "onix", "Height": 88.0, "URL": "http://x"})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"Name": "onix", "Height": 88.0}, out)
}

func TestRename(t *testing.T) {
	out, err := Rename(map[string]string{"name": "Name", "url": "URL"}).Transform(context.Background(),
		core.Record{"name": "onix", "url": "http://x", "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"Name": "onix", "URL": "http://x", "extra": 1}, out)
}

func TestTrimSpace_DoesNotMutateInput(t *testing.T) {
	in := core.Record{"Name": "  onix ", "URL": 7}
	out, err := TrimSpace("Name", "URL").Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "onix", out["Name"])
	assert.Equal(t, 7, out["URL"])
	assert.Equal(t, "  onix ", in["Name"])
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	chain := Chain(Rename(map[string]string{"name": "Name"}), TrimSpace("Name"), Select("Name"))
	out, err := chain.Transform(ctx, core.Record{"name": " geodude ", "url": "x"})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"Name": "geodude"}, out)

	boom := errors.New("boom")
	failing := core.TransformFunc(func(ctx context.Context, r core.Record) (core.Record, error) { return nil, boom })
	_, err = Chain(failing, Select("Name")).Transform(ctx, core.Record{})
	assert.ErrorIs(t, err, boom)
}
