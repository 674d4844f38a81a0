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
	"context"
	"encoding/json"
	"log"

	"github.com/aaronlmathis/enrichetl/config"
	"github.com/aaronlmathis/enrichetl/logging"
	"github.com/aaronlmathis/enrichetl/pipeline"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

// runFunc executes one run; the Lambda handler wraps it.
type runFunc func(ctx context.Context) (*pipeline.RunResult, error)

// newHandler returns the Lambda handler. The event payload is accepted and ignored.
func newHandler(run runFunc, logger *zap.Logger) func(ctx context.Context, event json.RawMessage) (pipeline.Response, error) {
	return func(ctx context.Context, event json.RawMessage) (pipeline.Response, error) {
		result, err := run(ctx)
		if err != nil {
			logger.Error("invocation failed", zap.Error(err))
			return pipeline.Response{}, err
		}
		return result.Response, nil
	}
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	// The runner is built once per container and reused across warm invocations.
	runner, err := pipeline.NewRunner(context.Background(), cfg, pipeline.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialize runner", zap.Error(err))
	}
	defer runner.Close()

	lambda.Start(newHandler(runner.Run, logger))
}
