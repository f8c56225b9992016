/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package reduce ties device, commcache, pipeline, and strategy together
// into the engine callers actually talk to: Execute takes a Batch,
// dispatches it to whichever allreduce strategy applies, and returns a
// pre-enqueue error synchronously or delivers a post-enqueue outcome
// through each entry's Callback.
package reduce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"go.corp.nvidia.com/gocol/audit"
	"go.corp.nvidia.com/gocol/commcache"
	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/diag"
	"go.corp.nvidia.com/gocol/globalstate"
	"go.corp.nvidia.com/gocol/metrics"
	"go.corp.nvidia.com/gocol/pipeline"
	"go.corp.nvidia.com/gocol/strategy"
	"go.corp.nvidia.com/gocol/transport"
)

// Type aliases so callers can speak entirely in terms of the reduce
// package without reaching into pipeline or strategy directly.
type (
	TensorEntry = pipeline.TensorEntry
	Batch       = pipeline.Batch
	Status      = pipeline.Status
	Response    = strategy.Response

	ParameterManager       = strategy.ParameterManager
	StaticParameterManager = strategy.StaticParameterManager
)

// OKStatus and FailedStatus re-export pipeline's callback status
// constructors for callers that don't otherwise import pipeline.
var OKStatus = pipeline.OKStatus

// FailedStatus wraps err as a non-OK Status.
func FailedStatus(err error) Status { return pipeline.FailedStatus(err) }

// EngineDeps bundles every collaborator the engine needs. Collective,
// HostTransport, Events, Streams, Cache, Executor, State, Response, and
// ParameterManager are required; Tracer, Logger, Metrics, Diag, and Audit
// are optional observers the engine silently skips when nil.
type EngineDeps struct {
	Collective       device.Collective
	HostTransport    transport.HostTransport
	Events           device.EventProvider
	Streams          device.StreamProvider
	Cache            *commcache.Cache
	Executor         *pipeline.Executor
	State            globalstate.State
	Response         Response
	ParameterManager ParameterManager

	Tracer  trace.Tracer
	Logger  *slog.Logger
	Metrics *metrics.Registry
	Diag    *diag.Recorder
	Audit   *audit.Store
}

// Engine dispatches batches to the allreduce strategy selected for them
// and drives their AsyncReduceJob lifecycle to completion.
type Engine struct {
	deps EngineDeps
}

// NewEngine builds an Engine over deps. The caller owns the lifetime of
// every collaborator in deps; Close only drains the executor.
func NewEngine(deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{deps: deps}
}

func (en *Engine) strategyDeps() strategy.Deps {
	return strategy.Deps{
		Collective:       en.deps.Collective,
		HostTransport:    en.deps.HostTransport,
		Events:           en.deps.Events,
		Streams:          en.deps.Streams,
		Cache:            en.deps.Cache,
		State:            en.deps.State,
		Response:         en.deps.Response,
		ParameterManager: en.deps.ParameterManager,
	}
}

// Execute validates batch, selects and runs a strategy's Initialize and
// DoAllreduce stages, and enqueues the job's finalizer. A non-nil return
// from any step before Finalize means the job was never handed to the
// executor — every entry's Callback is guaranteed NOT to fire in that
// case, matching spec §7's "pre-enqueue error returns immediately to the
// caller". An error from Finalize is returned after the device work has
// already been issued. Once Execute returns nil, every entry's Callback
// fires exactly once, from the executor.
func (en *Engine) Execute(ctx context.Context, batch Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("reduce: invalid batch: %w", err)
	}
	if _, ok := device.GetTypeSize(batch.DataType()); !ok {
		return &ErrUnsupportedType{DataType: batch.DataType()}
	}

	batchName := batch.Entries[0].Name
	logger := en.deps.Logger.With(slog.String("batch", batchName))
	deps := en.strategyDeps()

	kind, ok := strategy.Select(batch, deps)
	if !ok {
		return &ErrNoStrategy{BatchName: batchName}
	}
	logger = logger.With(slog.String("strategy", kind.String()))

	start := time.Now()
	builtBefore := en.deps.Cache.Len()

	job := pipeline.NewJob(batch, en.deps.Tracer)
	if err := strategy.Initialize(ctx, kind, job, deps); err != nil {
		logger.Error("initialize failed", slog.String("error", err.Error()))
		en.observeFailure(ctx, kind, batch, err, time.Since(start))
		return err
	}
	if err := job.MemcpyIn(deps.Collective); err != nil {
		logger.Error("memcpy-in failed", slog.String("error", err.Error()))
		en.observeFailure(ctx, kind, batch, err, time.Since(start))
		return err
	}
	if err := strategy.DoAllreduce(ctx, kind, job, deps); err != nil {
		logger.Error("allreduce failed", slog.String("error", err.Error()))
		en.observeFailure(ctx, kind, batch, err, time.Since(start))
		return err
	}
	if err := job.MemcpyOut(deps.Collective); err != nil {
		logger.Error("memcpy-out failed", slog.String("error", err.Error()))
		en.observeFailure(ctx, kind, batch, err, time.Since(start))
		return err
	}
	if err := job.MarkEnqueued(); err != nil {
		en.observeFailure(ctx, kind, batch, err, time.Since(start))
		return err
	}

	if en.deps.Cache.Len() > builtBefore && en.deps.Metrics != nil {
		en.deps.Metrics.ObserveBuild(kind)
	}
	if en.deps.Cache.Len() > builtBefore && en.deps.Audit != nil {
		label := fmt.Sprintf("%s/rank=%d/local=%d", kind, en.deps.State.Rank, en.deps.State.LocalRank)
		groupSize := deps.State.Size
		if kind == strategy.Hierarchical {
			groupSize = deps.State.LocalSize
		}
		if err := en.deps.Audit.RecordCommunicatorBuild(ctx, label, kind, groupSize); err != nil {
			logger.Warn("recording communicator build failed", slog.String("error", err.Error()))
		}
	}

	en.wrapCallbacks(batch, kind, batchName, start)

	if err := job.Finalize(ctx, en.deps.Events, en.deps.Executor); err != nil {
		logger.Error("finalize failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// wrapCallbacks rewrites each entry's Callback in place so completion also
// records a diag.Summary and an audit.Reduction, before invoking the
// entry's own callback. Batch.Entries is a slice header copy, but the
// backing array is shared with the job already built from batch, so
// mutating entries here is visible to the job's finalizer too.
func (en *Engine) wrapCallbacks(batch Batch, kind strategy.Kind, batchName string, start time.Time) {
	n := batch.NumElements()
	dtype := batch.DataType()
	for i := range batch.Entries {
		original := batch.Entries[i].Callback
		batch.Entries[i].Callback = func(status Status) {
			en.recordOutcome(kind, batchName, n, dtype, status, time.Since(start))
			if original != nil {
				original(status)
			}
		}
	}
}

func (en *Engine) recordOutcome(kind strategy.Kind, batchName string, n int, dtype device.DataType, status Status, duration time.Duration) {
	if en.deps.Diag != nil {
		en.deps.Diag.Record(diag.Summary{
			BatchName:   batchName,
			Strategy:    kind,
			NumElements: n,
			DataType:    dtype,
			OK:          status.OK,
			Err:         status.Err,
			Duration:    duration,
		})
	}
	if en.deps.Metrics != nil {
		en.deps.Metrics.StrategyDuration.WithLabelValues(kind.String()).Observe(duration.Seconds())
		if !status.OK {
			en.deps.Metrics.ObserveFailure(kind)
		}
	}
	if en.deps.Audit != nil {
		if err := en.deps.Audit.RecordReduction(context.Background(), audit.Reduction{
			BatchName:   batchName,
			Strategy:    kind,
			DataType:    dtype,
			NumElements: n,
			OK:          status.OK,
			Err:         status.Err,
			Duration:    duration,
		}); err != nil {
			en.deps.Logger.Warn("recording reduction failed", slog.String("error", err.Error()), slog.String("batch", batchName))
		}
	}
}

// observeFailure records a pre-enqueue failure the same way a
// post-enqueue one would be recorded, so diag/metrics/audit see batches
// that fail between Initialize and MarkEnqueued, not just ones that made
// it onto the device. Batches rejected before a strategy is selected
// (invalid batch, unsupported type, no enabled strategy) and Finalize
// failures are not recorded.
func (en *Engine) observeFailure(ctx context.Context, kind strategy.Kind, batch Batch, err error, duration time.Duration) {
	en.recordOutcome(kind, batch.Entries[0].Name, batch.NumElements(), batch.DataType(), FailedStatus(err), duration)
}

// Close stops accepting new finalize work and waits, bounded by ctx, for
// in-flight jobs to drain.
func (en *Engine) Close(ctx context.Context) error {
	return en.deps.Executor.Close(ctx)
}
