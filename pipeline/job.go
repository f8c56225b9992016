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

// Package pipeline implements AsyncReduceJob's state machine: a batch is
// bound to a stream and communicator, its reduction is enqueued, and
// completion is handed to an Executor that drains the resulting event
// queue off the submission thread.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"go.corp.nvidia.com/gocol/commcache"
	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/transport"
)

// State is one of the six AsyncReduceJob lifecycle states (spec §4.8).
type State int

const (
	Created State = iota
	Initialized
	Enqueued
	Finalizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Enqueued:
		return "enqueued"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// eventSlot is one (stage name, event) pair in a job's FIFO event queue.
// An empty name means the slot carries no timeline span — the terminal
// sentinel is always unnamed; untraced stages record no slot at all.
type eventSlot struct {
	name  string
	event device.Event
}

// Job is one AsyncReduceJob: a batch bound to a stream, a communicator,
// and an ordered queue of device events recording its progress.
type Job struct {
	mu sync.Mutex

	batch  Batch
	tracer trace.Tracer

	state  State
	stream device.Stream
	comm   device.Communicator

	fusion     device.Buffer
	hostBuffer []byte
	hostFreed  bool

	events []eventSlot
}

// NewJob constructs a CREATED job for batch. tracer may be nil, in which
// case RecordStage is a no-op and the critical path pays no event cost
// beyond the mandatory terminal sentinel.
func NewJob(batch Batch, tracer trace.Tracer) *Job {
	return &Job{batch: batch, tracer: tracer, state: Created}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Batch returns the entries this job is reducing.
func (j *Job) Batch() Batch { return j.batch }

// FusionBuffer returns the device buffer DoAllreduce operates on. It is
// only valid after Initialize returns successfully.
func (j *Job) FusionBuffer() device.Buffer { return j.fusion }

// Stream returns the stream this job's work is ordered on.
func (j *Job) Stream() device.Stream { return j.stream }

// Comm returns the communicator this job's collectives run over.
func (j *Job) Comm() device.Communicator { return j.comm }

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Initialize binds the job's stream and communicator — building the
// latter via cache on a miss — and allocates a fusion buffer of
// fusionElementCount elements of the batch's dtype (spec §4.4 step 1).
// If tracer is non-nil it immediately records an event for a stage named
// "queue" so the timeline can show stream-enqueue latency.
func (j *Job) Initialize(
	ctx context.Context,
	streams device.StreamProvider,
	events device.EventProvider,
	cache *commcache.Cache,
	key commcache.Key,
	params commcache.BuildParams,
	collective device.Collective,
	ht transport.HostTransport,
	fusionElementCount int,
) error {
	if j.State() != Created {
		return fmt.Errorf("pipeline: Initialize called from state %s, want %s", j.State(), Created)
	}
	if err := j.batch.Validate(); err != nil {
		return err
	}

	deviceID := j.batch.DeviceID()
	stream, err := streams.GetOrCreate(deviceID)
	if err != nil {
		return err
	}

	comm, err := cache.GetOrBuild(ctx, key, params, collective, ht)
	if err != nil {
		return err
	}

	j.stream = stream
	j.comm = comm
	j.fusion = device.Buffer{DeviceID: deviceID, Data: make([]byte, byteWidth(fusionElementCount, j.batch.DataType()))}
	j.events = nil
	j.hostBuffer = nil
	j.hostFreed = false

	if j.tracer != nil {
		if err := j.recordStage(events, "queue"); err != nil {
			return err
		}
	}

	j.setState(Initialized)
	return nil
}

// RecordStage appends a stage-named event to the queue, but only when
// tracing is enabled — the untraced critical path pays no event cost
// beyond the mandatory terminal sentinel (spec §4.4 "RecordEventEnd").
func (j *Job) RecordStage(events device.EventProvider, name string) error {
	if j.tracer == nil {
		return nil
	}
	return j.recordStage(events, name)
}

func (j *Job) recordStage(events device.EventProvider, name string) error {
	if j.stream == nil {
		return fmt.Errorf("pipeline: stream not bound; Initialize must succeed before recording events")
	}
	ev, err := events.Acquire(j.stream.DeviceID())
	if err != nil {
		return err
	}
	if err := ev.Record(j.stream); err != nil {
		return err
	}
	j.mu.Lock()
	j.events = append(j.events, eventSlot{name: name, event: ev})
	j.mu.Unlock()
	return nil
}

// SyncPendingEvents blocks the submission thread until every operation
// enqueued on the job's stream so far has landed on the device. It is
// the hierarchical strategy's mid-job WaitForEvents call (spec §5): the
// only in-submission host sync, needed because the cross-node host
// transport isn't stream-aware. The event used is acquired, recorded,
// waited on, and released immediately — it never joins the job's queue,
// so the finalizer never sees or double-releases it.
func (j *Job) SyncPendingEvents(events device.EventProvider) error {
	if j.stream == nil {
		return fmt.Errorf("pipeline: stream not bound; Initialize must succeed before syncing")
	}
	ev, err := events.Acquire(j.stream.DeviceID())
	if err != nil {
		return err
	}
	if err := ev.Record(j.stream); err != nil {
		return err
	}
	if err := ev.Synchronize(); err != nil {
		return err
	}
	events.Release(ev)
	return nil
}

// MemcpyIn enqueues an async device-to-device copy from each entry's
// input buffer into its offset in the fusion buffer (spec §4.4 step 2).
func (j *Job) MemcpyIn(collective device.Collective) error {
	return j.memcpyFusion(collective, true)
}

// MemcpyOut enqueues an async device-to-device copy from the fusion
// buffer back to each entry's output buffer (spec §4.4 step 4).
func (j *Job) MemcpyOut(collective device.Collective) error {
	return j.memcpyFusion(collective, false)
}

func (j *Job) memcpyFusion(collective device.Collective, in bool) error {
	elemSize, ok := device.GetTypeSize(j.batch.DataType())
	if !ok {
		return fmt.Errorf("pipeline: unsupported dtype %s", j.batch.DataType())
	}
	offsets := j.batch.Offsets()
	for i, e := range j.batch.Entries {
		region := j.fusion.Slice(offsets[i]*elemSize, e.Count*elemSize)
		if in {
			if err := collective.MemcpyAsync(region, e.Input, j.stream); err != nil {
				return err
			}
		} else {
			if err := collective.MemcpyAsync(e.Output, region, j.stream); err != nil {
				return err
			}
		}
	}
	return nil
}

// AllocateHostBuffer records byteCount bytes of host staging memory for
// phase 3's device-to-host/host-to-device round trip. It is freed
// exactly once, in the finalizer, regardless of how many hierarchical
// sub-phases actually ran.
func (j *Job) AllocateHostBuffer(byteCount int) []byte {
	j.hostBuffer = make([]byte, byteCount)
	return j.hostBuffer
}

// HostBuffer returns the buffer allocated by AllocateHostBuffer, or nil.
func (j *Job) HostBuffer() []byte { return j.hostBuffer }

// MarkEnqueued transitions INITIALIZED → ENQUEUED once DoAllreduce has
// issued its last stream operation.
func (j *Job) MarkEnqueued() error {
	if j.State() != Initialized {
		return fmt.Errorf("pipeline: MarkEnqueued called from state %s, want %s", j.State(), Initialized)
	}
	j.setState(Enqueued)
	return nil
}

// Finalize enqueues the mandatory terminal sentinel event and submits the
// job's drain-and-callback work to executor, transitioning ENQUEUED →
// FINALIZING. The sentinel is recorded unconditionally — it is the
// synchronization primitive completion depends on, not a tracing
// convenience.
func (j *Job) Finalize(ctx context.Context, events device.EventProvider, executor *Executor) error {
	if j.State() != Enqueued {
		return fmt.Errorf("pipeline: Finalize called from state %s, want %s", j.State(), Enqueued)
	}
	if err := j.recordStage(events, ""); err != nil {
		return err
	}
	j.setState(Finalizing)
	return executor.Submit(func(ctx context.Context) {
		j.runFinalizer(ctx, events)
	})
}

// FreeHostBuffer releases the job's host staging buffer. It is
// idempotent: only the first call has an effect, closing the
// allocate/free pairing hazard the source's conditional free left open.
func (j *Job) FreeHostBuffer() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.hostFreed {
		return
	}
	j.hostBuffer = nil
	j.hostFreed = true
}

// runFinalizer drains the event queue in FIFO order off the submission
// thread: for each slot, it opens a timeline span named by the slot
// (skipped when unnamed or untraced), synchronously waits on the event,
// closes the span, and releases the event to the pool. It always frees
// the host buffer exactly once, then fires every entry's callback.
func (j *Job) runFinalizer(ctx context.Context, events device.EventProvider) {
	j.mu.Lock()
	slots := j.events
	j.mu.Unlock()

	var failure error
	for _, slot := range slots {
		var span trace.Span
		if j.tracer != nil && slot.name != "" {
			_, span = j.tracer.Start(ctx, slot.name)
		}
		if err := slot.event.Synchronize(); err != nil && failure == nil {
			failure = fmt.Errorf("cudaEventSynchronize failed: %w", err)
		}
		if span != nil {
			span.End()
		}
		events.Release(slot.event)
	}

	j.FreeHostBuffer()

	if failure != nil {
		j.setState(Failed)
		j.fireCallbacks(FailedStatus(failure))
		return
	}
	j.setState(Done)
	j.fireCallbacks(OKStatus)
}

func (j *Job) fireCallbacks(status Status) {
	for _, e := range j.batch.Entries {
		if e.Callback != nil {
			e.Callback(status)
		}
	}
}

func byteWidth(count int, dtype device.DataType) int {
	size, _ := device.GetTypeSize(dtype)
	return count * size
}
