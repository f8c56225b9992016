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

package pipeline

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"go.corp.nvidia.com/gocol/commcache"
	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/transport/localtransport"
)

func int32Buffer(values ...int32) device.Buffer {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return device.Buffer{Data: data}
}

func readInt32(buf device.Buffer, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf.Data[i*4:]))
	}
	return out
}

func TestJobLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	newEvent, newStream := device.NewFakeRuntime()
	eventPool := device.NewEventPool(newEvent)
	streams := device.NewStreamRegistry(newStream)
	collective := device.NewFakeCollective(device.NewFakeWorld())
	ht := localtransport.New()
	cache := commcache.New()
	executor := NewExecutor(ctx, 2, 4)
	defer executor.Close(context.Background())

	entryAOut := int32Buffer(0)
	entryBOut := int32Buffer(0, 0)
	batch := Batch{Entries: []TensorEntry{
		{Name: "a", Input: int32Buffer(5), Output: entryAOut, Count: 1, DataType: device.Int32, DeviceID: 0},
		{Name: "b", Input: int32Buffer(1, 2), Output: entryBOut, Count: 2, DataType: device.Int32, DeviceID: 0},
	}}

	var wg sync.WaitGroup
	wg.Add(len(batch.Entries))
	statuses := make([]Status, len(batch.Entries))
	for i := range batch.Entries {
		i := i
		batch.Entries[i].Callback = func(s Status) {
			statuses[i] = s
			wg.Done()
		}
	}

	job := NewJob(batch, nil)
	key := commcache.NewKey([]int{0})
	params := commcache.BuildParams{RankInGroup: 0, GroupSize: 1}

	if err := job.Initialize(ctx, streams, eventPool, cache, key, params, collective, ht, batch.NumElements()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if job.State() != Initialized {
		t.Fatalf("expected state %s, got %s", Initialized, job.State())
	}

	fusion := job.FusionBuffer()
	for i, e := range batch.Entries {
		offset := batch.Offsets()[i]
		dst := fusion.Slice(offset*4, e.Count*4)
		if err := collective.MemcpyAsync(dst, e.Input, job.Stream()); err != nil {
			t.Fatalf("MemcpyIn entry %d: %v", i, err)
		}
	}

	if err := collective.Allreduce(fusion, fusion, batch.NumElements(), device.Int32, device.OpSum, job.Comm(), job.Stream()); err != nil {
		t.Fatalf("Allreduce: %v", err)
	}
	if err := job.MarkEnqueued(); err != nil {
		t.Fatalf("MarkEnqueued: %v", err)
	}

	for i, e := range batch.Entries {
		offset := batch.Offsets()[i]
		src := fusion.Slice(offset*4, e.Count*4)
		if err := collective.MemcpyAsync(e.Output, src, job.Stream()); err != nil {
			t.Fatalf("MemcpyOut entry %d: %v", i, err)
		}
	}

	if err := job.Finalize(ctx, eventPool, executor); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if job.State() != Finalizing {
		t.Fatalf("expected state %s immediately after Finalize, got %s", Finalizing, job.State())
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}

	if job.State() != Done {
		t.Fatalf("expected state %s after finalizer, got %s", Done, job.State())
	}
	for i, s := range statuses {
		if !s.OK {
			t.Fatalf("entry %d: expected OK status, got %+v", i, s)
		}
	}
	if got := readInt32(entryAOut, 1); got[0] != 5 {
		t.Fatalf("entry a: expected [5], got %v", got)
	}
	if got := readInt32(entryBOut, 2); got[0] != 1 || got[1] != 2 {
		t.Fatalf("entry b: expected [1 2], got %v", got)
	}
	if eventPool.Outstanding() != 0 {
		t.Fatalf("expected all events released after finalize, outstanding=%d", eventPool.Outstanding())
	}
}

func TestJobRejectsOutOfOrderTransitions(t *testing.T) {
	batch := Batch{Entries: []TensorEntry{{Count: 1, DataType: device.Int32, DeviceID: 0}}}
	job := NewJob(batch, nil)

	if err := job.MarkEnqueued(); err == nil {
		t.Fatal("expected error marking enqueued before initialize")
	}

	newEvent, newStream := device.NewFakeRuntime()
	eventPool := device.NewEventPool(newEvent)
	streams := device.NewStreamRegistry(newStream)
	collective := device.NewFakeCollective(device.NewFakeWorld())
	ht := localtransport.New()
	cache := commcache.New()
	ctx := context.Background()

	if err := job.Initialize(ctx, streams, eventPool, cache, commcache.NewKey([]int{0}),
		commcache.BuildParams{RankInGroup: 0, GroupSize: 1}, collective, ht, 1); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := job.Initialize(ctx, streams, eventPool, cache, commcache.NewKey([]int{0}),
		commcache.BuildParams{RankInGroup: 0, GroupSize: 1}, collective, ht, 1); err == nil {
		t.Fatal("expected error re-initializing an already-initialized job")
	}

	executor := NewExecutor(ctx, 1, 1)
	defer executor.Close(context.Background())
	if err := job.Finalize(ctx, eventPool, executor); err == nil {
		t.Fatal("expected error finalizing a job that was never enqueued")
	}
}

func TestFreeHostBufferIsIdempotent(t *testing.T) {
	batch := Batch{Entries: []TensorEntry{{Count: 1, DataType: device.Int32, DeviceID: 0}}}
	job := NewJob(batch, nil)
	job.AllocateHostBuffer(16)
	job.FreeHostBuffer()
	job.FreeHostBuffer() // must not panic
	if job.HostBuffer() != nil {
		t.Fatal("expected host buffer to be nil after free")
	}
}
