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

package reduce

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.corp.nvidia.com/gocol/commcache"
	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/diag"
	"go.corp.nvidia.com/gocol/globalstate"
	"go.corp.nvidia.com/gocol/pipeline"
	"go.corp.nvidia.com/gocol/strategy"
	"go.corp.nvidia.com/gocol/transport/localtransport"
)

func float32Buffer(deviceID int, vals ...float32) device.Buffer {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return device.Buffer{DeviceID: deviceID, Data: data}
}

func readFloat32(b device.Buffer) []float32 {
	out := make([]float32, len(b.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
	}
	return out
}

func singleWorkerEngine(ctx context.Context, t *testing.T, diagRecorder *diag.Recorder) *Engine {
	t.Helper()
	world := device.NewFakeWorld()
	newEvent, newStream := device.NewFakeRuntime()

	deps := EngineDeps{
		Collective:    device.NewFakeCollective(world),
		HostTransport: localtransport.New(),
		Events:        device.NewEventPool(newEvent),
		Streams:       device.NewStreamRegistry(newStream),
		Cache:         commcache.New(),
		Executor:      pipeline.NewExecutor(ctx, 1, 4),
		State: globalstate.State{
			Rank: 0, Size: 1, LocalRank: 0, LocalSize: 1, IsHomogeneous: true,
			LocalCommRanks: []int{0}, NodeRank: 0, NodeCount: 1,
		},
		Response:         strategy.Response{DeviceIDs: []int{0}},
		ParameterManager: strategy.StaticParameterManager(false),
		Diag:             diagRecorder,
	}
	return NewEngine(deps)
}

func TestExecuteSingleWorkerFlatAllreduceIsIdentity(t *testing.T) {
	ctx := context.Background()
	en := singleWorkerEngine(ctx, t, diag.NewRecorder(4, time.Minute))

	input := float32Buffer(0, 1, 2, 3)
	output := float32Buffer(0, 0, 0, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotStatus Status
	batch := Batch{Entries: []TensorEntry{{
		Name:     "grads",
		Input:    input,
		Output:   output,
		Count:    3,
		DataType: device.Float32,
		DeviceID: 0,
		Callback: func(status Status) {
			defer wg.Done()
			gotStatus = status
		},
	}}}

	if err := en.Execute(ctx, batch); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wg.Wait()

	if !gotStatus.OK {
		t.Fatalf("expected OK status, got error: %v", gotStatus.Err)
	}
	got := readFloat32(output)
	want := []float32{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("output[%d] = %v, want %v (single worker allreduce is identity)", i, got[i], want[i])
		}
	}

	summary, ok := en.deps.Diag.Lookup("grads")
	if !ok {
		t.Fatal("expected diag summary recorded for batch")
	}
	if !summary.OK || summary.Strategy != strategy.Flat {
		t.Errorf("unexpected diag summary: %+v", summary)
	}

	if err := en.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestExecuteRejectsUnsupportedDataType exercises spec §8 scenario 6: an
// INT8 batch must be rejected with an UnsupportedType error whose message
// names INT8.
func TestExecuteRejectsUnsupportedDataType(t *testing.T) {
	ctx := context.Background()
	en := singleWorkerEngine(ctx, t, nil)

	batch := Batch{Entries: []TensorEntry{{
		Name:     "bad",
		Input:    device.Buffer{DeviceID: 0, Data: make([]byte, 1)},
		Output:   device.Buffer{DeviceID: 0, Data: make([]byte, 1)},
		Count:    1,
		DataType: device.Int8,
		DeviceID: 0,
	}}}

	err := en.Execute(ctx, batch)
	if err == nil {
		t.Fatal("expected error for unsupported data type")
	}
	var unsupported *ErrUnsupportedType
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedType, got %v (%T)", err, err)
	}
	if !strings.Contains(unsupported.Error(), "INT8") {
		t.Fatalf("expected error message to contain INT8, got %q", unsupported.Error())
	}
}

func TestExecuteRejectsEmptyBatch(t *testing.T) {
	ctx := context.Background()
	en := singleWorkerEngine(ctx, t, nil)

	if err := en.Execute(ctx, Batch{}); err == nil {
		t.Fatal("expected error for empty batch")
	}
}
