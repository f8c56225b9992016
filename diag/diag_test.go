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

package diag

import (
	"testing"
	"time"

	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/strategy"
)

func TestRecorderLookupHitAndMiss(t *testing.T) {
	r := NewRecorder(4, time.Minute)
	r.Record(Summary{BatchName: "grads", Strategy: strategy.Flat, NumElements: 100, DataType: device.Float32, OK: true})

	got, ok := r.Lookup("grads")
	if !ok {
		t.Fatalf("expected hit for recorded batch")
	}
	if got.NumElements != 100 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("expected miss for unrecorded batch")
	}
}

func TestRecorderEvictsPastCapacity(t *testing.T) {
	r := NewRecorder(2, time.Minute)
	r.Record(Summary{BatchName: "a"})
	r.Record(Summary{BatchName: "b"})
	r.Record(Summary{BatchName: "c"})

	if r.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", r.Len())
	}
	if _, ok := r.Lookup("a"); ok {
		t.Fatalf("expected oldest entry evicted")
	}
}
