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
	"fmt"

	"go.corp.nvidia.com/gocol/device"
)

// Status is delivered to a TensorEntry's Callback exactly once, when the
// job that carried it reaches DONE or FAILED.
type Status struct {
	OK  bool
	Err error
}

// OKStatus is the status every happy-path callback receives.
var OKStatus = Status{OK: true}

// FailedStatus wraps err as a non-OK Status.
func FailedStatus(err error) Status {
	return Status{OK: false, Err: err}
}

// TensorEntry is an externally owned reduction request. The engine never
// copies or owns Input/Output memory; the caller must keep both valid
// until Callback fires.
type TensorEntry struct {
	Name     string
	Input    device.Buffer
	Output   device.Buffer
	Count    int
	DataType device.DataType
	DeviceID int
	Callback func(Status)
}

// Batch is an ordered, non-empty sequence of entries sharing one element
// type and device id. Fusion-buffer layout follows Entries' order with
// element-sized alignment.
type Batch struct {
	Entries []TensorEntry
}

// Validate checks the non-empty, shared-type/device invariant batches
// must hold (spec §3).
func (b Batch) Validate() error {
	if len(b.Entries) == 0 {
		return fmt.Errorf("batch must contain at least one entry")
	}
	dtype := b.Entries[0].DataType
	deviceID := b.Entries[0].DeviceID
	for i, e := range b.Entries[1:] {
		if e.DataType != dtype {
			return fmt.Errorf("entry %d: dtype %s does not match batch dtype %s", i+1, e.DataType, dtype)
		}
		if e.DeviceID != deviceID {
			return fmt.Errorf("entry %d: device %d does not match batch device %d", i+1, e.DeviceID, deviceID)
		}
	}
	return nil
}

// DataType returns the element type shared by every entry.
func (b Batch) DataType() device.DataType { return b.Entries[0].DataType }

// DeviceID returns the device id shared by every entry.
func (b Batch) DeviceID() int { return b.Entries[0].DeviceID }

// NumElements returns the sum of every entry's element count — the
// fusion buffer's unpadded element width.
func (b Batch) NumElements() int {
	n := 0
	for _, e := range b.Entries {
		n += e.Count
	}
	return n
}

// Offsets returns each entry's element offset into the fusion buffer, in
// batch order.
func (b Batch) Offsets() []int {
	offsets := make([]int, len(b.Entries))
	n := 0
	for i, e := range b.Entries {
		offsets[i] = n
		n += e.Count
	}
	return offsets
}
