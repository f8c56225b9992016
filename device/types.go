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

// Package device holds the GPU-facing primitives of the reduction engine:
// the supported tensor element types, the recycled-event pool, the
// per-device stream registry, and the device-collective transport contract
// that a real CUDA/NCCL binding (or, in this repo, FakeCollective) must
// satisfy.
package device

import "fmt"

// CPUDeviceID is the sentinel device id denoting host placement.
const CPUDeviceID = -1

// DataType enumerates the tensor element types the engine understands.
type DataType int

const (
	Int32 DataType = iota
	Int64
	Float16
	Float32
	Float64
	// Int8 is recognized but never reported as supported by GetTypeSize —
	// it exists so ErrUnsupportedType has a concrete dtype to name.
	Int8
)

func (d DataType) String() string {
	switch d {
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	case Float16:
		return "FLOAT16"
	case Float32:
		return "FLOAT32"
	case Float64:
		return "FLOAT64"
	case Int8:
		return "INT8"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(d))
	}
}

// GetTypeSize returns the byte width of dtype, and false if dtype is not
// one of the five supported element types. Int8 is a recognized DataType
// but is deliberately excluded here: the engine has no INT8 reduction
// path, so it is always reported unsupported.
func GetTypeSize(dtype DataType) (int, bool) {
	switch dtype {
	case Int32, Float32:
		return 4, true
	case Int64, Float64:
		return 8, true
	case Float16:
		return 2, true
	default:
		return 0, false
	}
}

// Op identifies a reduction operator. Only Sum is exercised by the
// hierarchical/flat strategies today, but the device-collective contract
// is op-parameterized to match real NCCL/MPI primitives.
type Op int

const (
	OpSum Op = iota
)

// CollectiveError is a fatal exception carrying the failing operation
// name and the provider's error string, per spec §7 CollectiveRuntimeError.
type CollectiveError struct {
	Op      string
	Message string
}

func (e *CollectiveError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// NewCollectiveError builds a CollectiveError from a failed provider op.
func NewCollectiveError(op string, err error) *CollectiveError {
	return &CollectiveError{Op: op, Message: err.Error()}
}
