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
	"fmt"

	"go.corp.nvidia.com/gocol/device"
)

// ErrUnsupportedType is returned when a batch carries an element type
// device.GetTypeSize does not recognize.
type ErrUnsupportedType struct {
	DataType device.DataType
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("Type %s is not supported in NCCL mode.", e.DataType)
}

// ErrNoStrategy is returned when neither Hierarchical nor Flat reports
// itself enabled for a batch.
type ErrNoStrategy struct {
	BatchName string
}

func (e *ErrNoStrategy) Error() string {
	return fmt.Sprintf("reduce: no allreduce strategy is enabled for batch %q", e.BatchName)
}
