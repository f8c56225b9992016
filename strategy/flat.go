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

package strategy

import (
	"context"

	"go.corp.nvidia.com/gocol/commcache"
	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/pipeline"
	"go.corp.nvidia.com/gocol/transport"
)

// flatEnabled applies whenever the batch targets a GPU (spec §4.7): it is
// the fallback every other strategy is checked ahead of.
func flatEnabled(batch pipeline.Batch, deps Deps) bool {
	return batch.DeviceID() != device.CPUDeviceID
}

// flatInitialize builds the all-worker communicator and runs Initialize's
// shared stages (stream/comm binding, fusion buffer sizing at exactly
// num_elements — flat never pads).
func flatInitialize(ctx context.Context, job *pipeline.Job, deps Deps) error {
	key := commcache.NewKey(deps.Response.DeviceIDs)
	params := commcache.BuildParams{
		RankInGroup: deps.State.Rank,
		GroupSize:   deps.State.Size,
		Scope:       transport.Global,
	}
	return job.Initialize(ctx, deps.Streams, deps.Events, deps.Cache, key, params, deps.Collective, deps.HostTransport, job.Batch().NumElements())
}

// flatDoAllreduce runs the device-native sum-allreduce over the whole
// fusion buffer and records the single "NCCL_ALLREDUCE" stage event
// spec §4.5 calls for.
func flatDoAllreduce(ctx context.Context, job *pipeline.Job, deps Deps) error {
	batch := job.Batch()
	n := batch.NumElements()
	fusion := job.FusionBuffer()

	if err := deps.Collective.Allreduce(fusion, fusion, n, batch.DataType(), device.OpSum, job.Comm(), job.Stream()); err != nil {
		return device.NewCollectiveError("ncclAllReduce", err)
	}
	return job.RecordStage(deps.Events, "NCCL_ALLREDUCE")
}
