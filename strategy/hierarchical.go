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
	"fmt"

	"go.corp.nvidia.com/gocol/commcache"
	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/globalstate"
	"go.corp.nvidia.com/gocol/pipeline"
	"go.corp.nvidia.com/gocol/transport"
)

// splitPlan is the padding/split arithmetic from spec §4.6, recomputed
// independently by hierarchicalInitialize and hierarchicalDoAllreduce
// rather than stashed on the job: both calls see the same (batch, state)
// pair within one job's lifecycle, so recomputation is cheaper than
// threading extra state through pipeline.Job.
type splitPlan struct {
	E          int // unpadded element count
	EffectiveE int // padded element count (== E when padding doesn't apply)
	Eper       int // elements owned by each local rank's shard
	Erem       int // elements in the tail, reduced solely on root
	Root       int // local rank that owns the tail
}

func planSplit(batch pipeline.Batch, state globalstate.State) splitPlan {
	e := batch.NumElements()
	effective := e

	trueFusion := len(batch.Entries) >= 2
	if state.IsHomogeneous && trueFusion && state.LocalSize > 0 {
		atom := state.LocalSize * FusionAtom
		if rem := e % atom; rem != 0 {
			effective = e + (atom - rem)
		}
	}

	if state.IsHomogeneous {
		return splitPlan{
			E:          e,
			EffectiveE: effective,
			Eper:       effective / state.LocalSize,
			Erem:       effective % state.LocalSize,
			Root:       state.LocalSize - 1,
		}
	}
	return splitPlan{E: e, EffectiveE: effective, Eper: 0, Erem: effective, Root: 0}
}

// hierarchicalEnabled applies when flat also would and the parameter
// manager's toggle is on (spec §4.6/§4.7).
func hierarchicalEnabled(batch pipeline.Batch, deps Deps) bool {
	return flatEnabled(batch, deps) && deps.ParameterManager != nil && deps.ParameterManager.HierarchicalAllreduce()
}

// intraNodeDeviceIDs returns the device ids of this node's intra-node
// peers, in local-rank order, from the coordinator's device tuple.
func intraNodeDeviceIDs(deps Deps) []int {
	ids := make([]int, len(deps.State.LocalCommRanks))
	for i, globalRank := range deps.State.LocalCommRanks {
		ids[i] = deps.Response.DeviceIDs[globalRank]
	}
	return ids
}

// hierarchicalInitialize builds the intra-node communicator and sizes the
// fusion buffer to the padded element count.
func hierarchicalInitialize(ctx context.Context, job *pipeline.Job, deps Deps) error {
	plan := planSplit(job.Batch(), deps.State)

	key := commcache.NewKey(intraNodeDeviceIDs(deps))
	params := commcache.BuildParams{
		RankInGroup: deps.State.LocalRank,
		GroupSize:   deps.State.LocalSize,
		Scope:       transport.Local,
	}
	return job.Initialize(ctx, deps.Streams, deps.Events, deps.Cache, key, params, deps.Collective, deps.HostTransport, plan.EffectiveE)
}

// hierarchicalDoAllreduce runs the five ordered phases from spec §4.6.
func hierarchicalDoAllreduce(ctx context.Context, job *pipeline.Job, deps Deps) error {
	batch := job.Batch()
	plan := planSplit(batch, deps.State)
	dtype := batch.DataType()
	elemSize, ok := device.GetTypeSize(dtype)
	if !ok {
		return fmt.Errorf("strategy: unsupported dtype %s", dtype)
	}

	fusion := job.FusionBuffer()
	comm := job.Comm()
	stream := job.Stream()
	localRank := deps.State.LocalRank
	isRoot := localRank == plan.Root

	// Phase 1: intra-node scatter-reduce.
	if plan.Eper > 0 {
		src := fusion.Slice(0, plan.Eper*deps.State.LocalSize*elemSize)
		dst := fusion.Slice(localRank*plan.Eper*elemSize, plan.Eper*elemSize)
		if err := deps.Collective.ReduceScatter(src, dst, plan.Eper, dtype, device.OpSum, comm, stream); err != nil {
			return device.NewCollectiveError("ncclReduceScatter", err)
		}
		if err := job.RecordStage(deps.Events, "REDUCE_SCATTER"); err != nil {
			return err
		}
	}

	// Phase 2: intra-node reduce of the tail to root.
	tailOffset := plan.Eper * deps.State.LocalSize
	if plan.Erem > 0 {
		tail := fusion.Slice(tailOffset*elemSize, plan.Erem*elemSize)
		if err := deps.Collective.ReduceToOne(tail, tail, plan.Erem, dtype, device.OpSum, plan.Root, comm, stream); err != nil {
			return device.NewCollectiveError("ncclReduce", err)
		}
		if err := job.RecordStage(deps.Events, "REDUCE_TAIL"); err != nil {
			return err
		}
	}

	// Phase 3: cross-node allreduce on the local responsibility — this
	// rank's shard, plus the tail if this rank is root. root's shard and
	// the tail are numerically contiguous in the fusion buffer because
	// root == local_size-1, so one slice covers both.
	localCount := plan.Eper
	if isRoot {
		localCount += plan.Erem
	}
	if localCount > 0 {
		if err := job.SyncPendingEvents(deps.Events); err != nil {
			return err
		}

		region := fusion.Slice(localRank*plan.Eper*elemSize, localCount*elemSize)
		host := job.AllocateHostBuffer(localCount * elemSize)

		if err := deps.Collective.MemcpyAsync(device.Buffer{DeviceID: device.CPUDeviceID, Data: host}, region, stream); err != nil {
			return device.NewCollectiveError("cudaMemcpyAsync", err)
		}
		if err := job.RecordStage(deps.Events, "D2H_COPY"); err != nil {
			return err
		}

		crossScopeID := fmt.Sprintf("local-rank-%d", localRank)
		reduced, err := deps.HostTransport.Allreduce(ctx, transport.Cross, crossScopeID, deps.State.NodeCount, deps.State.NodeRank, host, localCount, dtype, device.OpSum)
		if err != nil {
			return err
		}
		copy(host, reduced)

		if err := deps.Collective.MemcpyAsync(region, device.Buffer{DeviceID: device.CPUDeviceID, Data: host}, stream); err != nil {
			return device.NewCollectiveError("cudaMemcpyAsync", err)
		}
		if err := job.RecordStage(deps.Events, "H2D_COPY"); err != nil {
			return err
		}
	}

	// Phase 4: intra-node scatter-gather reconstructing the full buffer.
	if plan.Eper > 0 {
		src := fusion.Slice(localRank*plan.Eper*elemSize, plan.Eper*elemSize)
		dst := fusion.Slice(0, plan.Eper*deps.State.LocalSize*elemSize)
		if err := deps.Collective.Allgather(src, dst, plan.Eper, dtype, comm, stream); err != nil {
			return device.NewCollectiveError("ncclAllGather", err)
		}
		if err := job.RecordStage(deps.Events, "ALLGATHER"); err != nil {
			return err
		}
	}

	// Phase 5: intra-node broadcast of the tail from root.
	if plan.Erem > 0 {
		tail := fusion.Slice(tailOffset*elemSize, plan.Erem*elemSize)
		if err := deps.Collective.Broadcast(tail, plan.Erem, dtype, plan.Root, comm, stream); err != nil {
			return device.NewCollectiveError("ncclBroadcast", err)
		}
		if err := job.RecordStage(deps.Events, "BROADCAST_TAIL"); err != nil {
			return err
		}
	}

	return nil
}
