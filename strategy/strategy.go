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

// Package strategy implements the two allreduce algorithms the engine
// dispatches a batch to. Per Design Notes it avoids a virtual-dispatch
// hierarchy: Kind is a tagged variant, and Initialize/DoAllreduce are
// free functions looked up in a fixed table, each taking the variant
// plus the shared pipeline.Job rather than owning one.
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

// FusionAtom is the alignment atom hierarchical padding rounds up to,
// matching the worked examples in spec §8. It is a var rather than a
// const so startup wiring can override it from engine configuration
// (internal/config carries a FusionAtom value but does not assign it);
// leave it at the default outside of startup wiring.
var FusionAtom = 64

// Kind tags which allreduce algorithm a job runs.
type Kind int

const (
	Flat Kind = iota
	Hierarchical
)

func (k Kind) String() string {
	switch k {
	case Flat:
		return "flat"
	case Hierarchical:
		return "hierarchical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParameterManager exposes the one runtime toggle the strategies read
// (spec §6): whether hierarchical allreduce is enabled.
type ParameterManager interface {
	HierarchicalAllreduce() bool
}

// StaticParameterManager is a fixed ParameterManager for tests and
// deployments that don't need the toggle to change at runtime.
type StaticParameterManager bool

func (s StaticParameterManager) HierarchicalAllreduce() bool { return bool(s) }

// Response is the coordinator-supplied descriptor of which device each
// worker rank contributed (spec §3) — the ordered device-tuple a
// communicator is keyed on. reduce.Response is an alias of this type so
// callers needn't import strategy directly for it.
type Response struct {
	DeviceIDs []int // DeviceIDs[rank] is the device rank contributed
}

// Deps bundles every external collaborator a strategy stage needs. None
// of it is owned by the strategy: these are the capability interfaces
// Design Notes calls for in place of a context/strategy back-pointer.
type Deps struct {
	Collective       device.Collective
	HostTransport    transport.HostTransport
	Events           device.EventProvider
	Streams          device.StreamProvider
	Cache            *commcache.Cache
	State            globalstate.State
	Response         Response
	ParameterManager ParameterManager
}

type stageFunc func(ctx context.Context, job *pipeline.Job, deps Deps) error
type enabledFunc func(batch pipeline.Batch, deps Deps) bool

type entry struct {
	enabled     enabledFunc
	initialize  stageFunc
	doAllreduce stageFunc
}

// table is the dispatch table Design Notes asks for in place of a
// virtual Strategy hierarchy.
var table = map[Kind]entry{
	Flat: {
		enabled:     flatEnabled,
		initialize:  flatInitialize,
		doAllreduce: flatDoAllreduce,
	},
	Hierarchical: {
		enabled:     hierarchicalEnabled,
		initialize:  hierarchicalInitialize,
		doAllreduce: hierarchicalDoAllreduce,
	},
}

// Priority is the order the dispatching layer tries strategies in (spec
// §4.7): hierarchical first, since it's the more specific of the two.
var Priority = []Kind{Hierarchical, Flat}

// Select returns the first kind in Priority whose Enabled reports true.
func Select(batch pipeline.Batch, deps Deps) (Kind, bool) {
	for _, k := range Priority {
		if Enabled(k, batch, deps) {
			return k, true
		}
	}
	return 0, false
}

// Enabled reports whether kind applies to batch under deps.
func Enabled(kind Kind, batch pipeline.Batch, deps Deps) bool {
	e, ok := table[kind]
	if !ok {
		return false
	}
	return e.enabled(batch, deps)
}

// Initialize runs kind's Initialize stage.
func Initialize(ctx context.Context, kind Kind, job *pipeline.Job, deps Deps) error {
	e, ok := table[kind]
	if !ok {
		return fmt.Errorf("strategy: unknown kind %s", kind)
	}
	return e.initialize(ctx, job, deps)
}

// DoAllreduce runs kind's DoAllreduce stage.
func DoAllreduce(ctx context.Context, kind Kind, job *pipeline.Job, deps Deps) error {
	e, ok := table[kind]
	if !ok {
		return fmt.Errorf("strategy: unknown kind %s", kind)
	}
	return e.doAllreduce(ctx, job, deps)
}
