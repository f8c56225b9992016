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

// Package transport defines the host (CPU-level) transport contract spec
// §6 requires for unique-id distribution, rendezvous barriers, and the
// cross-node leg of the hierarchical allreduce. The engine treats every
// implementation as blocking and thread-safe among the peers sharing a
// (Scope, ScopeID) pair.
package transport

import (
	"context"
	"fmt"

	"go.corp.nvidia.com/gocol/device"
)

// Scope identifies which peer set a collective call addresses.
type Scope int

const (
	// Global spans every worker.
	Global Scope = iota
	// Local spans one node's intra-node peers.
	Local
	// Cross spans the peers sharing the same local_rank across nodes.
	Cross
)

func (s Scope) String() string {
	switch s {
	case Global:
		return "global"
	case Local:
		return "local"
	case Cross:
		return "cross"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Error is a fatal host-transport failure (spec §7 TransportError),
// carrying the failing operation and scope for diagnostics.
type Error struct {
	Op      string
	Scope   Scope
	ScopeID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s failed in scope %s[%s]: %v", e.Op, e.Scope, e.ScopeID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HostTransport is the CPU channel used for unique-id broadcast, the
// post-init barrier, and the cross-node leg of hierarchical allreduce.
// ScopeID distinguishes concurrent instances of the same Scope — for
// example, Local rendezvous on node "gpu-07" is independent of Local
// rendezvous on node "gpu-12"; Cross rendezvous for local_rank 0 is
// independent of local_rank 1.
type HostTransport interface {
	// Broadcast distributes payload (meaningful only at rank==root) to
	// every one of groupSize peers in (scope, scopeID). All callers,
	// including root, receive the broadcast value back. It is a
	// rendezvous: every peer in scope must call Broadcast before any of
	// them returns.
	Broadcast(ctx context.Context, scope Scope, scopeID string, groupSize, rank, root int, payload []byte) ([]byte, error)

	// Barrier blocks every one of groupSize peers in (scope, scopeID)
	// until all of them have called Barrier.
	Barrier(ctx context.Context, scope Scope, scopeID string, groupSize, rank int) error

	// Allreduce sums sendbuf (count elements of dtype) across groupSize
	// peers in (scope, scopeID) and returns the reduced buffer to every
	// caller.
	Allreduce(ctx context.Context, scope Scope, scopeID string, groupSize, rank int, sendbuf []byte, count int, dtype device.DataType, op device.Op) ([]byte, error)

	// GetTypeSize returns the byte width of dtype.
	GetTypeSize(dtype device.DataType) (int, bool)
}
