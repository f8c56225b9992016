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

// Package localtransport is an in-process HostTransport for single-process
// tests and simulation: every "peer" is a goroutine sharing one *Transport.
// The rendezvous mechanics mirror the teacher's session rendezvous
// (SessionStore.GetOrCreateSession + Session.WaitForAgent/WaitForUser):
// the first arrival at a (scope, scopeID, op) point creates a gate, later
// arrivals join it, and the last arrival releases everyone.
package localtransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/transport"
)

// Transport is an in-process HostTransport.
type Transport struct {
	mu    sync.Mutex
	gates map[string]*gate
	seq   sync.Map // map[string]*int64 keyed by scope:scopeID:op
}

// New creates an empty in-process transport.
func New() *Transport {
	return &Transport{gates: make(map[string]*gate)}
}

type gate struct {
	mu      sync.Mutex
	size    int
	arrived int
	slots   [][]byte
	done    chan struct{}
}

func (t *Transport) nextSeq(scope transport.Scope, scopeID, op string) int64 {
	key := fmt.Sprintf("%s:%s:%s", scope, scopeID, op)
	v, _ := t.seq.LoadOrStore(key, new(int64))
	return atomic.AddInt64(v.(*int64), 1)
}

func (t *Transport) join(key string, size, rank int, payload []byte) [][]byte {
	t.mu.Lock()
	g, ok := t.gates[key]
	if !ok {
		g = &gate{size: size, slots: make([][]byte, size), done: make(chan struct{})}
		t.gates[key] = g
	}
	t.mu.Unlock()

	g.mu.Lock()
	g.slots[rank] = payload
	g.arrived++
	last := g.arrived == g.size
	if last {
		t.mu.Lock()
		delete(t.gates, key)
		t.mu.Unlock()
	}
	g.mu.Unlock()

	if last {
		close(g.done)
	}
	<-g.done
	return g.slots
}

func (t *Transport) Broadcast(ctx context.Context, scope transport.Scope, scopeID string, groupSize, rank, root int, payload []byte) ([]byte, error) {
	seq := t.nextSeq(scope, scopeID, "broadcast")
	key := fmt.Sprintf("%s:%s:broadcast:%d", scope, scopeID, seq)

	var mine []byte
	if rank == root {
		mine = append([]byte(nil), payload...)
	}
	all := t.join(key, groupSize, rank, mine)

	select {
	case <-ctx.Done():
		return nil, &transport.Error{Op: "broadcast", Scope: scope, ScopeID: scopeID, Err: ctx.Err()}
	default:
	}
	return append([]byte(nil), all[root]...), nil
}

func (t *Transport) Barrier(ctx context.Context, scope transport.Scope, scopeID string, groupSize, rank int) error {
	seq := t.nextSeq(scope, scopeID, "barrier")
	key := fmt.Sprintf("%s:%s:barrier:%d", scope, scopeID, seq)
	t.join(key, groupSize, rank, nil)

	select {
	case <-ctx.Done():
		return &transport.Error{Op: "barrier", Scope: scope, ScopeID: scopeID, Err: ctx.Err()}
	default:
		return nil
	}
}

func (t *Transport) Allreduce(ctx context.Context, scope transport.Scope, scopeID string, groupSize, rank int, sendbuf []byte, count int, dtype device.DataType, op device.Op) ([]byte, error) {
	seq := t.nextSeq(scope, scopeID, "allreduce")
	key := fmt.Sprintf("%s:%s:allreduce:%d", scope, scopeID, seq)

	all := t.join(key, groupSize, rank, append([]byte(nil), sendbuf...))

	select {
	case <-ctx.Done():
		return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: ctx.Err()}
	default:
	}

	reduced, err := device.SumBuffers(all, count, dtype, op)
	if err != nil {
		return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
	}
	return reduced, nil
}

func (t *Transport) GetTypeSize(dtype device.DataType) (int, bool) {
	return device.GetTypeSize(dtype)
}
