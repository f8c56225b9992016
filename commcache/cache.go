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

// Package commcache caches collective communicators keyed by the sorted
// tuple of participating device ids, building each exactly once. It is
// built on the same sync.Map + per-key rendezvous-channel shape as the
// router's SessionStore: a LoadOrStore race picks exactly one builder per
// key, and every other caller blocks on a channel the builder closes
// exactly once when the result is ready.
//
// Unlike SessionStore, entries here are never released: a communicator's
// lifetime is the process, not a single request.
package commcache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/transport"
)

// Key identifies a communicator group by its sorted device ids. Two
// BuildParams calls with the same device ids always collide on the same
// Key, regardless of call order, closing the unordered-map-of-slice
// hashing hazard a naive []int key would carry. Duplicate ids are kept.
type Key string

// NewKey builds a Key from a list of device ids. It only sorts and joins:
// negative device ids are neither rejected nor filtered, here or in the
// strategies that call it.
func NewKey(deviceIDs []int) Key {
	sorted := append([]int(nil), deviceIDs...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}
	return Key(strings.Join(parts, ","))
}

func (k Key) String() string { return string(k) }

// BuildParams carries the per-peer coordinates the build protocol (spec
// §4.3) needs: this peer's rank within the group, the group size, and
// the host-transport scope every peer in the group shares.
type BuildParams struct {
	RankInGroup int
	GroupSize   int
	Scope       transport.Scope
}

type entry struct {
	ready chan struct{}
	once  sync.Once
	comm  device.Communicator
	err   error
}

// Cache maps Key to a lazily built, permanently cached Communicator.
type Cache struct {
	entries sync.Map // map[Key]*entry
}

// New returns an empty communicator cache.
func New() *Cache {
	return &Cache{}
}

// GetOrBuild returns the communicator for key, building it via the
// protocol below (params supplies rank, group size and scope) on first
// request and blocking concurrent requests for the same key until the one
// build completes.
//
//  1. rank 0 generates a fresh unique id; every peer enters a host-
//     transport broadcast over params.Scope to receive it.
//  2. Each peer calls collective.InitRank(groupSize, id, rank).
//  3. A host-transport barrier follows, guarding the known post-init
//     deadlock the underlying collective library can hit without it.
//
// Any failure at any step is fatal and is returned to every caller
// waiting on this key, not just the one that triggered the build.
func (c *Cache) GetOrBuild(ctx context.Context, key Key, params BuildParams, collective device.Collective, ht transport.HostTransport) (device.Communicator, error) {
	e := &entry{ready: make(chan struct{})}
	actual, loaded := c.entries.LoadOrStore(key, e)
	e = actual.(*entry)

	if !loaded {
		e.comm, e.err = build(ctx, key, params, collective, ht)
		e.once.Do(func() { close(e.ready) })
		return e.comm, e.err
	}

	select {
	case <-e.ready:
		return e.comm, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the communicator already cached for key, if any, without
// triggering a build or blocking on one in progress.
func (c *Cache) Peek(key Key) (device.Communicator, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	select {
	case <-e.ready:
		return e.comm, e.err == nil
	default:
		return nil, false
	}
}

// Len reports the number of keys with a build in progress or complete.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

func build(ctx context.Context, key Key, params BuildParams, collective device.Collective, ht transport.HostTransport) (device.Communicator, error) {
	scopeID := key.String()

	var idPayload device.UniqueID
	if params.RankInGroup == 0 {
		id, err := collective.GenerateUniqueID()
		if err != nil {
			return nil, device.NewCollectiveError("ncclGetUniqueId", err)
		}
		idPayload = id
	}

	broadcast, err := ht.Broadcast(ctx, params.Scope, scopeID, params.GroupSize, params.RankInGroup, 0, idPayload)
	if err != nil {
		return nil, fmt.Errorf("communicator build %s: %w", key, err)
	}

	comm, err := collective.InitRank(params.GroupSize, device.UniqueID(broadcast), params.RankInGroup)
	if err != nil {
		return nil, device.NewCollectiveError("ncclCommInitRank", err)
	}

	if err := ht.Barrier(ctx, transport.Global, scopeID, params.GroupSize, params.RankInGroup); err != nil {
		return nil, fmt.Errorf("communicator build %s: post-init barrier: %w", key, err)
	}

	return comm, nil
}
