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

package device

import "sync"

// EventPool caches recycled device events per device id. Event creation has
// non-zero cost in the underlying runtime, so Release pushes an event back
// onto its device's LIFO instead of letting it be garbage collected.
//
// A single mutex guards every device's queue (spec §4.1) — contention is
// expected to be low because acquires/releases happen once per pipeline
// stage, not per element.
type EventPool struct {
	mu       sync.Mutex
	byDevice map[int][]Event
	newEvent func(deviceID int) (Event, error)

	acquires int64
	releases int64
}

// NewEventPool builds a pool that creates events via newEvent on a miss.
// newEvent must return an event created with blocking-synchronize and
// timing disabled, per spec §4.1.
func NewEventPool(newEvent func(deviceID int) (Event, error)) *EventPool {
	return &EventPool{
		byDevice: make(map[int][]Event),
		newEvent: newEvent,
	}
}

// Acquire returns a recycled event for deviceID if one is available, else
// creates a fresh one.
func (p *EventPool) Acquire(deviceID int) (Event, error) {
	p.mu.Lock()
	queue := p.byDevice[deviceID]
	var ev Event
	if n := len(queue); n > 0 {
		ev = queue[n-1]
		p.byDevice[deviceID] = queue[:n-1]
	}
	p.mu.Unlock()

	if ev != nil {
		p.mu.Lock()
		p.acquires++
		p.mu.Unlock()
		return ev, nil
	}

	ev, err := p.newEvent(deviceID)
	if err != nil {
		return nil, NewCollectiveError("cudaEventCreate", err)
	}

	p.mu.Lock()
	p.acquires++
	p.mu.Unlock()
	return ev, nil
}

// Release returns e to its device's LIFO. Callers must only release an
// event after it has been synchronized — the pool never synchronizes on
// a caller's behalf.
func (p *EventPool) Release(e Event) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	deviceID := e.DeviceID()
	p.byDevice[deviceID] = append(p.byDevice[deviceID], e)
	p.releases++
}

// Outstanding returns acquires-releases, the steady-state-zero invariant
// from spec §8.
func (p *EventPool) Outstanding() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires - p.releases
}

// Len returns the number of recycled (currently idle) events held for
// deviceID.
func (p *EventPool) Len(deviceID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byDevice[deviceID])
}
