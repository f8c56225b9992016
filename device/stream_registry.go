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

// StreamRegistry hands out one high-priority, non-blocking stream per
// device, created lazily on first touch. The engine never schedules work
// on the training framework's default compute stream — sharing it would
// serialize unrelated compute behind collectives and kill backprop/comm
// overlap (spec §4.2).
type StreamRegistry struct {
	mu        sync.Mutex
	byDevice  map[int]Stream
	newStream func(deviceID int) (Stream, error)
}

// NewStreamRegistry builds a registry that creates streams via newStream,
// which is expected to query the device's priority range and request the
// highest (most urgent) non-blocking priority.
func NewStreamRegistry(newStream func(deviceID int) (Stream, error)) *StreamRegistry {
	return &StreamRegistry{
		byDevice:  make(map[int]Stream),
		newStream: newStream,
	}
}

// GetOrCreate returns the cached stream for deviceID, building it on miss.
func (r *StreamRegistry) GetOrCreate(deviceID int) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byDevice[deviceID]; ok {
		return s, nil
	}

	s, err := r.newStream(deviceID)
	if err != nil {
		return nil, NewCollectiveError("cudaStreamCreateWithPriority", err)
	}
	r.byDevice[deviceID] = s
	return s, nil
}

// Len returns the number of streams created so far, for tests/metrics.
func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byDevice)
}
