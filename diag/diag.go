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

// Package diag keeps a bounded, TTL-expiring window of recent reduction
// outcomes in memory, for a debug endpoint to dump without querying the
// audit package's durable store. It is built on the same
// expirable.LRU-backed keyed cache shape as the authz sidecar's role
// cache.
package diag

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/strategy"
)

const (
	defaultMaxEntries = 256
	defaultTTL        = 10 * time.Minute
)

// Summary is one completed job's outcome, keyed by batch name for
// lookup and kept only long enough to answer "what just happened to my
// last reduction" during interactive debugging.
type Summary struct {
	BatchName   string
	Strategy    strategy.Kind
	NumElements int
	DataType    device.DataType
	OK          bool
	Err         error
	Duration    time.Duration
}

// Recorder holds the most recent Summary per batch name, evicting the
// least recently used entry past maxEntries and expiring entries past
// ttl, whichever comes first.
type Recorder struct {
	cache *expirable.LRU[string, Summary]
}

// NewRecorder builds a Recorder with the given capacity and TTL. Zero
// values fall back to the package defaults.
func NewRecorder(maxEntries int, ttl time.Duration) *Recorder {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Recorder{cache: expirable.NewLRU[string, Summary](maxEntries, nil, ttl)}
}

// Record stores s under its batch name, overwriting any prior summary
// for a batch of the same name.
func (r *Recorder) Record(s Summary) {
	r.cache.Add(s.BatchName, s)
}

// Lookup returns the most recently recorded Summary for name, if still
// live.
func (r *Recorder) Lookup(name string) (Summary, bool) {
	return r.cache.Get(name)
}

// Len returns the number of live entries.
func (r *Recorder) Len() int {
	return r.cache.Len()
}

// String renders a Summary as a single diagnostic line.
func (s Summary) String() string {
	if s.OK {
		return fmt.Sprintf("%s: %s/%s n=%d took=%s ok", s.BatchName, s.Strategy, s.DataType, s.NumElements, s.Duration)
	}
	return fmt.Sprintf("%s: %s/%s n=%d took=%s failed: %v", s.BatchName, s.Strategy, s.DataType, s.NumElements, s.Duration, s.Err)
}
