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

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.corp.nvidia.com/gocol/strategy"
)

func TestRegistryExposesObservedCounters(t *testing.T) {
	reg := NewRegistry(func() float64 { return 2 }, func() float64 { return 3 })
	reg.ObserveBuild(strategy.Hierarchical)
	reg.ObserveFailure(strategy.Flat)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	reg.Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`gocol_communicator_builds_total{strategy="hierarchical"} 1`,
		`gocol_reduction_failures_total{strategy="flat"} 1`,
		`gocol_event_pool_outstanding 2`,
		`gocol_communicator_cache_size 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected scrape output to contain %q, got:\n%s", want, text)
		}
	}
}
