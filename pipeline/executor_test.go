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

package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorRunsSubmittedTasks(t *testing.T) {
	ctx := context.Background()
	e := NewExecutor(ctx, 4, 8)

	var completed atomic.Int64
	const n = 20
	for i := 0; i < n; i++ {
		if err := e.Submit(func(context.Context) { completed.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := completed.Load(); got != n {
		t.Fatalf("expected %d tasks to complete, got %d", n, got)
	}
}

func TestExecutorRejectsSubmitAfterClose(t *testing.T) {
	ctx := context.Background()
	e := NewExecutor(ctx, 1, 1)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Submit(func(context.Context) {}); err != ErrExecutorClosed {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
}
