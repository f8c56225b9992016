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
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrExecutorClosed is returned by Submit once Close has been called.
var ErrExecutorClosed = errors.New("pipeline: executor is closed")

// Executor is the completion executor Design Notes calls for in place of
// a fire-and-forget detached helper thread: a fixed pool of worker
// goroutines drains finalize tasks from a shared queue, and Close drains
// in-flight work deterministically instead of leaking it at shutdown.
type Executor struct {
	mu     sync.Mutex
	closed bool
	tasks  chan func(context.Context)

	g    *errgroup.Group
	done chan struct{}
}

// NewExecutor starts workers goroutines pulling finalize tasks off a
// shared queue of depth queueDepth.
func NewExecutor(ctx context.Context, workers, queueDepth int) *Executor {
	g, gctx := errgroup.WithContext(ctx)
	e := &Executor{
		tasks: make(chan func(context.Context), queueDepth),
		g:     g,
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for task := range e.tasks {
				task(gctx)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(e.done)
	}()
	return e
}

// Submit enqueues a finalize task, returning ErrExecutorClosed once Close
// has been called. The mutex held across the send (not just the closed
// check) prevents a Submit from racing Close's channel close — sending
// on a closed channel panics, so the two must never interleave.
func (e *Executor) Submit(task func(context.Context)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.tasks <- task
	return nil
}

// Close stops accepting new tasks and waits, bounded by ctx, for every
// queued and in-flight finalizer to complete.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
