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

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/x448/float16"
)

// FakeWorld is the shared rendezvous fabric backing FakeCollective. It lets
// multiple in-process goroutines (each standing in for one worker's GPU)
// exercise the real Collective contract — including the cross-rank
// arithmetic spec §8 asserts on — without CUDA or NCCL.
//
// Every collective call blocks its goroutine until every other member of
// the same communicator has made the matching call, then performs the
// reduction once and releases all callers with the shared result.
type FakeWorld struct {
	mu    sync.Mutex
	gates map[string]*gate
}

// NewFakeWorld creates an empty rendezvous fabric.
func NewFakeWorld() *FakeWorld {
	return &FakeWorld{gates: make(map[string]*gate)}
}

// gate is a single-use, size-counted rendezvous point keyed by
// (communicator id, operation name, call sequence).
type gate struct {
	mu      sync.Mutex
	size    int
	arrived int
	slots   [][]byte
	done    chan struct{}
}

// join registers payload under rank and blocks until size members have
// joined the same gate, then returns every member's payload in rank order.
func (w *FakeWorld) join(key string, size, rank int, payload []byte) [][]byte {
	w.mu.Lock()
	g, ok := w.gates[key]
	if !ok {
		g = &gate{size: size, slots: make([][]byte, size), done: make(chan struct{})}
		w.gates[key] = g
	}
	w.mu.Unlock()

	g.mu.Lock()
	g.slots[rank] = payload
	g.arrived++
	last := g.arrived == g.size
	if last {
		w.mu.Lock()
		delete(w.gates, key)
		w.mu.Unlock()
	}
	g.mu.Unlock()

	if last {
		close(g.done)
	}
	<-g.done
	return g.slots
}

// FakeCollective is a goroutine-safe, in-memory implementation of
// device.Collective used for single-process tests and simulation. Device
// buffers are ordinary byte slices; GPU devices are simulated by distinct
// device ids rather than real hardware.
type FakeCollective struct {
	world *FakeWorld
	seq   sync.Map // map[string]*int64, per-(comm,op) call counter
}

// NewFakeCollective returns a Collective bound to world. Every rank that
// should see each other's reductions must share the same *FakeWorld.
func NewFakeCollective(world *FakeWorld) *FakeCollective {
	return &FakeCollective{world: world}
}

func (c *FakeCollective) GenerateUniqueID() (UniqueID, error) {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	return id, nil
}

type fakeComm struct {
	id        string
	groupSize int
	rank      int
}

func (c *fakeComm) GroupSize() int { return c.groupSize }
func (c *fakeComm) Rank() int      { return c.rank }

func (c *FakeCollective) InitRank(groupSize int, id UniqueID, rank int) (Communicator, error) {
	if rank < 0 || rank >= groupSize {
		return nil, fmt.Errorf("rank %d out of range [0,%d)", rank, groupSize)
	}
	return &fakeComm{id: fmt.Sprintf("%x", []byte(id)), groupSize: groupSize, rank: rank}, nil
}

func (c *FakeCollective) MemcpyAsync(dst, src Buffer, stream Stream) error {
	copy(dst.Data, src.Data)
	return nil
}

func (c *FakeCollective) nextSeq(comm *fakeComm, op string) int64 {
	key := comm.id + ":" + op
	v, _ := c.seq.LoadOrStore(key, new(int64))
	return atomic.AddInt64(v.(*int64), 1)
}

func (c *FakeCollective) Allreduce(src, dst Buffer, count int, dtype DataType, op Op, comm Communicator, stream Stream) error {
	fc := comm.(*fakeComm)
	seq := c.nextSeq(fc, "allreduce")
	key := fmt.Sprintf("%s:allreduce:%d", fc.id, seq)

	payload := append([]byte(nil), src.Data[:byteLen(count, dtype)]...)
	all := c.world.join(key, fc.groupSize, fc.rank, payload)

	reduced, err := SumBuffers(all, count, dtype, op)
	if err != nil {
		return NewCollectiveError("ncclAllReduce", err)
	}
	copy(dst.Data, reduced)
	return nil
}

func (c *FakeCollective) ReduceScatter(src, dst Buffer, count int, dtype DataType, op Op, comm Communicator, stream Stream) error {
	fc := comm.(*fakeComm)
	seq := c.nextSeq(fc, "reducescatter")
	key := fmt.Sprintf("%s:reducescatter:%d", fc.id, seq)

	size, _ := GetTypeSize(dtype)
	total := count * fc.groupSize
	payload := append([]byte(nil), src.Data[:total*size]...)
	all := c.world.join(key, fc.groupSize, fc.rank, payload)

	reduced, err := SumBuffers(all, total, dtype, op)
	if err != nil {
		return NewCollectiveError("ncclReduceScatter", err)
	}
	shard := reduced[fc.rank*count*size : (fc.rank+1)*count*size]
	copy(dst.Data, shard)
	return nil
}

func (c *FakeCollective) Allgather(src, dst Buffer, count int, dtype DataType, comm Communicator, stream Stream) error {
	fc := comm.(*fakeComm)
	seq := c.nextSeq(fc, "allgather")
	key := fmt.Sprintf("%s:allgather:%d", fc.id, seq)

	size, _ := GetTypeSize(dtype)
	payload := append([]byte(nil), src.Data[:count*size]...)
	all := c.world.join(key, fc.groupSize, fc.rank, payload)

	offset := 0
	for _, shard := range all {
		copy(dst.Data[offset:], shard)
		offset += len(shard)
	}
	return nil
}

func (c *FakeCollective) ReduceToOne(src, dst Buffer, count int, dtype DataType, op Op, root int, comm Communicator, stream Stream) error {
	fc := comm.(*fakeComm)
	seq := c.nextSeq(fc, "reduce")
	key := fmt.Sprintf("%s:reduce:%d", fc.id, seq)

	size, _ := GetTypeSize(dtype)
	payload := append([]byte(nil), src.Data[:count*size]...)
	all := c.world.join(key, fc.groupSize, fc.rank, payload)

	if fc.rank == root {
		reduced, err := SumBuffers(all, count, dtype, op)
		if err != nil {
			return NewCollectiveError("ncclReduce", err)
		}
		copy(dst.Data, reduced)
	}
	return nil
}

func (c *FakeCollective) Broadcast(buf Buffer, count int, dtype DataType, root int, comm Communicator, stream Stream) error {
	fc := comm.(*fakeComm)
	seq := c.nextSeq(fc, "broadcast")
	key := fmt.Sprintf("%s:broadcast:%d", fc.id, seq)

	size, _ := GetTypeSize(dtype)
	var payload []byte
	if fc.rank == root {
		payload = append([]byte(nil), buf.Data[:count*size]...)
	} else {
		payload = make([]byte, count*size)
	}
	all := c.world.join(key, fc.groupSize, fc.rank, payload)
	copy(buf.Data, all[root])
	return nil
}

func byteLen(count int, dtype DataType) int {
	size, _ := GetTypeSize(dtype)
	return count * size
}

// SumBuffers element-wise sums count elements of dtype across every
// buffer in bufs, returning a freshly allocated result buffer.
func SumBuffers(bufs [][]byte, count int, dtype DataType, op Op) ([]byte, error) {
	if op != OpSum {
		return nil, fmt.Errorf("unsupported op %d", op)
	}
	size, ok := GetTypeSize(dtype)
	if !ok {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	out := make([]byte, count*size)

	switch dtype {
	case Int32:
		acc := make([]int32, count)
		for _, b := range bufs {
			for i := 0; i < count; i++ {
				acc[i] += int32(binary.LittleEndian.Uint32(b[i*4:]))
			}
		}
		for i, v := range acc {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
	case Int64:
		acc := make([]int64, count)
		for _, b := range bufs {
			for i := 0; i < count; i++ {
				acc[i] += int64(binary.LittleEndian.Uint64(b[i*8:]))
			}
		}
		for i, v := range acc {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
	case Float32:
		acc := make([]float32, count)
		for _, b := range bufs {
			for i := 0; i < count; i++ {
				acc[i] += math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
			}
		}
		for i, v := range acc {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case Float64:
		acc := make([]float64, count)
		for _, b := range bufs {
			for i := 0; i < count; i++ {
				acc[i] += math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
			}
		}
		for i, v := range acc {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
	case Float16:
		acc := make([]float32, count)
		for _, b := range bufs {
			for i := 0; i < count; i++ {
				h := float16.Frombits(binary.LittleEndian.Uint16(b[i*2:]))
				acc[i] += h.Float32()
			}
		}
		for i, v := range acc {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	return out, nil
}

// FakeStream is a trivial Stream for FakeCollective — real work happens
// synchronously inside Collective calls, so it carries no state beyond
// the device id it's bound to.
type FakeStream struct{ Device int }

func (s FakeStream) DeviceID() int { return s.Device }

// FakeEvent completes synchronously at Record time, since FakeCollective
// never defers work past the call that issued it.
type FakeEvent struct {
	device   int
	mu       sync.Mutex
	recorded bool
}

func (e *FakeEvent) Record(s Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorded = true
	return nil
}

func (e *FakeEvent) Synchronize() error { return nil }
func (e *FakeEvent) DeviceID() int      { return e.device }

// NewFakeRuntime returns constructors suitable for device.NewEventPool and
// device.NewStreamRegistry backed entirely by FakeCollective semantics.
func NewFakeRuntime() (newEvent func(int) (Event, error), newStream func(int) (Stream, error)) {
	return func(deviceID int) (Event, error) {
			return &FakeEvent{device: deviceID}, nil
		}, func(deviceID int) (Stream, error) {
			return FakeStream{Device: deviceID}, nil
		}
}
