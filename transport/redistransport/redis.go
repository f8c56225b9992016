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

// Package redistransport is a multi-process HostTransport backed by Redis,
// for deployments where workers run as separate OS processes (or hosts)
// and can't share the in-memory gates localtransport relies on. It follows
// the connection/config shape of the teacher's utils/redis client.
//
// Redis here is a coordination plane, not a reduction engine: every round
// is keyed by an auto-advancing per-(scope, scopeID, op) generation counter
// so concurrent rounds never collide, and the actual arithmetic for
// Allreduce happens in this process using device.SumBuffers once every
// peer's payload has landed — the same code path FakeCollective and
// localtransport use.
package redistransport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/transport"
)

// Config holds Redis connection configuration, mirroring the teacher's
// RedisConfig (utils/redis/redis_client.go).
type Config struct {
	Host       string
	Port       int
	Password   string
	DB         int
	TLSEnabled bool

	// KeyPrefix namespaces every key this transport writes, so several
	// engine instances can share one Redis deployment.
	KeyPrefix string

	// PollInterval is how often a waiting peer re-checks for round
	// completion. RoundTTL bounds how long abandoned round state lives.
	PollInterval time.Duration
	RoundTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "gocol"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.RoundTTL <= 0 {
		c.RoundTTL = 5 * time.Minute
	}
	return c
}

// Transport is a Redis-backed HostTransport.
type Transport struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// New connects to Redis and returns a Transport. The caller owns the
// returned *redis.Client's lifecycle via Close.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis transport connected",
		slog.String("address", opts.Addr),
		slog.Int("db", cfg.DB),
	)

	return &Transport{client: client, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying Redis connection.
func (t *Transport) Close() error {
	return t.client.Close()
}

func (t *Transport) base(scope transport.Scope, scopeID, op string) string {
	return fmt.Sprintf("%s:%s:%s:%s", t.cfg.KeyPrefix, scope, scopeID, op)
}

// round returns the current generation number for base, defaulting to 0.
func (t *Transport) round(ctx context.Context, base string) (int64, error) {
	v, err := t.client.Get(ctx, base+":gen").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// roundKeys returns the three keys a single round of rendezvous uses.
func roundKeys(base string, round int64) (arrived, data, ready string) {
	return fmt.Sprintf("%s:%d:arrived", base, round),
		fmt.Sprintf("%s:%d:data", base, round),
		fmt.Sprintf("%s:%d:ready", base, round)
}

// arrive increments the arrival counter for this round and reports
// whether this call was the last of groupSize expected arrivals. On the
// last arrival it advances the generation counter so the next logical
// call to (scope, scopeID, op) starts a fresh round.
func (t *Transport) arrive(ctx context.Context, base string, round int64, groupSize int) (arrivedKey string, last bool, err error) {
	arrivedKey, _, _ = roundKeys(base, round)
	n, err := t.client.Incr(ctx, arrivedKey).Result()
	if err != nil {
		return "", false, err
	}
	t.client.Expire(ctx, arrivedKey, t.cfg.RoundTTL)
	if n == int64(groupSize) {
		if err := t.client.Incr(ctx, base+":gen").Err(); err != nil {
			return "", false, err
		}
		return arrivedKey, true, nil
	}
	return arrivedKey, false, nil
}

// awaitReady polls readyKey until it is set or ctx is cancelled.
func (t *Transport) awaitReady(ctx context.Context, readyKey string) error {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		n, err := t.client.Exists(ctx, readyKey).Result()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Transport) Broadcast(ctx context.Context, scope transport.Scope, scopeID string, groupSize, rank, root int, payload []byte) ([]byte, error) {
	base := t.base(scope, scopeID, "broadcast")
	round, err := t.round(ctx, base)
	if err != nil {
		return nil, &transport.Error{Op: "broadcast", Scope: scope, ScopeID: scopeID, Err: err}
	}
	_, dataKey, readyKey := roundKeys(base, round)

	if rank == root {
		if err := t.client.Set(ctx, dataKey, payload, t.cfg.RoundTTL).Err(); err != nil {
			return nil, &transport.Error{Op: "broadcast", Scope: scope, ScopeID: scopeID, Err: err}
		}
	}

	_, last, err := t.arrive(ctx, base, round, groupSize)
	if err != nil {
		return nil, &transport.Error{Op: "broadcast", Scope: scope, ScopeID: scopeID, Err: err}
	}
	if last {
		if err := t.client.Set(ctx, readyKey, 1, t.cfg.RoundTTL).Err(); err != nil {
			return nil, &transport.Error{Op: "broadcast", Scope: scope, ScopeID: scopeID, Err: err}
		}
	}

	if err := t.awaitReady(ctx, readyKey); err != nil {
		return nil, &transport.Error{Op: "broadcast", Scope: scope, ScopeID: scopeID, Err: err}
	}

	data, err := t.client.Get(ctx, dataKey).Bytes()
	if err != nil {
		return nil, &transport.Error{Op: "broadcast", Scope: scope, ScopeID: scopeID, Err: err}
	}
	return data, nil
}

func (t *Transport) Barrier(ctx context.Context, scope transport.Scope, scopeID string, groupSize, rank int) error {
	base := t.base(scope, scopeID, "barrier")
	round, err := t.round(ctx, base)
	if err != nil {
		return &transport.Error{Op: "barrier", Scope: scope, ScopeID: scopeID, Err: err}
	}
	_, _, readyKey := roundKeys(base, round)

	_, last, err := t.arrive(ctx, base, round, groupSize)
	if err != nil {
		return &transport.Error{Op: "barrier", Scope: scope, ScopeID: scopeID, Err: err}
	}
	if last {
		if err := t.client.Set(ctx, readyKey, 1, t.cfg.RoundTTL).Err(); err != nil {
			return &transport.Error{Op: "barrier", Scope: scope, ScopeID: scopeID, Err: err}
		}
	}
	if err := t.awaitReady(ctx, readyKey); err != nil {
		return &transport.Error{Op: "barrier", Scope: scope, ScopeID: scopeID, Err: err}
	}
	return nil
}

func (t *Transport) Allreduce(ctx context.Context, scope transport.Scope, scopeID string, groupSize, rank int, sendbuf []byte, count int, dtype device.DataType, op device.Op) ([]byte, error) {
	base := t.base(scope, scopeID, "allreduce")
	round, err := t.round(ctx, base)
	if err != nil {
		return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
	}
	_, dataKeyBase, readyKey := roundKeys(base, round)
	myDataKey := fmt.Sprintf("%s:%d", dataKeyBase, rank)

	if err := t.client.Set(ctx, myDataKey, sendbuf, t.cfg.RoundTTL).Err(); err != nil {
		return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
	}

	resultKey := dataKeyBase + ":result"
	_, last, err := t.arrive(ctx, base, round, groupSize)
	if err != nil {
		return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
	}
	if last {
		bufs := make([][]byte, groupSize)
		for r := 0; r < groupSize; r++ {
			b, err := t.client.Get(ctx, fmt.Sprintf("%s:%d", dataKeyBase, r)).Bytes()
			if err != nil {
				return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
			}
			bufs[r] = b
		}
		reduced, err := device.SumBuffers(bufs, count, dtype, op)
		if err != nil {
			return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
		}
		if err := t.client.Set(ctx, resultKey, reduced, t.cfg.RoundTTL).Err(); err != nil {
			return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
		}
		if err := t.client.Set(ctx, readyKey, 1, t.cfg.RoundTTL).Err(); err != nil {
			return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
		}
	}

	if err := t.awaitReady(ctx, readyKey); err != nil {
		return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
	}

	result, err := t.client.Get(ctx, resultKey).Bytes()
	if err != nil {
		return nil, &transport.Error{Op: "allreduce", Scope: scope, ScopeID: scopeID, Err: err}
	}
	return result, nil
}

func (t *Transport) GetTypeSize(dtype device.DataType) (int, bool) {
	return device.GetTypeSize(dtype)
}
