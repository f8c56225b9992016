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

// Package audit optionally persists a durable history of communicator
// builds and reduction outcomes to Postgres, for clusters that need to
// answer "which runs used hierarchical allreduce on this node pool"
// after diag's in-memory window has expired. It is built on the same
// pgxpool connection-pool pattern as the teacher's Postgres client.
package audit

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"go.corp.nvidia.com/gocol/device"
	"go.corp.nvidia.com/gocol/strategy"
)

// Config holds the connection parameters for the audit store.
type Config struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 4
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 5 * time.Minute
	}
	return c
}

// Store writes reduction and communicator-build records to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func connURL(cfg Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.PathEscape(cfg.User), url.PathEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

// Open connects to Postgres and ensures the audit tables exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	poolConfig, err := pgxpool.ParseConfig(connURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("audit: parsing connection config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("audit: creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: pinging database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS communicator_builds (
	id BIGSERIAL PRIMARY KEY,
	comm_key TEXT NOT NULL,
	strategy TEXT NOT NULL,
	group_size INT NOT NULL,
	built_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS reductions (
	id BIGSERIAL PRIMARY KEY,
	batch_name TEXT NOT NULL,
	strategy TEXT NOT NULL,
	data_type TEXT NOT NULL,
	num_elements INT NOT NULL,
	ok BOOLEAN NOT NULL,
	error TEXT,
	duration_ms BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("audit: running migrations: %w", err)
	}
	return nil
}

// RecordCommunicatorBuild appends a row noting that key was built for
// kind with the given intra-group size.
func (s *Store) RecordCommunicatorBuild(ctx context.Context, key string, kind strategy.Kind, groupSize int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO communicator_builds (comm_key, strategy, group_size) VALUES ($1, $2, $3)`,
		key, kind.String(), groupSize)
	if err != nil {
		return fmt.Errorf("audit: recording communicator build: %w", err)
	}
	return nil
}

// Reduction is one completed batch's durable record.
type Reduction struct {
	BatchName   string
	Strategy    strategy.Kind
	DataType    device.DataType
	NumElements int
	OK          bool
	Err         error
	Duration    time.Duration
}

// RecordReduction appends a row for a completed batch.
func (s *Store) RecordReduction(ctx context.Context, r Reduction) error {
	var errText *string
	if r.Err != nil {
		msg := r.Err.Error()
		errText = &msg
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reductions (batch_name, strategy, data_type, num_elements, ok, error, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.BatchName, r.Strategy.String(), r.DataType.String(), r.NumElements, r.OK, errText, r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("audit: recording reduction: %w", err)
	}
	return nil
}
