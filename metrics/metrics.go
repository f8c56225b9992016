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

// Package metrics exposes the engine's Prometheus surface: counters and
// histograms registered with promauto, plus an http.Handler for the
// scrape endpoint. The teacher's go.mod carries prometheus/client_golang
// only as an indirect dependency; this package is what finally exercises
// it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.corp.nvidia.com/gocol/strategy"
)

// Registry bundles every instrument the engine reports, registered
// against its own prometheus.Registry rather than the global default so
// multiple engine instances in one process (as in tests) don't collide.
type Registry struct {
	reg *prometheus.Registry

	CommunicatorBuilds     *prometheus.CounterVec
	EventPoolOutstanding   prometheus.GaugeFunc
	CommunicatorCacheSize  prometheus.GaugeFunc
	StrategyDuration       *prometheus.HistogramVec
	ReductionFailuresTotal *prometheus.CounterVec
}

// NewRegistry builds and registers every instrument. outstandingFunc and
// cacheSizeFunc are polled on scrape rather than pushed, so this package
// never needs a back-reference into device.EventPool or commcache.Cache
// internals — just the two read-only methods they already expose.
func NewRegistry(outstandingFunc, cacheSizeFunc func() float64) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CommunicatorBuilds: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocol",
			Name:      "communicator_builds_total",
			Help:      "Number of communicator cache builds, by strategy kind.",
		}, []string{"strategy"}),
		StrategyDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gocol",
			Name:      "strategy_duration_seconds",
			Help:      "Wall-clock time from the start of a batch's Initialize stage to its completion or failure.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		ReductionFailuresTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocol",
			Name:      "reduction_failures_total",
			Help:      "Number of batches that finished in the FAILED state, by strategy kind.",
		}, []string{"strategy"}),
	}
	r.EventPoolOutstanding = promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gocol",
		Name:      "event_pool_outstanding",
		Help:      "Events acquired but not yet released (should be zero at steady state).",
	}, outstandingFunc)
	r.CommunicatorCacheSize = promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gocol",
		Name:      "communicator_cache_size",
		Help:      "Number of communicator cache keys built or in progress.",
	}, cacheSizeFunc)

	return r
}

// ObserveBuild records a communicator cache build for kind.
func (r *Registry) ObserveBuild(kind strategy.Kind) {
	r.CommunicatorBuilds.WithLabelValues(kind.String()).Inc()
}

// ObserveFailure records a batch that finished FAILED under kind.
func (r *Registry) ObserveFailure(kind strategy.Kind) {
	r.ReductionFailuresTotal.WithLabelValues(kind.String()).Inc()
}

// Handler returns the scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
