// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics is parapet's opt-in telemetry surface, reused from the
// teacher's telemetry/churn approach: deterministic per-key sampling via
// a fixed FNV-1a hash threshold instead of an RNG, an Enable(Config) call
// that is safe to invoke more than once, and a dedicated /metrics HTTP
// endpoint served by promhttp rather than piggybacking on a service
// listener. The always-on counters (admits, denies, upstream errors,
// filter errors, bucket evictions, chain-resolve latency) update
// unconditionally — they're cheap, bounded-cardinality Prometheus
// metrics — while Sampled gates the optional, per-key-cost work a caller
// might do around a hot path (e.g. emitting a debug log per denied key).
package metrics

import (
	"hash/fnv"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls sampling and the optional standalone /metrics endpoint.
type Config struct {
	Enabled bool

	// SampleRate is the deterministic fraction (0..1) of keys Sampled
	// reports true for.
	SampleRate float64

	// MetricsAddr, when non-empty, starts a dedicated HTTP server serving
	// /metrics via promhttp. Leave empty to mount the handler elsewhere
	// (see Handler).
	MetricsAddr string
}

var (
	modEnabled        atomic.Bool
	samplingThreshold atomic.Uint64

	admitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parapet_ratelimit_admits_total",
		Help: "Total requests admitted by the rate limiter",
	})
	deniesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parapet_ratelimit_denies_total",
		Help: "Total requests denied by the rate limiter",
	})
	bucketEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parapet_ratelimit_bucket_evictions_total",
		Help: "Total LRU bucket evictions across all Multi-mode shards",
	})
	filterErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parapet_filter_errors_total",
		Help: "Total filter-chain errors, by pipeline stage",
	}, []string{"stage"})
	upstreamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parapet_upstream_errors_total",
		Help: "Total upstream request failures, by kind (error or timeout)",
	}, []string{"kind"})
	chainResolveSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parapet_chain_resolve_seconds",
		Help:    "Time to resolve a configured filter chain into its runtime form",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		admitsTotal, deniesTotal, bucketEvictionsTotal,
		filterErrorsTotal, upstreamErrorsTotal, chainResolveSeconds,
	)
}

// Enable configures sampling and, if MetricsAddr is set, starts the
// standalone /metrics endpoint. Safe to call more than once; later calls
// replace the sampling threshold and enabled flag, but never stop a
// previously started endpoint.
func Enable(cfg Config) {
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	samplingThreshold.Store(thresholdFor(cfg.SampleRate))
	modEnabled.Store(cfg.Enabled)
	if cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether the metrics module has been switched on.
func Enabled() bool { return modEnabled.Load() }

// Handler returns the promhttp handler, for callers that want to mount
// /metrics on their own mux instead of using MetricsAddr.
func Handler() http.Handler { return promhttp.Handler() }

// RecordAdmit increments the admitted-request counter.
func RecordAdmit() { admitsTotal.Inc() }

// RecordDeny increments the denied-request counter.
func RecordDeny() { deniesTotal.Inc() }

// RecordBucketEviction increments the Multi-mode LRU eviction counter.
func RecordBucketEviction() { bucketEvictionsTotal.Inc() }

// RecordFilterError increments the filter-error counter for the given
// pipeline stage (e.g. "request", "upstream_request", "response").
func RecordFilterError(stage string) { filterErrorsTotal.WithLabelValues(stage).Inc() }

// RecordUpstreamError increments the upstream-error counter for the given
// kind (e.g. "error", "timeout").
func RecordUpstreamError(kind string) { upstreamErrorsTotal.WithLabelValues(kind).Inc() }

// ObserveChainResolve records how long a chain resolve took.
func ObserveChainResolve(d time.Duration) { chainResolveSeconds.Observe(d.Seconds()) }

// Sampled deterministically decides whether key falls within the
// configured SampleRate, using a fixed FNV-1a hash threshold so the same
// key always samples the same way without needing an RNG.
func Sampled(key string) bool {
	if !modEnabled.Load() {
		return false
	}
	thr := samplingThreshold.Load()
	if thr == 0 {
		return false
	}
	return hashKey(key) <= thr
}

// thresholdFor converts a 0..1 sample rate into an inclusive cut point in
// the 64-bit hash space, handling the rounding edge cases at rate 0 and 1
// explicitly rather than trusting float rounding to land exactly there.
func thresholdFor(rate float64) uint64 {
	switch {
	case rate <= 0:
		return 0
	case rate >= 1:
		return ^uint64(0)
	default:
		max := ^uint64(0)
		f := rate * (float64(max) + 1.0)
		if f < 1 {
			f = 1
		}
		return uint64(f) - 1
	}
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

// startMetricsEndpoint exposes /metrics on addr in a background
// goroutine. Best-effort: errors (e.g. address already bound) aren't
// surfaced since Enable has no error return, matching the teacher's
// fire-and-forget exporter start.
func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
