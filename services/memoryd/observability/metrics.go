// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the daemon's Prometheus metrics, registered at
// package load through promauto and served on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "openclaw"
	subsystem = "memoryd"
)

var (
	// HTTPRequests counts requests by method, route, and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by method, route, and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request latency per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency per route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// StageDuration observes reflection stage latency per stage name.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Reflection pipeline stage latency.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})

	// JobsProcessed counts finished reflection jobs by terminal status.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pipeline_jobs_total",
		Help:      "Reflection jobs finished, by terminal status.",
	}, []string{"status"})

	// MemoryOps counts memory writes by operation (remembered, forgotten,
	// deduplicated, expired).
	MemoryOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "memory_operations_total",
		Help:      "Memory record operations.",
	}, []string{"operation"})

	// RecallMethod counts recalls by retrieval method.
	RecallMethod = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "recall_total",
		Help:      "Recall requests, by retrieval method.",
	}, []string{"method"})

	// DecayedMemories counts memories whose strength a decay pass lowered.
	DecayedMemories = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "decayed_memories_total",
		Help:      "Memories decayed across all decay passes.",
	})

	// LastDecayRun holds the unix time of the last completed decay pass.
	LastDecayRun = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "decay_last_run_timestamp_seconds",
		Help:      "Unix time of the last completed decay pass.",
	})
)
