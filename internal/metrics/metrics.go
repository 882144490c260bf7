// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics holds the prometheus collectors of the capture pipeline.
// Collectors register on the default registry; the web server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glove_frames_decoded_total",
		Help: "Wire records accepted as samples",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glove_frames_dropped_total",
		Help: "Wire records dropped by the decoder",
	}, []string{"reason"})

	BufferEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glove_buffer_evictions_total",
		Help: "Samples evicted from the full sample buffer",
	})

	DrainBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "glove_drain_batch_size",
		Help:    "Samples moved into the series store per drain tick",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
	})

	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glove_link_state",
		Help: "Current link state (0=disconnected .. 7=error)",
	})

	LinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glove_link_failures_total",
		Help: "Link teardowns caused by a stage failure",
	})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glove_session_state",
		Help: "Current capture session state",
	})

	PollAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glove_result_poll_attempts_total",
		Help: "Status reads issued while waiting for a remote result",
	})

	Results = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glove_results_total",
		Help: "Result pipeline outcomes",
	}, []string{"outcome"})

	AnalysisJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glove_analysis_jobs_total",
		Help: "Analysis jobs run by the analyzer",
	}, []string{"status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
)
