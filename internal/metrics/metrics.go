// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package metrics exposes Prometheus instrumentation for the ingestion
// service: HTTP edge traffic, queue processing, session stitching, and
// webhook delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP edge metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// Queue processing metrics
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_processed_total",
			Help: "Total number of event jobs processed",
		},
		[]string{"branch", "outcome"}, // branch: live_session|server_or_past, outcome: ok|error
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_job_duration_seconds",
			Help:    "Event job processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session stitching metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionEndsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_ends_written_total",
			Help: "Total number of session-end markers persisted",
		},
	)

	// Ingress classification metrics
	BotEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_events_total",
			Help: "Total number of bot events diverted from the pipeline",
		},
	)

	// Notification metrics
	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Total number of failed webhook notification checks",
		},
	)
)

// TrackActiveRequest adjusts the in-flight HTTP request gauge.
func TrackActiveRequest(active bool) {
	if active {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordJob records one processed event job.
func RecordJob(branch string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	JobsProcessed.WithLabelValues(branch, outcome).Inc()
	JobDuration.Observe(duration.Seconds())
}
