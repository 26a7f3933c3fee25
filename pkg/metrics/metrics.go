// Package metrics provides Prometheus metrics for the Bramble service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRunsTotal tracks pipeline runs by terminal status
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		},
		[]string{"tenant_id", "status"},
	)

	// PipelineRunDuration tracks run duration in seconds
	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bramble",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"tenant_id"},
	)

	// ConnectorItemsFound tracks items yielded per source
	ConnectorItemsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "connector",
			Name:      "items_found_total",
			Help:      "Total number of candidate listings yielded by connectors",
		},
		[]string{"source_id"},
	)

	// ConnectorErrors tracks connector failures by cause
	ConnectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "connector",
			Name:      "errors_total",
			Help:      "Total number of connector failures by cause",
		},
		[]string{"source_id", "cause"},
	)

	// ConnectorDuration tracks per-connector run duration
	ConnectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bramble",
			Subsystem: "connector",
			Name:      "duration_seconds",
			Help:      "Duration of connector runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source_id"},
	)

	// ProgressEventsDelivered tracks events delivered to subscribers
	ProgressEventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "progress",
			Name:      "events_delivered_total",
			Help:      "Total number of progress events delivered to subscribers",
		},
	)

	// ProgressEventsDropped tracks events dropped for slow subscribers
	ProgressEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "progress",
			Name:      "events_dropped_total",
			Help:      "Total number of progress events dropped for slow subscribers",
		},
	)

	// ListingsSaved tracks net-new listings persisted
	ListingsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "listings",
			Name:      "saved_total",
			Help:      "Total number of net-new listings persisted",
		},
		[]string{"source_id"},
	)

	// DuplicatesSkipped tracks candidates skipped as duplicates
	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "listings",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of candidates skipped as duplicates of active listings",
		},
		[]string{"source_id"},
	)

	// MergesTotal tracks merge operations by outcome
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bramble",
			Subsystem: "merge",
			Name:      "operations_total",
			Help:      "Total number of merge operations by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)
)
