// Package metrics holds the Prometheus collectors shared by the
// coordinators and the scheduler. Exposed via /metrics on the admin API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logharvest_job_runs_total",
			Help: "Completed job runs by job name and result.",
		},
		[]string{"job", "result"},
	)

	JobSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logharvest_job_skips_total",
			Help: "Ticks skipped because the previous run was still in flight.",
		},
		[]string{"job"},
	)

	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logharvest_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"job"},
	)

	FilesDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logharvest_files_discovered_total",
		Help: "New files recorded in the ledger by the watcher.",
	})

	FilesDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logharvest_files_duplicate_total",
		Help: "Files recorded as duplicates of an earlier fingerprint.",
	})

	FilesIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logharvest_files_indexed_total",
		Help: "Files successfully handed to the indexer.",
	})

	FilesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logharvest_files_failed_total",
		Help: "Files whose ingestion failed.",
	})

	DocumentsIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logharvest_documents_indexed_total",
		Help: "Documents reported produced by the indexer.",
	})
)
