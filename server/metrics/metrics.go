// Package metrics holds the process-wide Prometheus collectors for the
// commit, signing, and task-queue hot paths. The exposition endpoint
// that serves these lives outside the core; collectors are
// registered on the default registry so any standard handler picks
// them up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icecatalog",
		Name:      "commits_total",
		Help:      "Table/view commits by outcome.",
	}, []string{"kind", "outcome"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "icecatalog",
		Name:      "commit_duration_seconds",
		Help:      "Wall time of the full commit algorithm, lock to release.",
		Buckets:   prometheus.DefBuckets,
	})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icecatalog",
		Name:      "tasks_processed_total",
		Help:      "Background tasks by queue and terminal outcome.",
	}, []string{"queue", "outcome"})

	TaskQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "icecatalog",
		Name:      "task_queue_depth",
		Help:      "Pending tasks visible at the last poll.",
	})

	SignRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icecatalog",
		Name:      "sign_requests_total",
		Help:      "Remote-signing requests by outcome.",
	}, []string{"outcome"})

	CredentialMints = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icecatalog",
		Name:      "credential_mints_total",
		Help:      "Short-term credential mints by storage flavor.",
	}, []string{"flavor"})
)
