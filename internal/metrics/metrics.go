// Package metrics 定义分享链路的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sharegate"

var (
	ShareAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_attempts_total",
			Help:      "Share attempts by channel and result.",
		},
		[]string{"channel", "result"},
	)

	ShareRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_rejections_total",
			Help:      "Rejected shares by error kind.",
		},
		[]string{"kind"},
	)

	SpamScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spam_score",
			Help:      "Distribution of spam scores for analyzed messages.",
			Buckets:   []float64{0, 10, 25, 50, 80, 120, 200},
		},
	)

	FailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "Internal faults in guard steps that were allowed through.",
		},
		[]string{"step"},
	)

	TransactionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "share_transaction_seconds",
			Help:      "Latency of the durable share transaction.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	TransactionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_transaction_conflicts_total",
			Help:      "Optimistic version conflicts seen by the share transaction.",
		},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Share notifications dropped because the buffer was full.",
		},
	)

	SweptEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_entries_total",
			Help:      "Idle or expired in-memory entries removed by the sweeper.",
		},
		[]string{"store"},
	)
)
