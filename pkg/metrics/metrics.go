// Package metrics provides Prometheus metrics for the heather service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportRunsTotal tracks reconciliation runs by outcome
	ImportRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heather",
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Total number of import runs by feed and status",
		},
		[]string{"feed", "status"},
	)

	// ImportRunDuration tracks reconciliation duration in seconds
	ImportRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "heather",
			Subsystem: "import",
			Name:      "run_duration_seconds",
			Help:      "Duration of import runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"feed"},
	)

	// ImportRecords tracks the per-run counts (created, updated, made_available, ...)
	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heather",
			Subsystem: "import",
			Name:      "records_total",
			Help:      "Records touched by import runs, by feed and outcome",
		},
		[]string{"feed", "outcome"},
	)

	ImportInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "heather",
			Subsystem: "import",
			Name:      "in_progress",
			Help:      "1 while a run of the feed holds its guard",
		},
		[]string{"feed"},
	)

	// FetchAttemptsTotal tracks every upstream fetch attempt
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heather",
			Name:      "fetch_attempts_total",
			Help:      "Total number of upstream fetch attempts by feed and outcome",
		},
		[]string{"feed", "outcome"},
	)

	// MapperRecordsSkipped tracks records dropped by the response mapper
	MapperRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heather",
			Name:      "mapper_records_skipped_total",
			Help:      "Total number of malformed feed records skipped while mapping",
		},
		[]string{"feed"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heather",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "heather",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// SchedulerLockSkips tracks scheduled ticks skipped because another replica held the lock
	SchedulerLockSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heather",
			Subsystem: "scheduler",
			Name:      "lock_skips_total",
			Help:      "Scheduled runs skipped because the import lock was held elsewhere",
		},
		[]string{"feed"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heather",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "heather",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

func RecordImportRun(feed, status string, durationSeconds float64, counts map[string]int) {
	ImportRunsTotal.WithLabelValues(feed, status).Inc()
	ImportRunDuration.WithLabelValues(feed).Observe(durationSeconds)
	for outcome, n := range counts {
		if n > 0 {
			ImportRecords.WithLabelValues(feed, outcome).Add(float64(n))
		}
	}
}

func SetImportInProgress(feed string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	ImportInProgress.WithLabelValues(feed).Set(v)
}

func RecordFetchAttempt(feed, outcome string) {
	FetchAttemptsTotal.WithLabelValues(feed, outcome).Inc()
}

func RecordMapperSkips(feed string, skipped int) {
	if skipped > 0 {
		MapperRecordsSkipped.WithLabelValues(feed).Add(float64(skipped))
	}
}

func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

func RecordLockSkip(feed string) {
	SchedulerLockSkips.WithLabelValues(feed).Inc()
}

func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
