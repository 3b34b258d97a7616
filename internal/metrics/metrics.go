package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_runs_total",
			Help: "Total number of evaluation passes by outcome",
		},
		[]string{"outcome"}, // outcome: completed, lock_contended, aborted, cancelled
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_run_duration_seconds",
			Help:    "Duration of a full evaluation pass",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	AlertsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_alerts_evaluated_total",
			Help: "Total number of alerts whose condition was evaluated",
		},
	)

	AlertsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_alerts_skipped_total",
			Help: "Total number of alerts skipped during a pass",
		},
		[]string{"reason"}, // reason: quote_failed, cooldown, no_prior
	)

	TriggersFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_triggers_fired_total",
			Help: "Total number of alert triggers emitted",
		},
	)

	// Lock metrics
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_lock_acquire_total",
			Help: "Distributed lock acquisition attempts by result",
		},
		[]string{"result"}, // result: acquired, contended, error
	)

	// Quote source metrics
	QuoteBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_quote_batch_duration_seconds",
			Help:    "Duration of the batched quote fetch",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	QuoteFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_quote_fetch_failures_total",
			Help: "Total number of per-symbol quote fetch failures",
		},
	)

	// Alert store metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_store_errors_total",
			Help: "Total number of alert store errors by operation",
		},
		[]string{"op"}, // op: load, mark_triggered
	)

	// Dispatch metrics
	DispatchQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_dispatch_queue_size",
			Help: "Current size of the trigger dispatch queue",
		},
	)

	DispatchQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_dispatch_queue_capacity",
			Help: "Capacity of the trigger dispatch queue",
		},
	)

	DispatchDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_dispatch_dropped_total",
			Help: "Total number of trigger events dropped on a full queue",
		},
	)

	DispatchPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_dispatch_publish_duration_seconds",
			Help:    "Time taken to publish a trigger batch",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Kafka publisher metrics
	NotifyPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_notify_publish_total",
			Help: "Total number of trigger events published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	NotifyPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_notify_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// HTTP metrics for the ops surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricewatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
