package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Spindle
type Metrics struct {
	// Task metrics
	TasksSubmitted    prometheus.Counter
	TasksRejected     *prometheus.CounterVec
	TasksTerminal     *prometheus.CounterVec
	TaskFlowDuration  *prometheus.HistogramVec
	FirstTokenLatency prometheus.Histogram

	// Queue metrics
	QueuePending prometheus.Gauge
	QueueActive  prometheus.Gauge
	QueuePaused  prometheus.Gauge

	// Gate and cache metrics
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	GateFailOpen prometheus.Counter

	// Backend metrics
	BackendRequests *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	BackendTokens   *prometheus.CounterVec

	// Lessons metrics
	LessonsRecorded *prometheus.CounterVec
	LessonsDropped  prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. Safe to
// call more than once; the same instance is returned.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			TasksSubmitted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "spindle_tasks_submitted_total",
				Help: "Total number of tasks accepted by the queue",
			}),
			TasksRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "spindle_tasks_rejected_total",
					Help: "Total number of rejected submissions",
				},
				[]string{"reason"},
			),
			TasksTerminal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "spindle_tasks_terminal_total",
					Help: "Tasks reaching a terminal status",
				},
				[]string{"status", "flow"},
			),
			TaskFlowDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "spindle_flow_duration_seconds",
					Help:    "Duration of flow execution in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
				},
				[]string{"flow"},
			),
			FirstTokenLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "spindle_first_token_latency_seconds",
				Help:    "Latency to the first streamed token",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			}),
			QueuePending: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "spindle_queue_pending",
				Help: "Tasks waiting for an execution slot",
			}),
			QueueActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "spindle_queue_active",
				Help: "Tasks currently executing",
			}),
			QueuePaused: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "spindle_queue_paused",
				Help: "Whether admissions are paused (1) or open (0)",
			}),
			CacheHits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "spindle_cache_hits_total",
				Help: "Answer cache hits",
			}),
			CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
				Name: "spindle_cache_misses_total",
				Help: "Answer cache misses",
			}),
			GateFailOpen: promauto.NewCounter(prometheus.CounterOpts{
				Name: "spindle_gate_fail_open_total",
				Help: "Requests classified fail-open to generation with no tool mapping",
			}),
			BackendRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "spindle_backend_requests_total",
					Help: "Backend invocations by role",
				},
				[]string{"role"},
			),
			BackendErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "spindle_backend_errors_total",
					Help: "Backend invocation failures by role",
				},
				[]string{"role", "kind"},
			),
			BackendLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "spindle_backend_latency_seconds",
					Help:    "Backend invocation latency by role",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
				},
				[]string{"role"},
			),
			BackendTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "spindle_backend_tokens_total",
					Help: "Tokens consumed by role",
				},
				[]string{"role"},
			),
			LessonsRecorded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "spindle_lessons_recorded_total",
					Help: "Lessons recorded by outcome",
				},
				[]string{"outcome"},
			),
			LessonsDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "spindle_lessons_dropped_total",
				Help: "Lesson writes dropped because the write queue was full",
			}),
		}
	})
	return sharedMetrics
}
