// Package metrics provides Prometheus metrics collection for grove.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jacentio/grove/queue"
)

// Collector holds all Prometheus metrics for grove.
// It implements cache.Recorder, queue.Recorder and odm.FinderRecorder.
type Collector struct {
	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Store metrics
	StoreDuration *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec

	// Queue metrics
	TasksTotal   *prometheus.CounterVec
	TaskAttempts *prometheus.HistogramVec
	TaskDuration *prometheus.HistogramVec

	// Finder metrics
	FinderQueries *prometheus.CounterVec
}

// New creates a collector registered with the default registerer.
func New(namespace string) *Collector {
	return NewWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "grove"
	}
	factory := promauto.With(reg)
	return &Collector{
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits by pool",
			},
			[]string{"pool"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses by pool",
			},
			[]string{"pool"},
		),

		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "collection"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of failed store operations",
			},
			[]string{"operation", "collection"},
		),

		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_tasks_total",
				Help:      "Total number of finished queue tasks by outcome",
			},
			[]string{"op", "status"},
		),
		TaskAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_task_attempts",
				Help:      "Attempts needed per queue task",
				Buckets:   []float64{1, 2, 3, 5, 10},
			},
			[]string{"op"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_task_duration_seconds",
				Help:      "Queue task duration in seconds, retries included",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),

		FinderQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "finder_queries_total",
				Help:      "Total number of finder executions by model and source (cache or store)",
			},
			[]string{"model", "kind", "source"},
		),
	}
}

func (c *Collector) CacheHit(pool string)  { c.CacheHits.WithLabelValues(pool).Inc() }
func (c *Collector) CacheMiss(pool string) { c.CacheMisses.WithLabelValues(pool).Inc() }

func (c *Collector) TaskFinished(op string, status queue.Status, attempts int, elapsed time.Duration) {
	c.TasksTotal.WithLabelValues(op, string(status)).Inc()
	c.TaskAttempts.WithLabelValues(op).Observe(float64(attempts))
	c.TaskDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// FinderQuery counts a finder get or count served from source ("cache" or "store").
func (c *Collector) FinderQuery(model, kind, source string) {
	c.FinderQueries.WithLabelValues(model, kind, source).Inc()
}

func (c *Collector) observeStore(op, collection string, start time.Time, err error) {
	c.StoreDuration.WithLabelValues(op, collection).Observe(time.Since(start).Seconds())
	if err != nil {
		c.StoreErrors.WithLabelValues(op, collection).Inc()
	}
}
