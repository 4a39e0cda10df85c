// Package metrics provides Prometheus metrics for monitoring PageMill.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksTotal counts finished tasks by mode and terminal state.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagemill_tasks_total",
			Help: "Total number of tasks by mode and terminal state",
		},
		[]string{"mode", "state"},
	)

	// TaskDuration tracks task wall time from submission to terminal state.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagemill_task_duration_seconds",
			Help:    "Task duration in seconds, submission to terminal outcome",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"mode"},
	)

	// QueueDepth shows the number of tasks awaiting dispatch.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagemill_queue_depth",
			Help: "Tasks currently waiting in the admission queue",
		},
	)

	// QueueRejected counts submissions rejected by admission control.
	QueueRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagemill_queue_rejected_total",
			Help: "Task submissions rejected because the queue was full",
		},
	)

	// PoolCapacity shows the configured session pool capacity.
	PoolCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagemill_pool_capacity",
			Help: "Configured session pool capacity",
		},
	)

	// PoolAcquired counts session leases handed out.
	PoolAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagemill_pool_acquired_total",
			Help: "Total session leases granted",
		},
	)

	// PoolReleased counts leases returned.
	PoolReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagemill_pool_released_total",
			Help: "Total session leases returned",
		},
	)

	// PoolRecycled counts sessions destroyed and replaced.
	PoolRecycled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagemill_pool_recycled_total",
			Help: "Total sessions destroyed due to failure, timeout, or recycle ceilings",
		},
	)

	// PoolSpawnErrors counts failed browser spawns.
	PoolSpawnErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pagemill_pool_spawn_errors_total",
			Help: "Total browser spawn failures (after the factory's internal retry)",
		},
	)

	// MemoryUsage reports the Go runtime's allocated bytes.
	MemoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagemill_memory_bytes",
			Help: "Current Go heap allocation in bytes",
		},
	)

	// BuildInfo carries the version as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pagemill_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		TasksTotal,
		TaskDuration,
		QueueDepth,
		QueueRejected,
		PoolCapacity,
		PoolAcquired,
		PoolReleased,
		PoolRecycled,
		PoolSpawnErrors,
		MemoryUsage,
		BuildInfo,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetBuildInfo records build metadata as a constant gauge.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically samples runtime memory until stopCh
// closes. Run it in its own goroutine.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			MemoryUsage.Set(float64(m.Alloc))
		}
	}
}
