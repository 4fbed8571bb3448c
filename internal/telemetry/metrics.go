package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virthub_sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"},
	)

	SyncRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "virthub_sync_running",
			Help: "Number of sync runs currently in flight",
		},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "virthub_sync_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	SamplesInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "virthub_metric_samples_inserted_total",
			Help: "Metric samples written by the collector",
		},
	)

	SamplesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "virthub_metric_samples_evicted_total",
			Help: "Metric samples removed by the retention sweep",
		},
	)
)

// Register регистрирует метрики процесса; вызывается один раз при старте.
func Register() {
	prometheus.MustRegister(
		SyncRunsTotal,
		SyncRunning,
		SyncDuration,
		SamplesInserted,
		SamplesEvicted,
	)
}

// Handler — эндпоинт /metrics.
func Handler() http.Handler { return promhttp.Handler() }
