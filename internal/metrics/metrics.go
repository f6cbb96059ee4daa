// Package metrics declares Prometheus gauges/counters for the scheduler
// and download pipeline, an ambient observability surface grounded on
// TorrX's use of prometheus/client_golang, not required by the core
// contracts. The serve command registers them and the HTTP surface
// serves /metrics, but no package sets or increments them, so they
// always report their zero values.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vixsrc_downloader_active_tasks",
		Help: "Number of tasks currently in a non-terminal status.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vixsrc_downloader_queue_depth",
		Help: "Number of tasks waiting for a scheduler slot.",
	})

	BytesDownloadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vixsrc_downloader_bytes_downloaded_total",
		Help: "Cumulative bytes written across all segment downloads.",
	})
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ActiveTasks, QueueDepth, BytesDownloadedTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
