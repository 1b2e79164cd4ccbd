// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups every collector the API records to.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SidebarRuns     *prometheus.CounterVec
	SidebarFastPath prometheus.Counter
	SidebarShared   prometheus.Counter
	SidebarDuration prometheus.Histogram

	StorageOps *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msphub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "msphub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		SidebarRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msphub",
			Subsystem: "sidebar",
			Name:      "reconcile_runs_total",
			Help:      "Sidebar reconciliation runs by result.",
		}, []string{"result"}),
		SidebarFastPath: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msphub",
			Subsystem: "sidebar",
			Name:      "fast_path_total",
			Help:      "Initializations that found a complete sidebar and wrote nothing.",
		}),
		SidebarShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msphub",
			Subsystem: "sidebar",
			Name:      "shared_calls_total",
			Help:      "Initialization calls that joined an in-flight run.",
		}),
		SidebarDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msphub",
			Subsystem: "sidebar",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of full reconciliation runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msphub",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "File storage operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
	}
	m.Registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.SidebarRuns,
		m.SidebarFastPath,
		m.SidebarShared,
		m.SidebarDuration,
		m.StorageOps,
		collectors.NewGoCollector(),
	)
	return m
}
