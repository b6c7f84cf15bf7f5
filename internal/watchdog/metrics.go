// Package watchdog implements the Resource Watchdog (spec §4.10): periodic
// disk/memory/CPU sampling, two-level thresholds, per-(metric,severity)
// cooldown dedup, and alert events for external consumers. Metrics
// exposition is grounded on IAmSoThirsty-Project-AI/octoreflex's dedicated
// prometheus.Registry pattern (a private registry rather than the global
// default, to avoid collisions with other instrumented libraries).
package watchdog

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the watchdog's Prometheus gauges on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	DiskPercent   prometheus.Gauge
	MemoryPercent prometheus.Gauge
	CPUPercent    prometheus.Gauge
	AlertsTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DiskPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentctl",
			Subsystem: "watchdog",
			Name:      "disk_percent",
			Help:      "Current disk usage percentage of the monitored filesystem.",
		}),
		MemoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentctl",
			Subsystem: "watchdog",
			Name:      "memory_percent",
			Help:      "Current memory usage percentage.",
		}),
		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentctl",
			Subsystem: "watchdog",
			Name:      "cpu_percent",
			Help:      "Current CPU load as a percentage of per-core capacity.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "watchdog",
			Name:      "alerts_total",
			Help:      "Total alerts emitted, by metric and severity.",
		}, []string{"metric", "severity"}),
	}
	reg.MustRegister(m.DiskPercent, m.MemoryPercent, m.CPUPercent, m.AlertsTotal, prometheus.NewGoCollector())
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) observe(sample Sample) {
	m.DiskPercent.Set(sample.DiskPercent)
	m.MemoryPercent.Set(sample.MemoryPercent)
	m.CPUPercent.Set(sample.CPUPercent)
}

// Sample is a single reading of the three tracked metrics.
type Sample struct {
	DiskPercent   float64
	MemoryPercent float64
	CPUPercent    float64
	At            time.Time
}
