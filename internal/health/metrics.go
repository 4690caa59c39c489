package health

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus surface the Controller exposes: current
// system-resource gauges, the last aggregate health status, and counters
// for every adaptive action it has taken. A private registry is used
// (rather than the global default) so embedding ThreatLens in a larger
// process never collides with that process's own metric names.
type Metrics struct {
	registry *prom.Registry
	handler  http.Handler

	cpuPercent  prom.Gauge
	memPercent  prom.Gauge
	diskPercent prom.Gauge
	loadAvg1    prom.Gauge

	overallStatus prom.Gauge

	adaptiveActions *prom.CounterVec
	healthChecks    *prom.CounterVec
}

// NewMetrics builds and registers the Controller's metrics.
func NewMetrics() *Metrics {
	reg := prom.NewRegistry()
	m := &Metrics{
		registry: reg,
		cpuPercent: prom.NewGauge(prom.GaugeOpts{
			Name: "threatlens_controller_cpu_percent", Help: "Most recent CPU utilization percent.",
		}),
		memPercent: prom.NewGauge(prom.GaugeOpts{
			Name: "threatlens_controller_memory_percent", Help: "Most recent memory utilization percent.",
		}),
		diskPercent: prom.NewGauge(prom.GaugeOpts{
			Name: "threatlens_controller_disk_percent", Help: "Most recent disk utilization percent.",
		}),
		loadAvg1: prom.NewGauge(prom.GaugeOpts{
			Name: "threatlens_controller_load_avg_1", Help: "Most recent 1-minute load average.",
		}),
		overallStatus: prom.NewGauge(prom.GaugeOpts{
			Name: "threatlens_controller_overall_status", Help: "Aggregate health status: 0=unknown,1=healthy,2=warning,3=critical.",
		}),
		adaptiveActions: prom.NewCounterVec(prom.CounterOpts{
			Name: "threatlens_controller_adaptive_actions_total", Help: "Adaptive actions taken, by action name.",
		}, []string{"action"}),
		healthChecks: prom.NewCounterVec(prom.CounterOpts{
			Name: "threatlens_controller_health_checks_total", Help: "Component health checks run, by component and resulting status.",
		}, []string{"component", "status"}),
	}
	reg.MustRegister(m.cpuPercent, m.memPercent, m.diskPercent, m.loadAvg1, m.overallStatus, m.adaptiveActions, m.healthChecks)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Controller's /metrics endpoint.
func (m *Metrics) Handler() http.Handler { return m.handler }
