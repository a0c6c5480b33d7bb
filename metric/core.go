package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains process-level metrics shared by the engine, stores and admin surface.
// Per-input packet metrics live with the relay listeners.
type Metrics struct {
	Reconfigurations *prometheus.CounterVec
	ActiveListeners  prometheus.Gauge
	Generation       prometheus.Gauge
	StoreOperations  *prometheus.CounterVec
	AdminRequests    *prometheus.CounterVec
	HealthStatus     *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		Reconfigurations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "udprelay",
				Subsystem: "engine",
				Name:      "reconfigurations_total",
				Help:      "Reconfiguration attempts by result (ok, invalid, conflict, bind_rollback, failed)",
			},
			[]string{"result"},
		),

		ActiveListeners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "udprelay",
				Subsystem: "engine",
				Name:      "active_listeners",
				Help:      "Number of listeners in the active generation",
			},
		),

		Generation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "udprelay",
				Subsystem: "engine",
				Name:      "generation_activated_timestamp",
				Help:      "Unix timestamp when the active generation was published",
			},
		),

		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "udprelay",
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Route table store operations by backend, operation and result",
			},
			[]string{"backend", "operation", "result"},
		),

		AdminRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "udprelay",
				Subsystem: "admin",
				Name:      "requests_total",
				Help:      "Admin HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "udprelay",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordReconfiguration increments the reconfiguration counter for result
func (c *Metrics) RecordReconfiguration(result string) {
	c.Reconfigurations.WithLabelValues(result).Inc()
}

// RecordGeneration updates the active generation gauges
func (c *Metrics) RecordGeneration(listeners int, activatedUnix int64) {
	c.ActiveListeners.Set(float64(listeners))
	c.Generation.Set(float64(activatedUnix))
}

// RecordStoreOperation increments the store operation counter
func (c *Metrics) RecordStoreOperation(backend, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.StoreOperations.WithLabelValues(backend, operation, result).Inc()
}

// RecordAdminRequest increments the admin request counter
func (c *Metrics) RecordAdminRequest(route string, code int) {
	c.AdminRequests.WithLabelValues(route, statusLabel(code)).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthStatus.WithLabelValues(component).Set(value)
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
