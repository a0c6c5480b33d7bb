package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/udprelay/metric"
)

const metricsService = "relay"

// Metrics holds the per-input Prometheus metrics shared by all listeners of an engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	packetsReceived  *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	packetsForwarded *prometheus.CounterVec
	sendErrors       *prometheus.CounterVec
	truncated        *prometheus.CounterVec
	readErrors       *prometheus.CounterVec
	destinations     *prometheus.GaugeVec
}

// NewMetrics creates and registers relay metrics. A nil registry yields nil metrics.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udprelay",
			Subsystem: "relay",
			Name:      "packets_received_total",
			Help:      "Datagrams received per input",
		}, []string{"input"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udprelay",
			Subsystem: "relay",
			Name:      "bytes_received_total",
			Help:      "Payload bytes received per input",
		}, []string{"input"}),
		packetsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udprelay",
			Subsystem: "relay",
			Name:      "packets_forwarded_total",
			Help:      "Datagrams sent per route",
		}, []string{"input", "destination"}),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udprelay",
			Subsystem: "relay",
			Name:      "send_errors_total",
			Help:      "Failed sends (resolution or write) per input",
		}, []string{"input"}),
		truncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udprelay",
			Subsystem: "relay",
			Name:      "truncated_total",
			Help:      "Oversized datagrams dropped per input",
		}, []string{"input"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udprelay",
			Subsystem: "relay",
			Name:      "read_errors_total",
			Help:      "Socket read errors per input",
		}, []string{"input"}),
		destinations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "udprelay",
			Subsystem: "relay",
			Name:      "input_destinations",
			Help:      "Destinations per input of the active generation",
		}, []string{"input"}),
	}

	vecs := []struct {
		name string
		vec  *prometheus.CounterVec
	}{
		{"packets_received", m.packetsReceived},
		{"bytes_received", m.bytesReceived},
		{"packets_forwarded", m.packetsForwarded},
		{"send_errors", m.sendErrors},
		{"truncated", m.truncated},
		{"read_errors", m.readErrors},
	}
	for i, v := range vecs {
		if err := registry.RegisterCounterVec(metricsService, v.name, v.vec); err != nil {
			for _, registered := range vecs[:i] {
				registry.Unregister(metricsService, registered.name)
			}
			return nil, err
		}
	}
	if err := registry.RegisterGaugeVec(metricsService, "input_destinations", m.destinations); err != nil {
		for _, registered := range vecs {
			registry.Unregister(metricsService, registered.name)
		}
		return nil, err
	}

	return m, nil
}

// activeTable replaces the per-input destination gauges. A nil table clears them.
func (m *Metrics) activeTable(table *RouteTable) {
	if m == nil {
		return
	}
	m.destinations.Reset()
	if table == nil {
		return
	}
	for _, name := range table.Inputs() {
		spec, _ := table.Input(name)
		m.destinations.WithLabelValues(name).Set(float64(len(spec.Outputs)))
	}
}

func (m *Metrics) received(input string, bytes int) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(input).Inc()
	m.bytesReceived.WithLabelValues(input).Add(float64(bytes))
}

func (m *Metrics) forwarded(input string, dest Destination) {
	if m == nil {
		return
	}
	m.packetsForwarded.WithLabelValues(input, dest.String()).Inc()
}

func (m *Metrics) sendFailed(input string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(input).Inc()
}

func (m *Metrics) truncatedDrop(input string) {
	if m == nil {
		return
	}
	m.truncated.WithLabelValues(input).Inc()
}

func (m *Metrics) readFailed(input string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(input).Inc()
}
