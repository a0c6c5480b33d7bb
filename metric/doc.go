// Package metric provides the Prometheus registry and HTTP server for udprelay.
//
// The registry carries process-level metrics (reconfigurations, active listeners,
// store operations, admin requests, health) plus Go runtime and process
// collectors. Components register their own collectors through the
// MetricsRegistrar interface, keyed by service and metric name so a duplicate
// registration is reported as an invalid error instead of a panic:
//
//	registry := metric.NewMetricsRegistry()
//	_ = registry.RegisterCounterVec("relay", "packets_received", vec)
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop(ctx)
package metric
