// Package udprelay is a UDP datagram relay whose routes can be changed while it runs.
//
// Each named input binds one UDP port and forwards every datagram it receives,
// byte for byte, to an ordered list of destinations. The set of inputs and their
// destinations is a route table. Replacing the table stops the current listeners
// and starts new ones as a single generation; a table that cannot be bound leaves
// the previous generation forwarding.
//
// # Architecture
//
//	cmd/udprelay   process wiring: flags, logging, config, store, engine, HTTP servers
//	relay          route tables, listeners, the reconfiguration engine, forward stats
//	store          route table persistence: JSON file or NATS JetStream KV
//	admin          dashboard, form endpoints, JSON API, stats websocket
//	config         layered JSON/YAML configuration with UDPRELAY_* overrides
//	metric         Prometheus registry, core metrics, /metrics server
//	health         component health model and aggregation
//	natsclient     NATS connection with retry and JetStream access
//	errors         classified errors and relay error sentinels
//	pkg/retry      exponential backoff
//
// # Quick Start
//
//	udprelay --config udprelay.yaml --log-format text
//
// With no config file the relay starts two inputs on ports 5001 and 5002 with no
// destinations, keeps its table in relay_config.json, serves the admin dashboard
// on :8082, and exposes metrics on :9090/metrics.
package udprelay
