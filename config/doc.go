// Package config loads udprelay's process configuration.
//
// Configuration is layered: built-in defaults, then each file added with AddLayer
// (JSON or YAML, chosen by extension), then UDPRELAY_* environment variables. The
// result is validated before it is returned. A missing file is skipped, so the
// relay starts with defaults when no config file exists.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/udprelay/udprelay.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations may be written as strings ("250ms", "2s").
//
// A YAML file looks like:
//
//	admin:
//	  listen: ":8082"
//	relay:
//	  bind: 0.0.0.0
//	  stop_timeout: 1s
//	store:
//	  backend: nats
//	  nats:
//	    url: nats://nats:4222
//	bootstrap:
//	  - name: input_1
//	    port: 5001
//	    outputs: ["10.0.0.5:6000"]
//
// Bootstrap inputs seed the route table only when the store holds none; after
// that the persisted table wins and edits go through the admin surface.
//
// # Environment Overrides
//
//	UDPRELAY_ADMIN_ENABLED, UDPRELAY_ADMIN_LISTEN, UDPRELAY_ADMIN_STATS_INTERVAL
//	UDPRELAY_METRICS_ENABLED, UDPRELAY_METRICS_PORT, UDPRELAY_METRICS_PATH
//	UDPRELAY_RELAY_BIND, UDPRELAY_RELAY_MAX_DATAGRAM_SIZE, UDPRELAY_RELAY_STOP_TIMEOUT
//	UDPRELAY_STORE_BACKEND, UDPRELAY_STORE_PATH
//	UDPRELAY_NATS_URL, UDPRELAY_NATS_BUCKET, UDPRELAY_NATS_USERNAME, UDPRELAY_NATS_PASSWORD, UDPRELAY_NATS_TOKEN,
//	UDPRELAY_NATS_DRAIN_TIMEOUT
package config
