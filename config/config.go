package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/relay"
)

// Store backends
const (
	StoreBackendFile = "file"
	StoreBackendNATS = "nats"
)

// Config is the process configuration. The route table itself is not here: it is
// persisted by the store and edited through the admin surface. Bootstrap seeds it
// on first start.
type Config struct {
	Admin     AdminConfig      `json:"admin" yaml:"admin"`
	Metrics   MetricsConfig    `json:"metrics" yaml:"metrics"`
	Relay     RelayConfig      `json:"relay" yaml:"relay"`
	Store     StoreConfig      `json:"store" yaml:"store"`
	Bootstrap []relay.RawInput `json:"bootstrap" yaml:"bootstrap"`
}

// AdminConfig configures the HTTP admin surface
type AdminConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Listen        string        `json:"listen" yaml:"listen"`
	StatsInterval time.Duration `json:"stats_interval" yaml:"stats_interval"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// RelayConfig holds listener settings shared by every input
type RelayConfig struct {
	Bind            string        `json:"bind" yaml:"bind"`
	MaxDatagramSize int           `json:"max_datagram_size" yaml:"max_datagram_size"`
	StopTimeout     time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

// StoreConfig selects where the route table is persisted
type StoreConfig struct {
	Backend string     `json:"backend" yaml:"backend"`
	Path    string     `json:"path" yaml:"path"`
	NATS    NATSConfig `json:"nats" yaml:"nats"`
}

// NATSConfig holds the JetStream KV store connection
type NATSConfig struct {
	URL      string        `json:"url" yaml:"url"`
	Bucket   string        `json:"bucket" yaml:"bucket"`
	Key      string        `json:"key" yaml:"key"`
	Username string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string        `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	// DrainTimeout bounds connection draining at shutdown.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Admin: AdminConfig{
			Enabled:       true,
			Listen:        ":8082",
			StatsInterval: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Relay: RelayConfig{
			Bind:            relay.DefaultBind,
			MaxDatagramSize: relay.DefaultMaxDatagramSize,
			StopTimeout:     relay.DefaultStopTimeout,
		},
		Store: StoreConfig{
			Backend: StoreBackendFile,
			Path:    "relay_config.json",
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Bucket:  "udprelay_routes",
				Key:     "routes",
				Timeout:      5 * time.Second,
				DrainTimeout: 5 * time.Second,
			},
		},
		Bootstrap: []relay.RawInput{
			{Name: "input_1", Port: 5001, Outputs: []string{}},
			{Name: "input_2", Port: 5002, Outputs: []string{}},
		},
	}
}

// Validate checks the configuration, including that the bootstrap inputs form
// a valid route table.
func (c *Config) Validate() error {
	if c.Admin.Enabled {
		if strings.TrimSpace(c.Admin.Listen) == "" {
			return invalid("admin.listen is required when admin is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Admin.Listen); err != nil {
			return invalid("admin.listen %q: %v", c.Admin.Listen, err)
		}
		if c.Admin.StatsInterval <= 0 {
			return invalid("admin.stats_interval must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return invalid("metrics.port %d out of range [1,65535]", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if c.Relay.Bind != "" && net.ParseIP(c.Relay.Bind) == nil {
		return invalid("relay.bind %q is not an IP address", c.Relay.Bind)
	}
	if c.Relay.MaxDatagramSize < 1 || c.Relay.MaxDatagramSize > relay.DefaultMaxDatagramSize {
		return invalid("relay.max_datagram_size %d out of range [1,%d]",
			c.Relay.MaxDatagramSize, relay.DefaultMaxDatagramSize)
	}
	if c.Relay.StopTimeout <= 0 {
		return invalid("relay.stop_timeout must be positive")
	}

	switch c.Store.Backend {
	case StoreBackendFile:
		if strings.TrimSpace(c.Store.Path) == "" {
			return invalid("store.path is required for the file backend")
		}
	case StoreBackendNATS:
		if strings.TrimSpace(c.Store.NATS.URL) == "" {
			return invalid("store.nats.url is required for the nats backend")
		}
		if c.Store.NATS.Bucket == "" || c.Store.NATS.Key == "" {
			return invalid("store.nats.bucket and store.nats.key are required")
		}
		if c.Store.NATS.DrainTimeout < 0 {
			return invalid("store.nats.drain_timeout must not be negative")
		}
	default:
		return invalid("store.backend %q must be %q or %q", c.Store.Backend, StoreBackendFile, StoreBackendNATS)
	}

	table, err := c.BootstrapTable()
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "bootstrap inputs")
	}
	if err := table.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "bootstrap inputs")
	}

	return nil
}

// BootstrapTable builds the route table used when nothing is persisted.
func (c *Config) BootstrapTable() (*relay.RouteTable, error) {
	return relay.BuildRouteTable(c.Bootstrap)
}

// String renders the configuration as JSON with credentials redacted.
func (c *Config) String() string {
	redacted := *c
	if redacted.Store.NATS.Password != "" {
		redacted.Store.NATS.Password = "[REDACTED]"
	}
	if redacted.Store.NATS.Token != "" {
		redacted.Store.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "configuration check")
}
