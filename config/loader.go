package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/udprelay/errors"
)

// DefaultEnvPrefix is the prefix for environment overrides
const DefaultEnvPrefix = "UDPRELAY"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers        []string
	validation    bool
	envPrefix     string
	allowMissing  bool
	loadedLayers  []string
	skippedLayers []string
}

// NewLoader creates a loader with validation on and missing files allowed
func NewLoader() *Loader {
	return &Loader{
		validation:   true,
		envPrefix:    DefaultEnvPrefix,
		allowMissing: true,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// AllowMissing controls whether a missing layer file is an error
func (l *Loader) AllowMissing(allow bool) {
	l.allowMissing = allow
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadedLayers returns the layer files applied by the last Load
func (l *Loader) LoadedLayers() []string {
	return append([]string(nil), l.loadedLayers...)
}

// SkippedLayers returns the missing layer files skipped by the last Load
func (l *Loader) SkippedLayers() []string {
	return append([]string(nil), l.skippedLayers...)
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = nil
	if path != "" {
		l.layers = []string{path}
	}
	return l.Load()
}

// Load applies defaults, each layer, then environment overrides, then validates
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	l.loadedLayers = nil
	l.skippedLayers = nil

	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			if l.allowMissing && stderrors.Is(err, fs.ErrNotExist) {
				l.skippedLayers = append(l.skippedLayers, path)
				continue
			}
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged, err := mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
		cfg = merged
		l.loadedLayers = append(l.loadedLayers, path)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads a JSON or YAML layer into a generic map, by file extension
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// durationFields lists section.field pairs holding time.Duration values
var durationFields = [][2]string{
	{"admin", "stats_interval"},
	{"relay", "stop_timeout"},
}

// parseDurations converts duration strings ("250ms", "2s") to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for _, f := range durationFields {
		section, ok := data[f[0]].(map[string]any)
		if !ok {
			continue
		}
		if err := convertDuration(section, f[0], f[1]); err != nil {
			return err
		}
	}

	if st, ok := data["store"].(map[string]any); ok {
		if nats, ok := st["nats"].(map[string]any); ok {
			for _, key := range []string{"timeout", "drain_timeout"} {
				if err := convertDuration(nats, "store.nats", key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func convertDuration(section map[string]any, sectionName, key string) error {
	s, ok := section[key].(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %v", errors.ErrInvalidConfig, sectionName, key, err)
	}
	section[key] = d.Nanoseconds()
	return nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// applyEnvOverrides applies PREFIX_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strVars := map[string]*string{
		"ADMIN_LISTEN":  &cfg.Admin.Listen,
		"METRICS_PATH":  &cfg.Metrics.Path,
		"RELAY_BIND":    &cfg.Relay.Bind,
		"STORE_BACKEND": &cfg.Store.Backend,
		"STORE_PATH":    &cfg.Store.Path,
		"NATS_URL":      &cfg.Store.NATS.URL,
		"NATS_BUCKET":   &cfg.Store.NATS.Bucket,
		"NATS_USERNAME": &cfg.Store.NATS.Username,
		"NATS_PASSWORD": &cfg.Store.NATS.Password,
		"NATS_TOKEN":    &cfg.Store.NATS.Token,
	}
	for suffix, target := range strVars {
		val, ok, err := l.lookupEnv(suffix)
		if err != nil {
			return err
		}
		if ok {
			*target = val
		}
	}

	intVars := map[string]*int{
		"METRICS_PORT":            &cfg.Metrics.Port,
		"RELAY_MAX_DATAGRAM_SIZE": &cfg.Relay.MaxDatagramSize,
	}
	for suffix, target := range intVars {
		val, ok, err := l.lookupEnv(suffix)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return l.envError(suffix, err)
		}
		*target = n
	}

	boolVars := map[string]*bool{
		"ADMIN_ENABLED":   &cfg.Admin.Enabled,
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
	}
	for suffix, target := range boolVars {
		val, ok, err := l.lookupEnv(suffix)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return l.envError(suffix, err)
		}
		*target = b
	}

	durationVars := map[string]*time.Duration{
		"RELAY_STOP_TIMEOUT":   &cfg.Relay.StopTimeout,
		"ADMIN_STATS_INTERVAL": &cfg.Admin.StatsInterval,
		"NATS_DRAIN_TIMEOUT":   &cfg.Store.NATS.DrainTimeout,
	}
	for suffix, target := range durationVars {
		val, ok, err := l.lookupEnv(suffix)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return l.envError(suffix, err)
		}
		*target = d
	}

	return nil
}

func (l *Loader) lookupEnv(suffix string) (string, bool, error) {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "environment validation")
	}
	return val, true, nil
}

func (l *Loader) envError(suffix string, err error) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, suffix, err),
		"Loader", "applyEnvOverrides", "environment parsing")
}
