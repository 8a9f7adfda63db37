package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/thermstream/errors"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. THERMSTREAM_PIPE_PATH.
const DefaultEnvPrefix = "THERMSTREAM"

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// Loader builds a Config from defaults, file layers and the environment, in
// that order. Later layers override only the keys they set.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. JSON or YAML is chosen by
// extension.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment prefix; an empty prefix disables
// environment overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers over the defaults and applies the environment.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
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

// loadRaw reads one layer into a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch formatOf(path) {
	case formatYAML:
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
	return raw, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return ""
	}
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if len(override) == 0 {
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

// deepMergeMaps recursively merges two maps, with override taking precedence
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

// envBinding maps one variable suffix onto a config field.
type envBinding struct {
	key   string
	apply func(cfg *Config, val string) error
}

var envBindings = []envBinding{
	{"TRANSPORT_KIND", func(c *Config, v string) error { c.Transport.Kind = strings.ToLower(v); return nil }},
	{"PIPE_PATH", func(c *Config, v string) error { c.Transport.Pipe.Path = v; return nil }},
	{"NATS_URL", func(c *Config, v string) error { c.Transport.NATS.URL = v; return nil }},
	{"NATS_SUBJECT", func(c *Config, v string) error { c.Transport.NATS.Subject = v; return nil }},
	{"NATS_USERNAME", func(c *Config, v string) error { c.Transport.NATS.Username = v; return nil }},
	{"NATS_PASSWORD", func(c *Config, v string) error { c.Transport.NATS.Password = v; return nil }},
	{"NATS_TOKEN", func(c *Config, v string) error { c.Transport.NATS.Token = v; return nil }},
	{"THRESHOLD_MIN", func(c *Config, v string) error { return setFloat(&c.Thresholds.Min, v) }},
	{"THRESHOLD_MAX", func(c *Config, v string) error { return setFloat(&c.Thresholds.Max, v) }},
	{"DELIVERY_BASE_URL", func(c *Config, v string) error { c.Delivery.BaseURL = v; return nil }},
	{"DELIVERY_RETRY_LIMIT", func(c *Config, v string) error { return setInt(&c.Delivery.RetryLimit, v) }},
	{"DELIVERY_RETRY_DELAY", func(c *Config, v string) error { return setDuration(&c.Delivery.RetryDelay, v) }},
	{"DELIVERY_MAX_BUFFERED", func(c *Config, v string) error { return setInt(&c.Delivery.MaxBuffered, v) }},
	{"STATUS_ENABLED", func(c *Config, v string) error { return setBool(&c.Status.Enabled, v) }},
	{"STATUS_ADDR", func(c *Config, v string) error { c.Status.Addr = v; return nil }},
	{"METRICS_ADDR", func(c *Config, v string) error { c.Metrics.Addr = v; return nil }},
	{"SENSOR_ID", func(c *Config, v string) error { c.Sensor.ID = v; return nil }},
	{"SENSOR_BUS", func(c *Config, v string) error { c.Sensor.Bus = strings.ToLower(v); return nil }},
	{"SENSOR_DEVICE", func(c *Config, v string) error { c.Sensor.Device = v; return nil }},
	{"SENSOR_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Sensor.Interval, v) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = strings.ToLower(v); return nil }},
	{"LOG_FILE", func(c *Config, v string) error { c.Log.File = v; return nil }},
}

// applyEnvOverrides applies PREFIX_* variables that are set and non-empty.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if l.envPrefix == "" {
		return nil
	}
	for _, b := range envBindings {
		key := l.envPrefix + "_" + b.key
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "Load", "environment")
		}
		if err := b.apply(cfg, val); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, key, err),
				"Loader", "Load", "environment")
		}
	}
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *Duration, v string) error {
	d, err := parseDuration(v)
	if err != nil {
		return err
	}
	*dst = Duration(d)
	return nil
}
