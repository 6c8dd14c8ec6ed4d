package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/growctl/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "GROWCTL"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer in order, then environment overrides.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("load %s: %w", path, err), "Loader", "Load", "read layer")
		}
		merged = deepMergeMaps(merged, raw)
	}

	if l.validation {
		if err := validateSchema(merged); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "schema check")
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Defaults returns the configuration used when no file sets a field.
func Defaults() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           DefaultBrokerHost,
			Port:           DefaultBrokerPort,
			Timeout:        Duration(DefaultBrokerTimeout),
			RetainedBucket: DefaultRetainedBucket,
		},
		Metrics: MetricsConfig{
			Port: DefaultMetricsPort,
			Path: "/metrics",
		},
	}
}

// loadRaw reads one layer as a generic map so that only the keys it sets
// override earlier layers.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
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

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
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

// applyEnvOverrides applies GROWCTL_* variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
		}
		*dst = val
		return nil
	}
	num := func(name string, dst *int) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_%s: %w", l.envPrefix, name, err),
				"Loader", "applyEnvOverrides", "parse integer")
		}
		*dst = n
		return nil
	}

	var timeout string
	for _, apply := range []func() error{
		func() error { return str("BROKER_HOST", &cfg.Broker.Host) },
		func() error { return num("BROKER_PORT", &cfg.Broker.Port) },
		func() error { return str("BROKER_NAME", &cfg.Broker.Name) },
		func() error { return str("BROKER_USERNAME", &cfg.Broker.Username) },
		func() error { return str("BROKER_PASSWORD", &cfg.Broker.Password) },
		func() error { return str("BROKER_TOKEN", &cfg.Broker.Token) },
		func() error { return str("BROKER_RETAINED_BUCKET", &cfg.Broker.RetainedBucket) },
		func() error { return str("BROKER_TIMEOUT", &timeout) },
		func() error { return num("METRICS_PORT", &cfg.Metrics.Port) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}

	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_BROKER_TIMEOUT: %w", l.envPrefix, err),
				"Loader", "applyEnvOverrides", "parse duration")
		}
		cfg.Broker.Timeout = Duration(d)
	}
	return nil
}
