// Package config loads the controller configuration: the broker to connect to,
// the monitors to run (message flows) and the metrics endpoint.
//
// Files are JSON, or YAML when the extension is .yaml or .yml. Layers are merged
// in order and GROWCTL_* environment variables override the result.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/topic"
)

// Defaults
const (
	DefaultBrokerHost     = "localhost"
	DefaultBrokerPort     = 4222
	DefaultBrokerTimeout  = 5 * time.Second
	DefaultRetainedBucket = "growctl_retained"
	DefaultMetricsPort    = 9090
)

// Config represents the complete controller configuration
type Config struct {
	Broker       BrokerConfig    `json:"broker" yaml:"broker"`
	MessageFlows []MonitorConfig `json:"message_flows" yaml:"message_flows"`
	Metrics      MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// BrokerConfig defines the broker connection
type BrokerConfig struct {
	Host           string    `json:"host" yaml:"host"`
	Port           int       `json:"port" yaml:"port"`
	Name           string    `json:"name,omitempty" yaml:"name,omitempty"`
	Timeout        Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetainedBucket string    `json:"retained_bucket,omitempty" yaml:"retained_bucket,omitempty"`
	Username       string    `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string    `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string    `json:"token,omitempty" yaml:"token,omitempty"`
	TLS            TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TLSConfig secures the broker connection. CAFiles are trusted in addition to
// the system pool; CertFile and KeyFile present a client certificate.
type TLSConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile            string   `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	ServerName         string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
}

// URL returns the NATS URL for host and port
func (b BrokerConfig) URL() string {
	scheme := "nats://"
	if b.TLS.Enabled {
		scheme = "tls://"
	}
	return scheme + net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// MetricsConfig defines the metrics endpoint; port 0 disables it
type MetricsConfig struct {
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// MonitorConfig describes one monitor instance. Input and output map role keys
// (such as "temperature_topic") to topics. It is read once and never mutated
// while the monitor runs.
type MonitorConfig struct {
	Name       string             `json:"name" yaml:"name"`
	Type       string             `json:"type" yaml:"type"`
	Input      map[string]string  `json:"input,omitempty" yaml:"input,omitempty"`
	Output     map[string]string  `json:"output,omitempty" yaml:"output,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// InputTopic returns the input topic for key, or def when unset.
func (m MonitorConfig) InputTopic(key, def string) string {
	if t, ok := m.Input[key]; ok && t != "" {
		return t
	}
	return def
}

// OutputTopic returns the output topic for key, or def when unset.
func (m MonitorConfig) OutputTopic(key, def string) string {
	if t, ok := m.Output[key]; ok && t != "" {
		return t
	}
	return def
}

// Threshold returns the named threshold and whether it was set.
func (m MonitorConfig) Threshold(key string) (float64, bool) {
	v, ok := m.Thresholds[key]
	return v, ok
}

// RequireInput returns the input topic for key or an invalid-config error.
func (m MonitorConfig) RequireInput(key string) (string, error) {
	return requireTopic(m.Name, "input", key, m.Input)
}

// RequireOutput returns the output topic for key or an invalid-config error.
func (m MonitorConfig) RequireOutput(key string) (string, error) {
	return requireTopic(m.Name, "output", key, m.Output)
}

// RequireThreshold returns the named threshold or an invalid-config error.
func (m MonitorConfig) RequireThreshold(key string) (float64, error) {
	v, ok := m.Thresholds[key]
	if !ok {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: monitor %q: thresholds.%s", errors.ErrMissingConfig, m.Name, key),
			"MonitorConfig", "RequireThreshold", "threshold lookup")
	}
	return v, nil
}

func requireTopic(monitor, section, key string, topics map[string]string) (string, error) {
	t, ok := topics[key]
	if !ok || t == "" {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: monitor %q: %s.%s", errors.ErrMissingConfig, monitor, section, key),
			"MonitorConfig", "Require", "topic lookup")
	}
	if err := topic.Validate(t); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks the fields every monitor needs. Type-specific keys are checked
// by the monitor's constructor.
func (m MonitorConfig) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: monitor name is required", errors.ErrInvalidConfig)
	}
	if strings.TrimSpace(m.Type) == "" {
		return fmt.Errorf("%w: monitor %q: type is required", errors.ErrInvalidConfig, m.Name)
	}
	for key, t := range m.Input {
		if err := topic.Validate(t); err != nil {
			return fmt.Errorf("monitor %q: input.%s: %w", m.Name, key, err)
		}
	}
	for key, t := range m.Output {
		if err := topic.Validate(t); err != nil {
			return fmt.Errorf("monitor %q: output.%s: %w", m.Name, key, err)
		}
	}
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: broker.host", errors.ErrMissingConfig),
			"Config", "Validate", "broker check")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("broker.port %d out of range", c.Broker.Port),
			"Config", "Validate", "broker check")
	}
	if c.Broker.Timeout.Duration() < 0 {
		return errors.WrapInvalid(fmt.Errorf("broker.timeout cannot be negative"),
			"Config", "Validate", "broker check")
	}
	if tlsCfg := c.Broker.TLS; tlsCfg.Enabled {
		if (tlsCfg.CertFile == "") != (tlsCfg.KeyFile == "") {
			return errors.WrapInvalid(fmt.Errorf("broker.tls: cert_file and key_file must be set together"),
				"Config", "Validate", "broker TLS check")
		}
		if v := tlsCfg.MinVersion; v != "" && v != "1.2" && v != "1.3" {
			return errors.WrapInvalid(fmt.Errorf("broker.tls.min_version %q: want 1.2 or 1.3", v),
				"Config", "Validate", "broker TLS check")
		}
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("metrics.port %d out of range", c.Metrics.Port),
			"Config", "Validate", "metrics check")
	}

	seen := make(map[string]bool, len(c.MessageFlows))
	for i, flow := range c.MessageFlows {
		if err := flow.Validate(); err != nil {
			return errors.WrapInvalid(fmt.Errorf("message_flows[%d]: %w", i, err),
				"Config", "Validate", "message flow check")
		}
		if seen[flow.Name] {
			return errors.WrapInvalid(fmt.Errorf("message_flows[%d]: duplicate monitor name %q", i, flow.Name),
				"Config", "Validate", "message flow check")
		}
		seen[flow.Name] = true
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.Broker.TLS.CAFiles = append([]string(nil), c.Broker.TLS.CAFiles...)
	clone.MessageFlows = make([]MonitorConfig, len(c.MessageFlows))
	for i, flow := range c.MessageFlows {
		clone.MessageFlows[i] = flow.clone()
	}
	return &clone
}

func (m MonitorConfig) clone() MonitorConfig {
	out := m
	out.Input = cloneMap(m.Input)
	out.Output = cloneMap(m.Output)
	out.Thresholds = cloneMap(m.Thresholds)
	return out
}

func cloneMap[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// String returns the configuration as JSON with credentials masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.Broker.Password, &masked.Broker.Token} {
		if *s != "" {
			*s = "****"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Duration is a time.Duration read from "5s"-style strings or from a number of
// seconds.
type Duration time.Duration

// Duration returns d as a time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1.5s" or 1.5
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML accepts "1.5s" or 1.5
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v * float64(time.Second))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}
