package natsclient

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/pkg/retry"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithTimeout bounds the initial connect and QoS 1 flushes.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

// WithDrainTimeout sets the timeout for draining on disconnect
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.drainTimeout = d
		}
		return nil
	}
}

// WithName sets the client name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithReconnectBackoff sets the delay curve between reconnect attempts after a
// connection loss. MaxAttempts is ignored; the client reconnects until closed.
func WithReconnectBackoff(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.reconnect = cfg
		return nil
	}
}

// WithCredentials sets username and password for authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithTLS secures the connection with cfg. A nil cfg leaves TLS off.
func WithTLS(cfg *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithToken sets a token for authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "bus")
		}
		return nil
	}
}

// WithMetrics records bus metrics in the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}

// WithRetainedBucket names the JetStream key-value bucket that holds retained
// messages. An empty name disables retention.
func WithRetainedBucket(bucket string) ClientOption {
	return func(c *Client) error {
		c.retainedBucket = bucket
		return nil
	}
}

// WithCircuitBreakerThreshold sets the number of failed connects before opening circuit
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = 5
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps how long an open circuit stays open
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			d = time.Minute
		}
		c.maxBackoff = d
		return nil
	}
}

// WithDispatchBuffer sets the per-topic mailbox capacity.
func WithDispatchBuffer(n int) ClientOption {
	return func(c *Client) error {
		if n > 0 {
			c.dispatchBuffer = n
		}
		return nil
	}
}

// WithHealthInterval sets how often connection health and RTT are sampled; 0 disables it.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// SubscribeOption configures a single subscription
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	retained bool
}

// WithRetained replays the topic's retained message, if any, when the
// subscription is applied.
func WithRetained() SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.retained = true
	}
}

// RequestsRetained reports whether opts ask for retained replay. Bus
// implementations other than Client use it to honour WithRetained.
func RequestsRetained(opts ...SubscribeOption) bool {
	return resolveSubscribeOptions(opts).retained
}

func resolveSubscribeOptions(opts []SubscribeOption) subscribeConfig {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
