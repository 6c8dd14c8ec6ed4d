// Package natsclient is the message bus: a NATS connection with a circuit
// breaker on connect, a topic subscription registry that survives reconnects,
// per-topic ordered dispatch, and retained messages kept in a JetStream
// key-value bucket.
//
// Topics are MQTT-style ("sensors/temperature"); the client maps them to NATS
// subjects with the topic package.
package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/pkg/retry"
	"github.com/c360/growctl/topic"
)

// ConnectionStatus represents the state of the broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Delivery guarantees accepted by Publish
const (
	QoSAtMostOnce  = 0
	QoSAtLeastOnce = 1
)

// DefaultRetainedBucket holds retained messages unless WithRetainedBucket says otherwise.
const DefaultRetainedBucket = "growctl_retained"

// Status holds runtime status information for health reporting
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      uint64
	RTT             time.Duration
	Subscriptions   int
	Retained        bool
}

// Client is the message bus
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	metrics *metric.Metrics

	conn *nats.Conn
	js   jetstream.JetStream
	kv   jetstream.KeyValue
	mu   sync.RWMutex

	// Subscription registry, topic -> subscription
	subs   map[string]*subscription
	subsMu sync.Mutex

	// Handler context, cancelled by Disconnect
	ctx        context.Context
	cancel     context.CancelFunc
	dispatchWg sync.WaitGroup

	// Circuit breaker on Connect
	failures         atomic.Int32
	circuitFailures  atomic.Int32
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	timeout        time.Duration
	drainTimeout   time.Duration
	reconnect      retry.Config
	dispatchBuffer int
	retainedBucket string
	healthInterval time.Duration
	clientName     string

	tlsConfig *tls.Config

	// Authentication, cleared on disconnect
	username string
	password string
	token    string

	healthDone chan struct{}

	dropped atomic.Int64
	dropLog *rate.Limiter

	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a bus client for url. Nothing is dialled until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "bus"),
		subs:             make(map[string]*subscription),
		ctx:              ctx,
		cancel:           cancel,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
		reconnect:        retry.Reconnect(),
		dispatchBuffer:   64,
		retainedBucket:   DefaultRetainedBucket,
		healthInterval:   10 * time.Second,
		clientName:       "growctl-" + uuid.NewString()[:8],
		dropLog:          rate.NewLimiter(rate.Every(time.Second), 1),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			cancel()
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	return c, nil
}

// Dropped returns how many inbound messages were lost to full mailboxes.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// URL returns the broker URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	if c.metrics != nil {
		c.metrics.RecordBusConnected(status == StatusConnected)
		c.metrics.RecordCircuitBreaker(status == StatusCircuitOpen)
	}
}

// IsHealthy returns true if the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the failed connect count since the last success
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns how long the next circuit opening will last
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

func (c *Client) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// recordFailure records a failed connect and opens the circuit after
// circuitThreshold failures in a row.
func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	c.lastFailure.Store(time.Now())
	inRound := c.circuitFailures.Add(1)

	c.logger.Debug("connect failure recorded", "failures", total, "circuit_failures", inRound)

	if inRound < c.circuitThreshold {
		return
	}

	current := c.Status()
	openFor := c.backoff.Load().(time.Duration)
	next := openFor * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(next)
	c.circuitFailures.Store(0)

	if current == StatusCircuitOpen {
		c.logger.Warn("circuit breaker still open", "next_backoff", next)
		return
	}
	if c.status.CompareAndSwap(current, StatusCircuitOpen) {
		if c.metrics != nil {
			c.metrics.RecordCircuitBreaker(true)
		}
		c.logger.Warn("circuit breaker opened", "failures", inRound, "open_for", openFor)
		time.AfterFunc(openFor, c.halfOpen)
	}
}

// halfOpen lets the next Connect through after the circuit backoff.
func (c *Client) halfOpen() {
	if c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		if c.metrics != nil {
			c.metrics.RecordCircuitBreaker(false)
		}
		c.logger.Debug("circuit breaker half-open, next connect allowed")
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})
}

// WaitForConnection waits for the connection to be established
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(
				fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err()),
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(c.reconnectDelay),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}

	return opts
}

// reconnectDelay is the wait before reconnect attempt number attempts.
func (c *Client) reconnectDelay(attempts int) time.Duration {
	d := c.reconnect.JitteredDelay(attempts)
	c.logger.Debug("scheduling reconnect", "attempt", attempts, "delay", d)
	return d
}

type connectResult struct {
	conn *nats.Conn
	err  error
}

// Connect dials the broker. It fails with a ConnectionError when the server is
// unreachable within the client timeout or ctx, or while the circuit is open.
// On success every registered subscription is applied.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Client", "Connect", "client disconnected")
	}
	if c.Status() == StatusCircuitOpen {
		return &errors.ConnectionError{URL: c.url, Err: errors.ErrCircuitOpen}
	}
	if c.IsHealthy() {
		return nil
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to broker", "url", c.url)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := c.buildConnectionOptions()
	done := make(chan connectResult, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- connectResult{conn: conn, err: err}
	}()

	var conn *nats.Conn
	select {
	case res := <-done:
		if res.err != nil {
			return c.connectFailed(res.err)
		}
		conn = res.conn
	case <-dialCtx.Done():
		// A dial that completes after we gave up must not leak.
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return c.connectFailed(fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, dialCtx.Err()))
	}

	js, err := jetstream.New(conn)
	if err != nil {
		c.logger.Warn("jetstream unavailable", "error", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("connected to broker", "url", conn.ConnectedUrlRedacted(), "name", c.clientName)

	c.openRetained(ctx)
	c.applyAll()

	if c.healthInterval > 0 {
		c.startHealthMonitoring()
	}

	return nil
}

func (c *Client) connectFailed(err error) error {
	c.recordFailure()
	if c.Status() != StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
	c.logger.Error("broker connection failed", "url", c.url, "error", err)
	return &errors.ConnectionError{URL: c.url, Err: err}
}

// Publish encodes payload as JSON and sends it on t. A []byte payload is sent
// as is. QoS 0 returns once the message is buffered; QoS 1 or higher flushes
// so the server has received it. retain also stores the payload as the topic's
// retained message; an empty payload clears it.
func (c *Client) Publish(ctx context.Context, t string, payload any, qos int, retain bool) error {
	if err := topic.Validate(t); err != nil {
		return &errors.PublishError{Topic: t, Err: err}
	}
	if !topic.IsExact(t) {
		return &errors.PublishError{Topic: t, Err: fmt.Errorf("%w: wildcard publish", errors.ErrInvalidData)}
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	default:
		encoded, err := message.Encode(p)
		if err != nil {
			return &errors.PublishError{Topic: t, Err: err}
		}
		data = encoded
	}

	conn := c.connection()
	if conn == nil || conn.IsClosed() {
		c.publishFailed(t)
		return &errors.PublishError{Topic: t, Err: errors.ErrNoConnection}
	}

	subject := topic.ToSubject(t)
	if err := conn.Publish(subject, data); err != nil {
		c.publishFailed(t)
		return &errors.PublishError{Topic: t, Err: err}
	}

	if qos >= QoSAtLeastOnce {
		flushCtx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			flushCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		if err := conn.FlushWithContext(flushCtx); err != nil {
			c.publishFailed(t)
			return &errors.PublishError{Topic: t, Err: err}
		}
	}

	if retain {
		c.storeRetained(ctx, t, data)
	}

	if c.metrics != nil {
		c.metrics.RecordMessagePublished(t)
	}
	return nil
}

func (c *Client) publishFailed(t string) {
	if c.metrics != nil {
		c.metrics.RecordPublishFailure(t)
	}
}

// Topics returns the registered subscription topics in order.
func (c *Client) Topics() []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// RTT returns the round-trip time to the broker
func (c *Client) RTT() (time.Duration, error) {
	conn := c.connection()
	if conn == nil || !conn.IsConnected() {
		return 0, errors.ErrNoConnection
	}
	return conn.RTT()
}

// GetStatus returns current status information
func (c *Client) GetStatus() *Status {
	st := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
	}

	c.subsMu.Lock()
	st.Subscriptions = len(c.subs)
	c.subsMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	st.Retained = c.kv != nil
	c.mu.RUnlock()

	if conn != nil {
		st.Reconnects = conn.Stats().Reconnects
		if conn.IsConnected() {
			if rtt, err := conn.RTT(); err == nil {
				st.RTT = rtt
			}
		}
	}
	return st
}

// Disconnect stops every dispatcher and drains the connection. Calling it again
// is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.stopHealthMonitoring()

	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.subsMu.Unlock()
	for _, s := range subs {
		s.stop()
	}
	c.cancel()
	if c.metrics != nil {
		c.metrics.RecordSubscriptions(0)
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.kv = nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	var drainErr error
	if conn != nil {
		drainErr = c.drain(ctx, conn)
		conn.Close()
	}

	dispatchDone := make(chan struct{})
	go func() {
		c.dispatchWg.Wait()
		close(dispatchDone)
	}()
	select {
	case <-dispatchDone:
	case <-ctx.Done():
		c.logger.Warn("handlers still running at disconnect")
	}

	c.setStatus(StatusDisconnected)
	c.logger.Info("disconnected from broker")
	return drainErr
}

func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	timeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	drained := make(chan struct{})
	conn.SetClosedHandler(func(nc *nats.Conn) {
		c.handleClosed(nc)
		close(drained)
	})

	if err := conn.Drain(); err != nil {
		if stderrors.Is(err, nats.ErrConnectionClosed) {
			return nil
		}
		return errors.Wrap(err, "Client", "Disconnect", "drain connection")
	}

	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout),
			"Client", "Disconnect", "drain timeout")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Disconnect", "context cancelled during drain")
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Warn("broker connection lost, reconnecting", "error", err)
	} else {
		c.logger.Warn("broker connection lost, reconnecting")
	}
}

func (c *Client) handleReconnect(nc *nats.Conn) {
	c.setStatus(StatusConnected)
	if c.metrics != nil {
		c.metrics.RecordBusReconnect()
	}
	c.logger.Info("reconnected to broker", "url", nc.ConnectedUrlRedacted())

	// The NATS client restores live subscriptions itself; only those that
	// never reached the server need applying.
	c.applyAll()
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.logger.Debug("broker connection closed")
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("broker async error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("broker async error", "error", err)
}

func (c *Client) startHealthMonitoring() {
	c.mu.Lock()
	if c.healthDone != nil {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.healthDone = done
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rtt, err := c.RTT()
				if err != nil {
					c.logger.Debug("health check: broker not reachable", "status", c.Status().String())
					continue
				}
				if c.metrics != nil {
					c.metrics.RecordBusRTT(rtt)
				}
			}
		}
	}()
}

func (c *Client) stopHealthMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}
