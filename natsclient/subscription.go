package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/topic"
)

// subscription is one registry entry. Its mailbox and dispatcher live from
// Subscribe until Unsubscribe or Disconnect; the NATS subscription comes and
// goes with the connection.
type subscription struct {
	topic    string
	subject  string
	mailbox  chan message.Message
	done     chan struct{}
	removed  atomic.Bool
	stopOnce sync.Once

	mu       sync.Mutex
	handler  message.Handler
	retained bool
	sub      *nats.Subscription
}

func (s *subscription) currentHandler() message.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// stop detaches the entry from the transport and ends its dispatcher.
func (s *subscription) stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.removed.Store(true)
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sub != nil {
			if uerr := s.sub.Unsubscribe(); uerr != nil &&
				!stderrors.Is(uerr, nats.ErrConnectionClosed) && !stderrors.Is(uerr, nats.ErrBadSubscription) {
				err = uerr
			}
			s.sub = nil
		}
	})
	return err
}

// Subscribe registers handler for t, replacing any earlier handler. The
// subscription reaches the broker now if connected, otherwise on the next
// successful connect. Transport failures are logged and retried on the next
// connect; only an unusable topic or a disconnected client is an error.
func (c *Client) Subscribe(t string, handler message.Handler, opts ...SubscribeOption) error {
	if err := topic.Validate(t); err != nil {
		return err
	}
	if handler == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handler for %s", t), "Client", "Subscribe", "validate handler")
	}
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Client", "Subscribe", "client disconnected")
	}

	cfg := resolveSubscribeOptions(opts)

	c.subsMu.Lock()
	if s, ok := c.subs[t]; ok {
		s.mu.Lock()
		s.handler = handler
		s.retained = cfg.retained
		s.mu.Unlock()
		c.subsMu.Unlock()
		c.logger.Debug("subscription handler replaced", "topic", t)
		return nil
	}

	s := &subscription{
		topic:    t,
		subject:  topic.ToSubject(t),
		mailbox:  make(chan message.Message, c.dispatchBuffer),
		done:     make(chan struct{}),
		handler:  handler,
		retained: cfg.retained,
	}
	c.subs[t] = s
	count := len(c.subs)
	c.dispatchWg.Add(1)
	c.subsMu.Unlock()

	go c.dispatch(s)

	if c.metrics != nil {
		c.metrics.RecordSubscriptions(count)
	}

	if c.IsHealthy() {
		c.apply(s)
	} else {
		c.logger.Debug("subscription queued until connected", "topic", t)
	}
	return nil
}

// Unsubscribe removes the handler and the transport subscription for t.
// Unknown topics are ignored.
func (c *Client) Unsubscribe(t string) error {
	c.subsMu.Lock()
	s, ok := c.subs[t]
	if ok {
		delete(c.subs, t)
	}
	count := len(c.subs)
	c.subsMu.Unlock()

	if !ok {
		return nil
	}
	if c.metrics != nil {
		c.metrics.RecordSubscriptions(count)
	}

	if err := s.stop(); err != nil {
		c.logger.Warn("unsubscribe failed", "topic", t, "error", err)
	}
	c.logger.Debug("unsubscribed", "topic", t)
	return nil
}

// applyAll brings every registry entry that has no transport subscription to
// the broker.
func (c *Client) applyAll() {
	c.subsMu.Lock()
	pending := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		pending = append(pending, s)
	}
	c.subsMu.Unlock()

	for _, s := range pending {
		c.apply(s)
	}
}

func (c *Client) apply(s *subscription) {
	conn := c.connection()
	if conn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil || s.removed.Load() {
		return
	}

	if s.retained && topic.IsExact(s.topic) {
		c.replayRetained(s)
	}

	sub, err := conn.Subscribe(s.subject, func(m *nats.Msg) {
		c.enqueue(s, message.New(topic.FromSubject(m.Subject), m.Data))
	})
	if err != nil {
		c.logger.Warn("subscribe failed, will retry on reconnect",
			"topic", s.topic, "error", errors.WrapTransient(err, "Client", "apply", "subscribe"))
		return
	}
	s.sub = sub
	c.logger.Debug("subscribed", "topic", s.topic, "subject", s.subject)
}

// enqueue runs on the NATS delivery goroutine and never blocks it.
func (c *Client) enqueue(s *subscription, msg message.Message) {
	if s.removed.Load() {
		return
	}
	select {
	case s.mailbox <- msg:
	default:
		dropped := c.dropped.Add(1)
		if c.metrics != nil {
			c.metrics.RecordMessageDropped(s.topic)
		}
		// A stalled handler drops every message; log a sample
		if c.dropLog.Allow() {
			c.logger.Warn("topic mailbox full, message dropped", "topic", s.topic, "dropped_total", dropped)
		}
	}
}

func (c *Client) dispatch(s *subscription) {
	defer c.dispatchWg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.mailbox:
			if s.removed.Load() {
				return
			}
			c.invoke(s, msg)
		}
	}
}

func (c *Client) invoke(s *subscription, msg message.Message) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("topic handler panicked", "topic", msg.Topic, "panic", r)
		}
		if c.metrics != nil {
			c.metrics.RecordMessageReceived(s.topic)
			c.metrics.RecordHandlerDuration(s.topic, time.Since(start))
		}
	}()

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.currentHandler()(ctx, msg)
}
