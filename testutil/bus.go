// Package testutil provides in-memory stand-ins for the bus and for monitors so
// monitor and supervisor tests run without a broker.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/natsclient"
)

// Published is one message recorded by MockBus.
type Published struct {
	Topic   string
	Payload []byte
	QoS     int
	Retain  bool
}

// MockBus is an in-memory bus. Handlers run synchronously on Deliver and on
// Publish to a subscribed topic, so tests observe results without waiting.
// Retained publishes are kept per topic and handed to later subscribers that
// ask for them with natsclient.WithRetained. Safe for concurrent use.
type MockBus struct {
	mu        sync.Mutex
	handlers  map[string]message.Handler
	published []Published
	retained  map[string][]byte
	failures  map[string]error
	closed    bool
}

// NewMockBus creates an empty bus.
func NewMockBus() *MockBus {
	return &MockBus{
		handlers: make(map[string]message.Handler),
		retained: make(map[string][]byte),
		failures: make(map[string]error),
	}
}

// Subscribe registers or replaces the handler for topic. With
// natsclient.WithRetained the topic's retained payload, if any, is delivered
// before Subscribe returns.
func (b *MockBus) Subscribe(topic string, handler message.Handler, opts ...natsclient.SubscribeOption) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.ErrNoConnection
	}
	if handler == nil {
		b.mu.Unlock()
		return fmt.Errorf("nil handler for %s", topic)
	}
	b.handlers[topic] = handler
	data, replay := b.retained[topic]
	b.mu.Unlock()

	if replay && natsclient.RequestsRetained(opts...) {
		msg := message.New(topic, data)
		msg.Retained = true
		handler(context.Background(), msg)
	}
	return nil
}

// Unsubscribe removes the handler for topic. Unknown topics are ignored.
func (b *MockBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.handlers, topic)
	b.mu.Unlock()
	return nil
}

// Publish records the message and hands it to the topic's handler, if any.
func (b *MockBus) Publish(ctx context.Context, topic string, payload any, qos int, retain bool) error {
	data, ok := payload.([]byte)
	if !ok {
		var err error
		if data, err = message.Encode(payload); err != nil {
			return &errors.PublishError{Topic: topic, Err: err}
		}
	}

	b.mu.Lock()
	if err, fail := b.failures[topic]; fail {
		b.mu.Unlock()
		return &errors.PublishError{Topic: topic, Err: err}
	}
	b.published = append(b.published, Published{Topic: topic, Payload: data, QoS: qos, Retain: retain})
	if retain {
		if len(data) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = data
		}
	}
	handler := b.handlers[topic]
	b.mu.Unlock()

	if handler != nil {
		handler(ctx, message.New(topic, data))
	}
	return nil
}

// Deliver hands payload to the handler for topic as if it arrived from the
// broker. It reports whether a handler was registered.
func (b *MockBus) Deliver(ctx context.Context, topic string, payload []byte) bool {
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(ctx, message.New(topic, payload))
	return true
}

// FailPublish makes every later Publish to topic fail with err. A nil err
// clears the failure.
func (b *MockBus) FailPublish(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, topic)
		return
	}
	b.failures[topic] = err
}

// Close makes later Subscribe calls fail.
func (b *MockBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Subscribed reports whether topic has a handler.
func (b *MockBus) Subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

// Topics returns the subscribed topics, sorted.
func (b *MockBus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Messages returns every recorded publish in order.
func (b *MockBus) Messages() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// MessagesOn returns the recorded publishes to topic in order.
func (b *MockBus) MessagesOn(topic string) []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Published
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Retained returns the retained payload for topic.
func (b *MockBus) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.retained[topic]
	return data, ok
}

// Reset forgets recorded publishes. Retained payloads are kept.
func (b *MockBus) Reset() {
	b.mu.Lock()
	b.published = nil
	b.mu.Unlock()
}
