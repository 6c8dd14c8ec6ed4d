package natsclient

import (
	"context"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/growctl/message"
	"github.com/c360/growctl/topic"
)

// openRetained binds the retained-message bucket, creating it if needed. Without
// JetStream the client still works; retain requests are then ignored.
func (c *Client) openRetained(ctx context.Context) {
	if c.retainedBucket == "" {
		return
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return
	}

	kvCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(kvCtx, jetstream.KeyValueConfig{
		Bucket:      c.retainedBucket,
		Description: "last retained message per topic",
		History:     1,
	})
	if err != nil {
		c.logger.Warn("retained messages disabled", "bucket", c.retainedBucket, "error", err)
		return
	}

	c.mu.Lock()
	c.kv = kv
	c.mu.Unlock()
	c.logger.Debug("retained message bucket ready", "bucket", c.retainedBucket)
}

func (c *Client) retainedKV() jetstream.KeyValue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kv
}

func (c *Client) storeRetained(ctx context.Context, t string, data []byte) {
	kv := c.retainedKV()
	if kv == nil {
		c.logger.Debug("retain requested but no retained bucket, ignoring", "topic", t)
		return
	}

	key := topic.ToSubject(t)
	var err error
	if len(data) == 0 {
		err = kv.Delete(ctx, key)
	} else {
		_, err = kv.Put(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("store retained message failed", "topic", t, "error", err)
	}
}

// replayRetained queues the stored retained message for s ahead of live
// traffic. Caller holds s.mu.
func (c *Client) replayRetained(s *subscription) {
	kv := c.retainedKV()
	if kv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	entry, err := kv.Get(ctx, s.subject)
	if err != nil {
		if !stderrors.Is(err, jetstream.ErrKeyNotFound) {
			c.logger.Warn("read retained message failed", "topic", s.topic, "error", err)
		}
		return
	}

	msg := message.New(s.topic, entry.Value())
	msg.Retained = true
	c.enqueue(s, msg)
	if c.metrics != nil {
		c.metrics.RecordRetainedReplay()
	}
	c.logger.Debug("retained message replayed", "topic", s.topic)
}
