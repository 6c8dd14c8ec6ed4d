// Package monitor defines the unit of work the supervisor runs: a Monitor owns
// a set of input topics, derives state from what arrives on them and publishes
// results back onto the bus.
//
// Concrete variants embed Base for the subscribe/block/unsubscribe lifecycle and
// register a Factory with a Registry under their type string.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/growctl/health"
	"github.com/c360/growctl/message"
	"github.com/c360/growctl/metric"
	"github.com/c360/growctl/natsclient"
)

// Monitor is a running unit that subscribes to input topics, maintains derived
// state, and publishes outputs or commands.
//
// Start blocks until Stop is called or ctx is done. Start on a running monitor
// returns errors.ErrAlreadyStarted and Stop on a stopped one returns
// errors.ErrAlreadyStopped; both are informational.
type Monitor interface {
	Name() string
	Type() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// Subscriber is implemented by monitors that can list their input topics
// before Start. Base implements it.
type Subscriber interface {
	Topics() []string
}

var _ Subscriber = (*Base)(nil)

// Bus is the part of the message bus a monitor uses. *natsclient.Client
// implements it.
type Bus interface {
	Subscribe(topic string, handler message.Handler, opts ...natsclient.SubscribeOption) error
	Unsubscribe(topic string) error
	Publish(ctx context.Context, topic string, payload any, qos int, retain bool) error
}

var _ Bus = (*natsclient.Client)(nil)

// Dependencies are handed to every Factory.
type Dependencies struct {
	Bus     Bus
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// logger returns the configured logger or the default one
func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
